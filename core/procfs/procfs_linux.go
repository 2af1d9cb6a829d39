package procfs

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

// OpenFDs lists the descriptors open in this process, sorted.
func OpenFDs() ([]int, error) {
	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		return nil, err
	}
	fds := make([]int, 0, len(entries))
	for _, entry := range entries {
		fd, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		// The directory handle used for the listing is closed by now.
		if IsOpen(fd) {
			fds = append(fds, fd)
		}
	}
	sort.Ints(fds)
	return fds, nil
}

// ProcessState returns the single-letter state from /proc/<pid>/stat
// (R, S, D, Z, ...).
func ProcessState(pid int) (byte, error) {
	fields, err := statFields(pid)
	if err != nil {
		return 0, err
	}
	if len(fields[0]) == 0 {
		return 0, fmt.Errorf("empty state field")
	}
	return fields[0][0], nil
}

// ProcessStartTime returns the kernel start time (in clock ticks since boot)
// for pid. Together with the pid it identifies a process across pid reuse.
func ProcessStartTime(pid int) (uint64, error) {
	fields, err := statFields(pid)
	if err != nil {
		return 0, err
	}
	// starttime is the 22nd field overall, index 19 after the comm field.
	if len(fields) < 20 {
		return 0, fmt.Errorf("short stat payload")
	}
	return strconv.ParseUint(fields[19], 10, 64)
}

// statFields returns the fields after "pid (comm) ", whose comm may contain spaces.
func statFields(pid int) ([]string, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return nil, err
	}
	payload := string(data)
	idx := strings.LastIndex(payload, ") ")
	if idx == -1 {
		return nil, fmt.Errorf("invalid stat format")
	}
	fields := strings.Fields(payload[idx+2:])
	if len(fields) == 0 {
		return nil, fmt.Errorf("short stat payload")
	}
	return fields, nil
}
