//go:build unix && !linux

package procfs

import "golang.org/x/sys/unix"

// OpenFDs probes every descriptor below the soft RLIMIT_NOFILE.
func OpenFDs() ([]int, error) {
	var lim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &lim); err != nil {
		return nil, err
	}
	limit := int(lim.Cur)
	if limit > 1<<16 {
		limit = 1 << 16
	}
	var fds []int
	for fd := 0; fd < limit; fd++ {
		if IsOpen(fd) {
			fds = append(fds, fd)
		}
	}
	return fds, nil
}

func ProcessState(pid int) (byte, error) { return 0, errUnsupported }

func ProcessStartTime(pid int) (uint64, error) { return 0, errUnsupported }
