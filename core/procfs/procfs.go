//go:build unix

// Package procfs inspects descriptors and process state. It backs leak
// checks in tests and the CLI's fds command; the spawn path never uses it.
package procfs

import (
	"errors"

	"golang.org/x/sys/unix"
)

// IsOpen reports whether fd is a valid descriptor in this process.
func IsOpen(fd int) bool {
	_, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	return err == nil
}

// Alive reports whether pid names a process that has not yet exited. A
// zombie counts as exited.
func Alive(pid int) bool {
	state, err := ProcessState(pid)
	if err == nil {
		return state != 'Z' && state != 'X'
	}
	if !errors.Is(err, errUnsupported) {
		return false
	}
	return unix.Kill(pid, 0) == nil
}

var errUnsupported = errors.New("process state unavailable on this platform")
