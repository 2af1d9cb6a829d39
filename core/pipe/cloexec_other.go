//go:build unix && !linux

package pipe

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// Without pipe2 the fork lock keeps concurrent forks from inheriting the
// ends before they are marked close-on-exec.
func makeCloexec() (int, int, error) {
	var p [2]int
	syscall.ForkLock.RLock()
	defer syscall.ForkLock.RUnlock()
	if err := unix.Pipe(p[:]); err != nil {
		return -1, -1, err
	}
	unix.CloseOnExec(p[0])
	unix.CloseOnExec(p[1])
	return p[0], p[1], nil
}
