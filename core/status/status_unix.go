//go:build unix

package status

import "syscall"

// FromWaitStatus decodes a raw wait status.
func FromWaitStatus(ws syscall.WaitStatus) ExitStatus {
	if ws.Exited() {
		return Exited(ws.ExitStatus(), uint32(ws))
	}
	return Other(uint32(ws))
}

// Signal returns the signal that terminated the process.
func (s ExitStatus) Signal() (syscall.Signal, bool) {
	ws := syscall.WaitStatus(s.native)
	if s.kind == KindExited || !ws.Signaled() {
		return 0, false
	}
	return ws.Signal(), true
}

// WaitStatus returns the raw wait status.
func (s ExitStatus) WaitStatus() syscall.WaitStatus {
	return syscall.WaitStatus(s.native)
}
