//go:build !unix

package status

import "syscall"

func (s ExitStatus) Signal() (syscall.Signal, bool) { return 0, false }
