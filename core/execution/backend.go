package execution

import (
	"syscall"

	"procwire/core/status"
)

// Backend is implemented by every process-creation adapter: the POSIX
// backend, and fakes used for injection in tests. Exactly one backend is
// active per process; see package backend.
type Backend interface {
	Name() string
	// Spawn starts the process described by spec. On error nothing is left
	// running and every descriptor opened for the spawn is closed.
	Spawn(spec SpawnSpec) (*Spawned, error)
	// Wait reaps the process. With a zero Timeout it blocks; otherwise the
	// timeout escalation policy applies.
	Wait(s *Spawned, opts WaitOptions) (status.ExitStatus, error)
	// TryWait reaps the process if it has exited; done is false otherwise.
	TryWait(s *Spawned) (st status.ExitStatus, done bool, err error)
	Terminate(s *Spawned) error
	Kill(s *Spawned) error
	Signal(s *Spawned, sig syscall.Signal) error
}
