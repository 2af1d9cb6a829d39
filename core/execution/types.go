package execution

import (
	"sync"
	"sync/atomic"

	"procwire/core/pipe"
	"procwire/core/status"
	"procwire/core/stdio"
	"procwire/core/waitpolicy"
)

// SpawnOptions are the per-command spawn flags.
type SpawnOptions struct {
	NewProcessGroup       bool
	MergeStderrIntoStdout bool
}

// SpawnSpec is a fully resolved, backend-agnostic description of one spawn.
// All three stdio actions are always set.
type SpawnSpec struct {
	Argv    []string
	Dir     string
	Env     []string
	Stdin   stdio.Action
	Stdout  stdio.Action
	Stderr  stdio.Action
	Options SpawnOptions
	// ProcessGroup pins the child to an existing group. Zero means none.
	ProcessGroup int
}

// Spawned is the record of a live process. The parent-side pipe ends stay
// here until a handle takes them.
type Spawned struct {
	PID int
	// PGID is the group the child was placed in, zero when none was requested.
	PGID            int
	NewProcessGroup bool

	Stdin  *pipe.Writer
	Stdout *pipe.Reader
	Stderr *pipe.Reader

	reapMu sync.Mutex
	reaped atomic.Pointer[status.ExitStatus]
}

// Reaped returns the cached status once the process has been waited for.
func (s *Spawned) Reaped() (status.ExitStatus, bool) {
	if st := s.reaped.Load(); st != nil {
		return *st, true
	}
	return status.ExitStatus{}, false
}

// MarkReaped records the final status. Backends call it exactly once.
func (s *Spawned) MarkReaped(st status.ExitStatus) {
	s.reaped.Store(&st)
}

// Reap runs fn with reaping of s serialized, unless a status is already
// cached. A done result from fn is cached. With block false, a reap already
// in progress on another goroutine is reported as not done rather than
// waited for.
func (s *Spawned) Reap(block bool, fn func() (status.ExitStatus, bool, error)) (status.ExitStatus, bool, error) {
	if block {
		s.reapMu.Lock()
	} else if !s.reapMu.TryLock() {
		st, ok := s.Reaped()
		return st, ok, nil
	}
	defer s.reapMu.Unlock()
	if st, ok := s.Reaped(); ok {
		return st, true, nil
	}
	st, done, err := fn()
	if err != nil || !done {
		return status.ExitStatus{}, false, err
	}
	s.MarkReaped(st)
	return st, true, nil
}

// SignalTarget is the pid passed to kill(2): the negated group id when this
// process leads its own group, the pid otherwise.
func (s *Spawned) SignalTarget() int {
	if s.NewProcessGroup && s.PGID > 0 {
		return -s.PGID
	}
	return s.PID
}

// ClosePipes releases any parent pipe ends nobody took.
func (s *Spawned) ClosePipes() {
	if s.Stdin != nil {
		_ = s.Stdin.Close()
		s.Stdin = nil
	}
	if s.Stdout != nil {
		_ = s.Stdout.Close()
		s.Stdout = nil
	}
	if s.Stderr != nil {
		_ = s.Stderr.Close()
		s.Stderr = nil
	}
}

// WaitOptions bound a wait; a zero Timeout blocks until exit. A zero
// KillGrace uses the backend's configured default.
type WaitOptions = waitpolicy.Options
