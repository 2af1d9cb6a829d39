// Package fake provides a scriptable in-memory backend for orchestration
// tests. It never creates processes.
package fake

import (
	"fmt"
	"sync"
	"syscall"
	"time"

	"procwire/core/execution"
	"procwire/core/procerr"
	"procwire/core/status"
)

// FirstPID is the pid given to the first spawned process.
const FirstPID = 101

// Backend records every call and answers from its configuration.
type Backend struct {
	mu sync.Mutex

	// SpawnErrs fails the spawn with the same call index (0-based).
	SpawnErrs map[int]error
	// Statuses is returned by Wait per pid; DefaultStatus otherwise.
	Statuses      map[int]status.ExitStatus
	DefaultStatus status.ExitStatus
	// Running keeps TryWait reporting not-done for a pid until Kill or
	// Terminate reaches it.
	Running      map[int]bool
	WaitErr      error
	TerminateErr error
	KillErr      error
	SignalErr    error
	// KillGrace is reported through DefaultKillGrace when set.
	KillGrace time.Duration

	spawns []execution.SpawnSpec
	calls  []string
	groups map[int]int
	next   int
}

func New() *Backend {
	return &Backend{
		Statuses:      map[int]status.ExitStatus{},
		Running:       map[int]bool{},
		DefaultStatus: status.Exited(0, 0),
		groups:        map[int]int{},
	}
}

func (b *Backend) Name() string { return "fake" }

func (b *Backend) record(format string, args ...any) {
	b.calls = append(b.calls, fmt.Sprintf(format, args...))
}

func (b *Backend) Spawn(spec execution.SpawnSpec) (*execution.Spawned, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx := len(b.spawns)
	b.spawns = append(b.spawns, spec)
	b.record("spawn")
	if len(spec.Argv) == 0 || spec.Argv[0] == "" {
		return nil, procerr.New(procerr.CodeEmptyArgv, "spawn")
	}
	if err := b.SpawnErrs[idx]; err != nil {
		return nil, err
	}
	if b.next == 0 {
		b.next = FirstPID
	}
	pid := b.next
	b.next++
	sp := &execution.Spawned{PID: pid, NewProcessGroup: spec.Options.NewProcessGroup}
	switch {
	case spec.Options.NewProcessGroup:
		sp.PGID = pid
	case spec.ProcessGroup > 0:
		sp.PGID = spec.ProcessGroup
	}
	if b.groups == nil {
		b.groups = map[int]int{}
	}
	b.groups[pid] = sp.PGID
	return sp, nil
}

func (b *Backend) statusFor(pid int) status.ExitStatus {
	if st, ok := b.Statuses[pid]; ok {
		return st
	}
	return b.DefaultStatus
}

func (b *Backend) Wait(s *execution.Spawned, opts execution.WaitOptions) (status.ExitStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("wait:%d", s.PID)
	if st, ok := s.Reaped(); ok {
		return st, nil
	}
	if b.WaitErr != nil {
		return status.ExitStatus{}, b.WaitErr
	}
	if opts.Timeout > 0 && b.Running[s.PID] {
		return status.ExitStatus{}, procerr.New(procerr.CodeTimeout, "wait")
	}
	st := b.statusFor(s.PID)
	s.MarkReaped(st)
	return st, nil
}

func (b *Backend) TryWait(s *execution.Spawned) (status.ExitStatus, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("trywait:%d", s.PID)
	if st, ok := s.Reaped(); ok {
		return st, true, nil
	}
	if b.Running[s.PID] {
		return status.ExitStatus{}, false, nil
	}
	st := b.statusFor(s.PID)
	s.MarkReaped(st)
	return st, true, nil
}

func (b *Backend) Terminate(s *execution.Spawned) error {
	return b.deliver("terminate", s, b.TerminateErr, syscall.SIGTERM)
}

func (b *Backend) Kill(s *execution.Spawned) error {
	return b.deliver("kill", s, b.KillErr, syscall.SIGKILL)
}

func (b *Backend) Signal(s *execution.Spawned, sig syscall.Signal) error {
	return b.deliver(fmt.Sprintf("signal(%d)", int(sig)), s, b.SignalErr, sig)
}

// deliver records the signal and stops the target. Group targets stop every
// spawned process in the group.
func (b *Backend) deliver(name string, s *execution.Spawned, fail error, sig syscall.Signal) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("%s:%d", name, s.SignalTarget())
	if fail != nil {
		return fail
	}
	target := s.SignalTarget()
	for pid, pgid := range b.groups {
		if pid == target || (target < 0 && pgid == -target) {
			b.stop(pid, sig)
		}
	}
	return nil
}

func (b *Backend) stop(pid int, sig syscall.Signal) {
	if b.Running != nil {
		b.Running[pid] = false
	}
	if b.Statuses == nil {
		b.Statuses = map[int]status.ExitStatus{}
	}
	if _, ok := b.Statuses[pid]; !ok {
		b.Statuses[pid] = status.Other(uint32(sig))
	}
}

// DefaultKillGrace reports the configured grace, or zero for the default.
func (b *Backend) DefaultKillGrace() time.Duration { return b.KillGrace }

// Calls returns the recorded call log, e.g. "spawn", "kill:101", "wait:101".
func (b *Backend) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

// Spawns returns every spec passed to Spawn, including failed ones.
func (b *Backend) Spawns() []execution.SpawnSpec {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]execution.SpawnSpec(nil), b.spawns...)
}

var (
	_ execution.Backend           = (*Backend)(nil)
	_ execution.KillGraceProvider = (*Backend)(nil)
)
