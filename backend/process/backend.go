//go:build unix

package process

import (
	"syscall"
	"time"

	"procwire/config"
	"procwire/core/clock"
	"procwire/core/execution"
	"procwire/core/logging"
	"procwire/core/pipe"
	"procwire/core/procerr"
	"procwire/core/status"
	"procwire/core/waitpolicy"
)

type Options struct {
	// Strategy is one of config.StrategyAuto, StrategyFast or StrategyFork.
	Strategy string
	// KillGrace is the default grace for timed waits.
	KillGrace time.Duration
	// Capabilities replaces the host capability table when set.
	Capabilities *execution.Capabilities
}

// Backend creates processes with the runtime's fork/exec fast path, falling
// back to a hand-rolled fork+exec when the fast path cannot express a spawn.
// It holds no per-process state and is safe for concurrent use.
type Backend struct {
	opts Options
	caps execution.Capabilities
}

func New(opts Options) *Backend {
	caps := HostCapabilities()
	if opts.Capabilities != nil {
		caps = *opts.Capabilities
	}
	if opts.Strategy == "" {
		opts.Strategy = config.StrategyAuto
	}
	return &Backend{opts: opts, caps: caps}
}

// FromConfig builds a backend from loaded settings.
func FromConfig(cfg config.Config) *Backend {
	return New(Options{Strategy: cfg.Strategy, KillGrace: cfg.KillGrace})
}

// HostCapabilities returns the fast-path capabilities of this platform.
// Where the fork path is available, directory changes are routed through it
// so every chdir happens inside the fixed child prologue.
func HostCapabilities() execution.Capabilities {
	return execution.Capabilities{
		SpawnChdir:        !forkSupported,
		SpawnProcessGroup: true,
	}
}

func (b *Backend) Name() string { return "process" }

func (b *Backend) Capabilities() execution.Capabilities { return b.caps }

func (b *Backend) ForcedStrategy() (execution.Strategy, bool) {
	switch b.opts.Strategy {
	case config.StrategyFast:
		return execution.StrategyFastPath, true
	case config.StrategyFork:
		return execution.StrategyForkExec, true
	}
	return execution.StrategyFastPath, false
}

func (b *Backend) DefaultKillGrace() time.Duration {
	if b.opts.KillGrace > 0 {
		return b.opts.KillGrace
	}
	return execution.DefaultKillGrace
}

func (b *Backend) strategyFor(spec execution.SpawnSpec) execution.Strategy {
	if forced, ok := b.ForcedStrategy(); ok {
		return forced
	}
	return execution.SelectStrategy(spec, b.caps)
}

func (b *Backend) Spawn(spec execution.SpawnSpec) (*execution.Spawned, error) {
	if len(spec.Argv) == 0 || spec.Argv[0] == "" {
		return nil, procerr.New(procerr.CodeEmptyArgv, "spawn")
	}
	strategy := b.strategyFor(spec)
	if strategy == execution.StrategyFastPath && spec.Dir != "" && !b.caps.SpawnChdir {
		return nil, procerr.New(procerr.CodeChdirFailed, "fast path cannot change directory to "+spec.Dir)
	}
	if strategy == execution.StrategyForkExec && !forkSupported {
		return nil, procerr.Wrap(procerr.CodeSpawnFailed, "fork strategy unavailable", syscall.ENOSYS)
	}

	path, err := resolveProgram(spec.Argv[0], spec.Env, spec.Dir)
	if err != nil {
		return nil, err
	}
	plan, err := prepareStdio(spec)
	if err != nil {
		return nil, err
	}

	var pid int
	if strategy == execution.StrategyForkExec {
		pid, err = spawnFork(spec, path, plan)
	} else {
		pid, err = spawnFast(spec, path, plan)
	}
	plan.closeChildEnds()
	if err != nil {
		plan.closeParentEnds()
		logging.Component("backend").Debug().Err(err).Str("argv0", spec.Argv[0]).Stringer("strategy", strategy).Msg("spawn failed")
		return nil, err
	}

	sp := &execution.Spawned{PID: pid, NewProcessGroup: spec.Options.NewProcessGroup}
	switch {
	case spec.Options.NewProcessGroup:
		sp.PGID = pid
	case spec.ProcessGroup > 0:
		sp.PGID = spec.ProcessGroup
	}
	if plan.stdinW >= 0 {
		sp.Stdin = pipe.NewWriter(plan.stdinW)
	}
	if plan.stdoutR >= 0 {
		sp.Stdout = pipe.NewReader(plan.stdoutR)
	}
	if plan.stderrR >= 0 {
		sp.Stderr = pipe.NewReader(plan.stderrR)
	}
	logging.Component("backend").Debug().
		Int("pid", pid).
		Int("pgid", sp.PGID).
		Str("path", path).
		Stringer("strategy", strategy).
		Msg("spawned")
	return sp, nil
}

func (b *Backend) Wait(s *execution.Spawned, opts execution.WaitOptions) (status.ExitStatus, error) {
	if opts.Timeout <= 0 {
		return b.waitBlocking(s)
	}
	opts = execution.ResolveWaitOptions(b, opts)
	return waitpolicy.Wait[status.ExitStatus](processTarget{b: b, s: s}, clock.Current(), opts)
}

// TryWait polls the child. While another goroutine is blocked in Wait on
// the same handle it reports not done.
func (b *Backend) TryWait(s *execution.Spawned) (status.ExitStatus, bool, error) {
	return s.Reap(false, func() (status.ExitStatus, bool, error) {
		var ws syscall.WaitStatus
		for {
			pid, err := syscall.Wait4(s.PID, &ws, syscall.WNOHANG, nil)
			if err == syscall.EINTR {
				continue
			}
			if err != nil {
				return status.ExitStatus{}, false, procerr.Wrap(procerr.CodeWaitFailed, "waitpid", err)
			}
			if pid == 0 {
				return status.ExitStatus{}, false, nil
			}
			return status.FromWaitStatus(ws), true, nil
		}
	})
}

func (b *Backend) waitBlocking(s *execution.Spawned) (status.ExitStatus, error) {
	st, _, err := s.Reap(true, func() (status.ExitStatus, bool, error) {
		st, err := reap(s.PID)
		if err != nil {
			return status.ExitStatus{}, false, procerr.Wrap(procerr.CodeWaitFailed, "waitpid", err)
		}
		return st, true, nil
	})
	return st, err
}

func (b *Backend) Terminate(s *execution.Spawned) error {
	return b.Signal(s, syscall.SIGTERM)
}

func (b *Backend) Kill(s *execution.Spawned) error {
	return b.Signal(s, syscall.SIGKILL)
}

// Signal delivers sig to the child, or to its whole group when it leads one.
// A reaped child's pid may already belong to someone else, so signalling it
// fails with ESRCH without a syscall.
func (b *Backend) Signal(s *execution.Spawned, sig syscall.Signal) error {
	target := s.SignalTarget()
	if _, reaped := s.Reaped(); reaped && target > 0 {
		return procerr.Wrap(procerr.CodeKillFailed, "kill", syscall.ESRCH)
	}
	if err := syscall.Kill(target, sig); err != nil {
		return procerr.Wrap(procerr.CodeKillFailed, "kill", err)
	}
	return nil
}

// reap blocks until pid exits, retrying on EINTR.
func reap(pid int) (status.ExitStatus, error) {
	var ws syscall.WaitStatus
	for {
		_, err := syscall.Wait4(pid, &ws, 0, nil)
		if err == syscall.EINTR {
			continue
		}
		if err != nil {
			return status.ExitStatus{}, err
		}
		return status.FromWaitStatus(ws), nil
	}
}

type processTarget struct {
	b *Backend
	s *execution.Spawned
}

func (t processTarget) TryWait() (status.ExitStatus, bool, error) { return t.b.TryWait(t.s) }
func (t processTarget) WaitBlocking() (status.ExitStatus, error)  { return t.b.waitBlocking(t.s) }
func (t processTarget) Terminate() error                          { return t.b.Terminate(t.s) }
func (t processTarget) Kill() error                               { return t.b.Kill(t.s) }

var (
	_ execution.Backend            = (*Backend)(nil)
	_ execution.CapabilityProvider = (*Backend)(nil)
	_ execution.KillGraceProvider  = (*Backend)(nil)
)
