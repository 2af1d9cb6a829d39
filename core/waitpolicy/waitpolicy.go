// Package waitpolicy implements timed waiting with escalation: poll until the
// deadline, terminate, poll through the kill grace, then kill.
package waitpolicy

import (
	"time"

	"procwire/core/clock"
	"procwire/core/logging"
	"procwire/core/procerr"
)

// PollInterval is the sleep between non-blocking wait attempts.
const PollInterval = time.Millisecond

// Target exposes the wait and signal primitives of one process or a whole
// pipeline. TryWait reports done=false while the target is still running.
type Target[S any] interface {
	TryWait() (result S, done bool, err error)
	WaitBlocking() (S, error)
	Terminate() error
	Kill() error
}

// Options bound a wait. A zero Timeout waits without a deadline.
type Options struct {
	Timeout   time.Duration
	KillGrace time.Duration
}

// Wait runs the escalation state machine against t using clk.
//
// An exit observed during the kill grace is still reported as a timeout.
// After the kill the final blocking wait only reaps; its result is dropped.
func Wait[S any](t Target[S], clk clock.Clock, opts Options) (S, error) {
	var zero S
	if opts.Timeout <= 0 {
		return t.WaitBlocking()
	}
	if clk == nil {
		clk = clock.Current()
	}
	log := logging.Component("waitpolicy")

	deadline := clk.Now().Add(opts.Timeout)
	for {
		res, done, err := t.TryWait()
		if err != nil {
			return zero, err
		}
		if done {
			return res, nil
		}
		if !clk.Now().Before(deadline) {
			break
		}
		clk.Sleep(PollInterval)
	}

	log.Debug().Dur("timeout", opts.Timeout).Msg("deadline reached, terminating")
	if err := t.Terminate(); err != nil {
		return zero, err
	}

	graceEnd := clk.Now().Add(opts.KillGrace)
	for {
		_, done, err := t.TryWait()
		if err != nil {
			return zero, err
		}
		if done {
			return zero, procerr.New(procerr.CodeTimeout, "exited during kill grace")
		}
		if !clk.Now().Before(graceEnd) {
			break
		}
		clk.Sleep(PollInterval)
	}

	log.Debug().Dur("kill_grace", opts.KillGrace).Msg("grace elapsed, killing")
	if err := t.Kill(); err != nil {
		return zero, err
	}
	_, _ = t.WaitBlocking()
	return zero, procerr.New(procerr.CodeTimeout, "killed after kill grace")
}
