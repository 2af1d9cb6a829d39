package runner

import (
	"syscall"

	"procwire/core/drain"
	"procwire/core/execution"
	"procwire/core/pipe"
	"procwire/core/status"
)

// Child is a running process started by Command.Spawn. It stays bound to the
// backend that spawned it. The process is never reaped implicitly: call Wait.
type Child struct {
	b  execution.Backend
	sp *execution.Spawned
}

func newChild(b execution.Backend, sp *execution.Spawned) *Child {
	return &Child{b: b, sp: sp}
}

func (c *Child) PID() int { return c.sp.PID }

// PGID is the child's process group, zero when none was requested.
func (c *Child) PGID() int { return c.sp.PGID }

// TakeStdin hands over the write end of a piped stdin. Later calls return nil.
func (c *Child) TakeStdin() *pipe.Writer {
	w := c.sp.Stdin
	c.sp.Stdin = nil
	return w
}

// TakeStdout hands over the read end of a piped stdout. Later calls return nil.
func (c *Child) TakeStdout() *pipe.Reader {
	r := c.sp.Stdout
	c.sp.Stdout = nil
	return r
}

// TakeStderr hands over the read end of a piped stderr. Later calls return nil.
func (c *Child) TakeStderr() *pipe.Reader {
	r := c.sp.Stderr
	c.sp.Stderr = nil
	return r
}

// Wait blocks until the child exits.
func (c *Child) Wait() (status.ExitStatus, error) {
	return c.b.Wait(c.sp, WaitOptions{})
}

// WaitWith waits at most opts.Timeout, then terminates, waits opts.KillGrace
// and kills. Any wait that hits the deadline reports a timeout error.
func (c *Child) WaitWith(opts WaitOptions) (status.ExitStatus, error) {
	if opts.Timeout > 0 {
		opts = execution.ResolveWaitOptions(c.b, opts)
	}
	return c.b.Wait(c.sp, opts)
}

// TryWait reports the status if the child has exited, without blocking.
func (c *Child) TryWait() (status.ExitStatus, bool, error) {
	return c.b.TryWait(c.sp)
}

// Terminate sends SIGTERM, to the whole group when the child leads one.
func (c *Child) Terminate() error { return c.b.Terminate(c.sp) }

// Kill sends SIGKILL, to the whole group when the child leads one.
func (c *Child) Kill() error { return c.b.Kill(c.sp) }

func (c *Child) Signal(sig syscall.Signal) error { return c.b.Signal(c.sp, sig) }

// Close releases any pipe ends that were not taken. It does not wait.
func (c *Child) Close() error {
	c.sp.ClosePipes()
	return nil
}

// finish closes stdin, drains stdout and stderr, then waits. The child is
// reaped even when draining fails.
func (c *Child) finish() (drain.Result, status.ExitStatus, error) {
	if in := c.TakeStdin(); in != nil {
		_ = in.Close()
	}
	res, drainErr := drain.Drain(c.TakeStdout(), c.TakeStderr())
	st, err := c.Wait()
	if drainErr != nil {
		return res, st, drainErr
	}
	return res, st, err
}
