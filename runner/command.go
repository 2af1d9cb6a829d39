// Package runner is the public API: build a Command or Pipeline, then spawn
// it, wait for its status, or capture its output.
package runner

import (
	"slices"

	"procwire/backend"
	"procwire/core/execution"
	"procwire/core/status"
	"procwire/core/stdio"
)

// SpawnOptions are the per-command spawn flags.
type SpawnOptions = execution.SpawnOptions

// WaitOptions bound a timed wait.
type WaitOptions = execution.WaitOptions

type envEntry struct {
	key    string
	value  string
	remove bool
}

// Command describes one program invocation. The zero value is not useful;
// start from NewCommand. Builder methods mutate and return the receiver.
type Command struct {
	argv       []string
	dir        string
	inheritEnv bool
	env        []envEntry
	stdin      *stdio.Stdio
	stdout     *stdio.Stdio
	stderr     *stdio.Stdio
	opts       SpawnOptions
}

// NewCommand starts a command running program with the parent environment.
func NewCommand(program string) *Command {
	return &Command{argv: []string{program}, inheritEnv: true}
}

func (c *Command) Arg(value string) *Command {
	c.argv = append(c.argv, value)
	return c
}

func (c *Command) Args(values ...string) *Command {
	c.argv = append(c.argv, values...)
	return c
}

// Dir sets the child's working directory.
func (c *Command) Dir(path string) *Command {
	c.dir = path
	return c
}

// Env sets key in the child environment, replacing an earlier Env or
// EnvRemove for the same key.
func (c *Command) Env(key, value string) *Command {
	c.setEnv(envEntry{key: key, value: value})
	return c
}

// EnvRemove deletes key from the child environment.
func (c *Command) EnvRemove(key string) *Command {
	c.setEnv(envEntry{key: key, remove: true})
	return c
}

// EnvClear stops the parent environment from being inherited. Keys set with
// Env are still passed.
func (c *Command) EnvClear() *Command {
	c.inheritEnv = false
	return c
}

// InheritEnv turns inheritance of the parent environment back on.
func (c *Command) InheritEnv() *Command {
	c.inheritEnv = true
	return c
}

func (c *Command) setEnv(e envEntry) {
	for i := range c.env {
		if c.env[i].key == e.key {
			c.env[i] = e
			return
		}
	}
	c.env = append(c.env, e)
}

func (c *Command) Stdin(s stdio.Stdio) *Command {
	c.stdin = &s
	return c
}

func (c *Command) Stdout(s stdio.Stdio) *Command {
	c.stdout = &s
	return c
}

func (c *Command) Stderr(s stdio.Stdio) *Command {
	c.stderr = &s
	return c
}

func (c *Command) Options(opts SpawnOptions) *Command {
	c.opts = opts
	return c
}

// Argv returns a copy of the argument vector.
func (c *Command) Argv() []string { return slices.Clone(c.argv) }

// Pipe starts a pipeline feeding c's stdout into next's stdin.
func (c *Command) Pipe(next *Command) *Pipeline {
	return NewPipeline(c, next)
}

func (c *Command) clone() *Command {
	cp := *c
	cp.argv = slices.Clone(c.argv)
	cp.env = slices.Clone(c.env)
	return &cp
}

// Spawn starts the command and returns immediately. The caller must Wait.
func (c *Command) Spawn() (*Child, error) {
	return c.spawn(modeSpawn)
}

func (c *Command) spawn(mode spawnMode) (*Child, error) {
	spec, err := lowerCommand(c, mode, nil)
	if err != nil {
		return nil, err
	}
	b := backend.Current()
	sp, err := b.Spawn(spec)
	if err != nil {
		return nil, err
	}
	return newChild(b, sp), nil
}

// Status runs the command to completion. Piped stdin is closed at once and
// piped output is read and discarded.
func (c *Command) Status() (status.ExitStatus, error) {
	child, err := c.Spawn()
	if err != nil {
		return status.ExitStatus{}, err
	}
	_, st, err := child.finish()
	return st, err
}

// Output runs the command with stdout and stderr captured unless configured
// otherwise, and returns what it wrote along with its status.
func (c *Command) Output() (status.Output, error) {
	child, err := c.spawn(modeOutput)
	if err != nil {
		return status.Output{}, err
	}
	res, st, err := child.finish()
	if err != nil {
		return status.Output{}, err
	}
	return status.Output{Status: st, Stdout: res.Stdout, Stderr: res.Stderr}, nil
}
