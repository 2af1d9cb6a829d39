package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/spf13/cobra"

	"procwire/core/logging"
	"procwire/core/procerr"
	"procwire/core/status"
	"procwire/core/stdio"
	"procwire/runner"
)

// timeoutExitCode matches timeout(1).
const timeoutExitCode = 124

type runOptions struct {
	dir         string
	env         []string
	unset       []string
	envClear    bool
	passEnv     []string
	stdin       string
	stdout      string
	stderr      string
	mergeStderr bool
	newGroup    bool
	timeout     time.Duration
	killGrace   time.Duration
	capture     bool
}

func newRunCmd(a *app) *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run [flags] -- program [args...]",
		Short: "Run one program and exit with its status",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.command(args)
			if err != nil {
				return err
			}
			return runCommand(cmd, c, opts)
		},
	}
	cmd.Flags().SetInterspersed(false)
	f := cmd.Flags()
	f.StringVar(&opts.dir, "cwd", "", "working directory for the child")
	f.StringArrayVar(&opts.env, "env", nil, "set KEY=VALUE in the child environment (repeatable)")
	f.StringArrayVar(&opts.unset, "unset", nil, "remove KEY from the child environment (repeatable)")
	f.BoolVar(&opts.envClear, "env-clear", false, "start from an empty environment")
	f.StringArrayVar(&opts.passEnv, "pass-env", nil, "with --env-clear, keep parent variables whose name matches GLOB (repeatable)")
	f.StringVar(&opts.stdin, "stdin", "", "stdin: inherit, null, pipe, fd:N or file:PATH[:MODE]")
	f.StringVar(&opts.stdout, "stdout", "", "stdout: inherit, null, pipe, fd:N or file:PATH[:MODE]")
	f.StringVar(&opts.stderr, "stderr", "", "stderr: inherit, null, pipe, fd:N or file:PATH[:MODE]")
	f.BoolVar(&opts.mergeStderr, "merge-stderr", false, "send stderr to wherever stdout goes")
	f.BoolVar(&opts.newGroup, "new-group", false, "run the child in a new process group")
	f.DurationVar(&opts.timeout, "timeout", 0, "terminate the child after this long")
	f.DurationVar(&opts.killGrace, "kill-grace", 0, "time between terminate and kill (default from config)")
	f.BoolVar(&opts.capture, "capture", false, "capture stdout and stderr, then print them with a summary")
	return cmd
}

// command builds the runner command described by the flags.
func (o runOptions) command(args []string) (*runner.Command, error) {
	c := runner.NewCommand(args[0]).Args(args[1:]...)
	if o.dir != "" {
		c.Dir(o.dir)
	}
	if len(o.passEnv) > 0 && !o.envClear {
		return nil, errors.New("--pass-env requires --env-clear")
	}
	if o.envClear {
		c.EnvClear()
		if err := passEnv(c, o.passEnv); err != nil {
			return nil, err
		}
	}
	for _, kv := range o.env {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("--env %q: want KEY=VALUE", kv)
		}
		c.Env(key, value)
	}
	for _, key := range o.unset {
		c.EnvRemove(key)
	}
	for _, s := range []struct {
		flag, value string
		set         func(stdio.Stdio) *runner.Command
	}{
		{"stdin", o.stdin, c.Stdin},
		{"stdout", o.stdout, c.Stdout},
		{"stderr", o.stderr, c.Stderr},
	} {
		if s.value == "" {
			if s.flag != "stdin" && o.capture {
				s.set(stdio.Piped())
			}
			continue
		}
		v, err := stdio.Parse(s.value)
		if err != nil {
			return nil, fmt.Errorf("--%s: %w", s.flag, err)
		}
		s.set(v)
	}
	c.Options(runner.SpawnOptions{NewProcessGroup: o.newGroup, MergeStderrIntoStdout: o.mergeStderr})
	return c, nil
}

// passEnv copies parent variables whose names match any pattern.
func passEnv(c *runner.Command, patterns []string) error {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return fmt.Errorf("--pass-env %q: %w", p, err)
		}
		globs = append(globs, g)
	}
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		for _, g := range globs {
			if g.Match(key) {
				c.Env(key, value)
				break
			}
		}
	}
	return nil
}

func runCommand(cmd *cobra.Command, c *runner.Command, opts runOptions) error {
	log := logging.Component("cli")
	child, err := c.Spawn()
	if err != nil {
		return err
	}
	collect := relay(child, cmd.InOrStdin())
	log.Debug().Int("pid", child.PID()).Strs("argv", c.Argv()).Msg("started")

	var st status.ExitStatus
	if opts.timeout > 0 {
		st, err = child.WaitWith(runner.WaitOptions{Timeout: opts.timeout, KillGrace: opts.killGrace})
	} else {
		st, err = child.Wait()
	}
	res, drainErr := collect()
	_, _ = cmd.OutOrStdout().Write(res.Stdout)
	_, _ = cmd.ErrOrStderr().Write(res.Stderr)

	if errors.Is(err, procerr.ErrTimeout) {
		log.Warn().Int("pid", child.PID()).Dur("timeout", opts.timeout).Msg("timed out")
		return &exitError{code: timeoutExitCode}
	}
	if err != nil {
		return err
	}
	if drainErr != nil {
		return drainErr
	}
	if opts.capture {
		fmt.Fprintf(cmd.ErrOrStderr(), "procwire: pid %d %s (stdout %d bytes, stderr %d bytes)\n",
			child.PID(), st, len(res.Stdout), len(res.Stderr))
	}
	log.Debug().Int("pid", child.PID()).Stringer("status", st).Msg("finished")
	if code := st.ShellCode(); code != 0 {
		return &exitError{code: code}
	}
	return nil
}
