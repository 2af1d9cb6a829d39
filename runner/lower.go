package runner

import (
	"os"
	"sort"
	"strings"

	"procwire/core/execution"
	"procwire/core/procerr"
	"procwire/core/stdio"
)

type spawnMode uint8

const (
	modeSpawn spawnMode = iota
	// modeOutput pipes stdout and stderr unless the command says otherwise.
	modeOutput
)

// stdioOverride replaces a command's own stdio settings. Nil fields keep them.
type stdioOverride struct {
	stdin, stdout, stderr *stdio.Stdio
}

func lowerCommand(c *Command, mode spawnMode, ov *stdioOverride) (execution.SpawnSpec, error) {
	if len(c.argv) == 0 || c.argv[0] == "" {
		return execution.SpawnSpec{}, procerr.New(procerr.CodeEmptyArgv, "argv")
	}
	spec := execution.SpawnSpec{
		Argv:    c.Argv(),
		Dir:     c.dir,
		Env:     lowerEnv(c),
		Options: c.opts,
	}

	in, out, errOut := c.stdin, c.stdout, c.stderr
	if ov != nil {
		if ov.stdin != nil {
			in = ov.stdin
		}
		if ov.stdout != nil {
			out = ov.stdout
		}
		if ov.stderr != nil {
			errOut = ov.stderr
		}
	}
	capture := mode == modeOutput
	var err error
	if spec.Stdin, err = stdio.Resolve(in, false, stdio.Input); err != nil {
		return execution.SpawnSpec{}, err
	}
	if spec.Stdout, err = stdio.Resolve(out, capture, stdio.Output); err != nil {
		return execution.SpawnSpec{}, err
	}
	if spec.Stderr, err = stdio.Resolve(errOut, capture, stdio.Output); err != nil {
		return execution.SpawnSpec{}, err
	}
	if c.opts.MergeStderrIntoStdout {
		spec.Stderr = stdio.DupStdoutAction()
	}
	return spec, nil
}

// lowerEnv builds the child environment: the parent's when inherited, with
// the command's changes applied in order, as sorted KEY=VALUE entries.
func lowerEnv(c *Command) []string {
	vars := map[string]string{}
	if c.inheritEnv {
		for _, kv := range os.Environ() {
			key, value, ok := strings.Cut(kv, "=")
			if !ok {
				continue
			}
			vars[key] = value
		}
	}
	for _, e := range c.env {
		if e.remove {
			delete(vars, e.key)
			continue
		}
		vars[e.key] = e.value
	}
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+vars[k])
	}
	return env
}

// lowerPipeline lowers every stage. Only the last stage runs in mode; the
// pipeline's stdin reaches the first stage and its stdout/stderr the last.
// Stage-to-stage streams are left as inherit here and wired by the engine.
// A piped stderr on any stage but the last is inherited instead.
func lowerPipeline(p *Pipeline, mode spawnMode) ([]execution.SpawnSpec, error) {
	if len(p.stages) == 0 {
		return nil, procerr.New(procerr.CodeInvalidPipeline, "pipeline")
	}
	linked := stdio.Inherit()
	n := len(p.stages)
	specs := make([]execution.SpawnSpec, 0, n)
	for i, cmd := range p.stages {
		var ov stdioOverride
		stageMode := modeSpawn
		if i == 0 {
			ov.stdin = p.stdin
		} else {
			ov.stdin = &linked
		}
		if i == n-1 {
			stageMode = mode
			ov.stdout, ov.stderr = p.stdout, p.stderr
		} else {
			ov.stdout = &linked
		}
		spec, err := lowerCommand(cmd, stageMode, &ov)
		if err != nil {
			return nil, err
		}
		// Nothing could read an earlier stage's stderr pipe.
		if i < n-1 && spec.Stderr.Kind == stdio.ActionPiped {
			spec.Stderr = stdio.InheritAction()
		}
		specs = append(specs, spec)
	}
	return specs, nil
}
