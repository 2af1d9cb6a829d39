package runner

import (
	"procwire/backend"
	"procwire/core/drain"
	"procwire/core/execution"
	"procwire/core/pipe"
	"procwire/core/status"
	"procwire/core/stdio"
)

// Pipeline chains commands, each stage's stdout feeding the next stage's
// stdin. Only the last stage's stderr can be piped back to the caller; a
// Piped stderr on an earlier stage is inherited from the parent.
type Pipeline struct {
	stages   []*Command
	pipefail bool
	newGroup bool
	stdin    *stdio.Stdio
	stdout   *stdio.Stdio
	stderr   *stdio.Stdio
}

// NewPipeline builds a pipeline from cmds in order. Commands are copied, so
// later changes to them do not affect the pipeline.
func NewPipeline(cmds ...*Command) *Pipeline {
	p := &Pipeline{}
	for _, c := range cmds {
		p.Then(c)
	}
	return p
}

// Then appends a stage.
func (p *Pipeline) Then(cmd *Command) *Pipeline {
	p.stages = append(p.stages, cmd.clone())
	return p
}

// Pipefail reports the first failing stage instead of the last stage.
func (p *Pipeline) Pipefail(enabled bool) *Pipeline {
	p.pipefail = enabled
	return p
}

// NewProcessGroup puts every stage into a group led by the first stage.
func (p *Pipeline) NewProcessGroup(enabled bool) *Pipeline {
	p.newGroup = enabled
	return p
}

// Stdin overrides the first stage's stdin.
func (p *Pipeline) Stdin(s stdio.Stdio) *Pipeline {
	p.stdin = &s
	return p
}

// Stdout overrides the last stage's stdout.
func (p *Pipeline) Stdout(s stdio.Stdio) *Pipeline {
	p.stdout = &s
	return p
}

// Stderr overrides the last stage's stderr.
func (p *Pipeline) Stderr(s stdio.Stdio) *Pipeline {
	p.stderr = &s
	return p
}

// Len is the number of stages.
func (p *Pipeline) Len() int { return len(p.stages) }

func (p *Pipeline) Spawn() (*PipelineChild, error) {
	return p.spawn(modeSpawn)
}

func (p *Pipeline) spawn(mode spawnMode) (*PipelineChild, error) {
	specs, err := lowerPipeline(p, mode)
	if err != nil {
		return nil, err
	}
	e := execution.Engine{Backend: backend.Current()}
	run, err := e.SpawnPipeline(specs, p.newGroup, p.pipefail)
	if err != nil {
		return nil, err
	}
	first, last := run.Stages[0], run.Stages[len(run.Stages)-1]
	pc := &PipelineChild{e: e, p: run, stdin: first.Stdin, stdout: last.Stdout, stderr: last.Stderr}
	first.Stdin, last.Stdout, last.Stderr = nil, nil, nil
	return pc, nil
}

// Status runs the pipeline to completion and returns the aggregate status.
func (p *Pipeline) Status() (status.ExitStatus, error) {
	pc, err := p.Spawn()
	if err != nil {
		return status.ExitStatus{}, err
	}
	_, ps, err := pc.finish()
	return ps.Aggregate, err
}

// Output runs the pipeline capturing the last stage's stdout and stderr.
func (p *Pipeline) Output() (status.Output, error) {
	pc, err := p.spawn(modeOutput)
	if err != nil {
		return status.Output{}, err
	}
	res, ps, err := pc.finish()
	if err != nil {
		return status.Output{}, err
	}
	return status.Output{Status: ps.Aggregate, Stdout: res.Stdout, Stderr: res.Stderr}, nil
}

// PipelineChild is a running pipeline. Its stdin is the first stage's and its
// stdout/stderr are the last stage's.
type PipelineChild struct {
	e      execution.Engine
	p      *execution.Pipeline
	stdin  *pipe.Writer
	stdout *pipe.Reader
	stderr *pipe.Reader
}

// PIDs lists stage pids in order.
func (pc *PipelineChild) PIDs() []int {
	pids := make([]int, len(pc.p.Stages))
	for i, sp := range pc.p.Stages {
		pids[i] = sp.PID
	}
	return pids
}

// PGID is the shared process group, zero without one.
func (pc *PipelineChild) PGID() int {
	if !pc.p.Group {
		return 0
	}
	return pc.p.Stages[0].PGID
}

func (pc *PipelineChild) TakeStdin() *pipe.Writer {
	w := pc.stdin
	pc.stdin = nil
	return w
}

func (pc *PipelineChild) TakeStdout() *pipe.Reader {
	r := pc.stdout
	pc.stdout = nil
	return r
}

func (pc *PipelineChild) TakeStderr() *pipe.Reader {
	r := pc.stderr
	pc.stderr = nil
	return r
}

// Wait reaps every stage.
func (pc *PipelineChild) Wait() (status.PipelineStatus, error) {
	return pc.e.Wait(pc.p)
}

// WaitWith applies the timeout policy to the pipeline as a whole.
func (pc *PipelineChild) WaitWith(opts WaitOptions) (status.PipelineStatus, error) {
	if opts.Timeout <= 0 {
		return pc.e.Wait(pc.p)
	}
	return pc.e.WaitWith(pc.p, opts)
}

// TryWait reports done once every stage has exited.
func (pc *PipelineChild) TryWait() (status.PipelineStatus, bool, error) {
	return pc.e.TryWait(pc.p)
}

// Terminate signals the group leader's group, or every stage without a group.
func (pc *PipelineChild) Terminate() error { return pc.e.Terminate(pc.p) }

// Kill is Terminate with SIGKILL.
func (pc *PipelineChild) Kill() error { return pc.e.Kill(pc.p) }

// Close releases pipe ends that were not taken.
func (pc *PipelineChild) Close() error {
	if w := pc.TakeStdin(); w != nil {
		_ = w.Close()
	}
	for _, r := range []*pipe.Reader{pc.TakeStdout(), pc.TakeStderr()} {
		if r != nil {
			_ = r.Close()
		}
	}
	return nil
}

func (pc *PipelineChild) finish() (drain.Result, status.PipelineStatus, error) {
	if in := pc.TakeStdin(); in != nil {
		_ = in.Close()
	}
	res, drainErr := drain.Drain(pc.TakeStdout(), pc.TakeStderr())
	ps, err := pc.Wait()
	if drainErr != nil {
		return res, ps, drainErr
	}
	return res, ps, err
}
