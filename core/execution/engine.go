package execution

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"procwire/core/clock"
	"procwire/core/logging"
	"procwire/core/pipe"
	"procwire/core/procerr"
	"procwire/core/status"
	"procwire/core/stdio"
	"procwire/core/waitpolicy"
)

// Engine orchestrates multi-stage pipelines on a backend.
type Engine struct {
	Backend Backend
}

// Pipeline is a set of spawned stages and the policy used to report them.
type Pipeline struct {
	Stages   []*Spawned
	Pipefail bool
	// Group is set when every stage shares the first stage's process group.
	Group bool
}

// SpawnPipeline connects specs with n-1 pipes and spawns them in order. When
// newGroup is set the first stage leads a new process group and every later
// stage joins it. If a stage fails to spawn, every stage already started is
// killed and reaped before the error is returned.
//
// Parent ends of stage pipes that no pipeline handle can reach (stdin of
// later stages, stdout/stderr of earlier ones) are closed.
func (e Engine) SpawnPipeline(specs []SpawnSpec, newGroup, pipefail bool) (*Pipeline, error) {
	if e.Backend == nil {
		return nil, errors.New("backend required")
	}
	if len(specs) == 0 {
		return nil, procerr.New(procerr.CodeInvalidPipeline, "no stages")
	}
	log := logging.Component("engine")

	n := len(specs)
	links := make([][2]int, 0, n-1)
	defer func() {
		for _, l := range links {
			_ = unix.Close(l[0])
			_ = unix.Close(l[1])
		}
	}()
	for i := 0; i < n-1; i++ {
		r, w, err := pipe.Make()
		if err != nil {
			return nil, err
		}
		links = append(links, [2]int{r, w})
	}

	started := make([]*Spawned, 0, n)
	pgid := 0
	for i, spec := range specs {
		if i > 0 {
			spec.Stdin = stdio.FDAction(links[i-1][0])
		}
		if i < n-1 {
			spec.Stdout = stdio.FDAction(links[i][1])
		}
		if newGroup {
			spec.Options.NewProcessGroup = i == 0
			if i > 0 {
				spec.ProcessGroup = pgid
			}
		}

		sp, err := e.Backend.Spawn(spec)
		if err != nil {
			log.Debug().Err(err).Int("stage", i).Int("started", len(started)).Msg("stage spawn failed, cleaning up")
			e.abort(started)
			return nil, fmt.Errorf("pipeline stage %d: %w", i, err)
		}
		if i == 0 && newGroup {
			pgid = sp.PGID
			if pgid == 0 {
				pgid = sp.PID
			}
		}
		if i > 0 && sp.Stdin != nil {
			_ = sp.Stdin.Close()
			sp.Stdin = nil
		}
		if i < n-1 {
			if sp.Stdout != nil {
				_ = sp.Stdout.Close()
				sp.Stdout = nil
			}
			if sp.Stderr != nil {
				_ = sp.Stderr.Close()
				sp.Stderr = nil
			}
		}
		started = append(started, sp)
	}

	return &Pipeline{Stages: started, Pipefail: pipefail, Group: newGroup}, nil
}

// abort kills and reaps stages after a failed pipeline spawn.
func (e Engine) abort(started []*Spawned) {
	for _, sp := range started {
		_ = e.Backend.Kill(sp)
	}
	for _, sp := range started {
		_, _ = e.Backend.Wait(sp, WaitOptions{})
		sp.ClosePipes()
	}
}

// Wait reaps every stage in order and aggregates their statuses. All stages
// are waited for even if one wait fails; the first failure is returned.
func (e Engine) Wait(p *Pipeline) (status.PipelineStatus, error) {
	stages := make([]status.ExitStatus, len(p.Stages))
	var firstErr error
	for i, sp := range p.Stages {
		st, err := e.Backend.Wait(sp, WaitOptions{})
		if err != nil && firstErr == nil {
			firstErr = err
		}
		stages[i] = st
	}
	if firstErr != nil {
		return status.PipelineStatus{}, firstErr
	}
	return status.PipelineStatus{Stages: stages, Aggregate: status.Aggregate(stages, p.Pipefail)}, nil
}

// TryWait reports done once every stage has exited.
func (e Engine) TryWait(p *Pipeline) (status.PipelineStatus, bool, error) {
	stages := make([]status.ExitStatus, len(p.Stages))
	done := true
	for i, sp := range p.Stages {
		st, exited, err := e.Backend.TryWait(sp)
		if err != nil {
			return status.PipelineStatus{}, false, err
		}
		if !exited {
			done = false
			continue
		}
		stages[i] = st
	}
	if !done {
		return status.PipelineStatus{}, false, nil
	}
	return status.PipelineStatus{Stages: stages, Aggregate: status.Aggregate(stages, p.Pipefail)}, true, nil
}

// WaitWith applies the timeout policy to the pipeline as a whole.
func (e Engine) WaitWith(p *Pipeline, opts WaitOptions) (status.PipelineStatus, error) {
	opts = ResolveWaitOptions(e.Backend, opts)
	return waitpolicy.Wait[status.PipelineStatus](pipelineTarget{e: e, p: p}, clock.Current(), opts)
}

// Terminate sends SIGTERM to the group leader's group, or to every stage.
func (e Engine) Terminate(p *Pipeline) error {
	return e.each(p, e.Backend.Terminate)
}

// Kill sends SIGKILL to the group leader's group, or to every stage.
func (e Engine) Kill(p *Pipeline) error {
	return e.each(p, e.Backend.Kill)
}

func (e Engine) each(p *Pipeline, fn func(*Spawned) error) error {
	if len(p.Stages) == 0 {
		return nil
	}
	if p.Group {
		return fn(p.Stages[0])
	}
	var firstErr error
	for _, sp := range p.Stages {
		if err := fn(sp); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

type pipelineTarget struct {
	e Engine
	p *Pipeline
}

func (t pipelineTarget) TryWait() (status.PipelineStatus, bool, error) { return t.e.TryWait(t.p) }
func (t pipelineTarget) WaitBlocking() (status.PipelineStatus, error)  { return t.e.Wait(t.p) }
func (t pipelineTarget) Terminate() error                              { return t.e.Terminate(t.p) }
func (t pipelineTarget) Kill() error                                   { return t.e.Kill(t.p) }

var _ waitpolicy.Target[status.PipelineStatus] = pipelineTarget{}
