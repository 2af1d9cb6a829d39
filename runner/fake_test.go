package runner_test

import (
	"errors"
	"reflect"
	"syscall"
	"testing"

	"procwire/backend"
	"procwire/backend/fake"
	"procwire/core/procerr"
	"procwire/core/status"
	"procwire/core/stdio"
	"procwire/runner"
)

func TestChildStaysOnSpawningBackend(t *testing.T) {
	first := fake.New()
	restore := backend.Override(first)
	child, err := runner.NewCommand("prog").Spawn()
	restore()
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	second := fake.New()
	backend.Use(t, second)

	if err := child.Signal(syscall.SIGUSR1); err != nil {
		t.Fatalf("Signal: %v", err)
	}
	if _, err := child.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	want := []string{"spawn", "signal(10):101", "wait:101"}
	if got := first.Calls(); !reflect.DeepEqual(got, want) {
		t.Fatalf("calls %v, want %v", got, want)
	}
	if got := second.Calls(); len(got) != 0 {
		t.Fatalf("second backend used: %v", got)
	}
}

func TestStatusFromBackend(t *testing.T) {
	b := fake.New()
	b.DefaultStatus = status.Exited(3, 3<<8)
	backend.Use(t, b)
	st, err := runner.NewCommand("prog").Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if code, _ := st.Code(); code != 3 {
		t.Fatalf("status %v", st)
	}
}

func TestPipelineStatusPipefail(t *testing.T) {
	for _, pipefail := range []bool{false, true} {
		b := fake.New()
		b.Statuses[fake.FirstPID] = status.Exited(5, 5<<8)
		backend.Use(t, b)
		st, err := runner.NewCommand("a").Pipe(runner.NewCommand("b")).Pipefail(pipefail).Status()
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		want := 0
		if pipefail {
			want = 5
		}
		if code, _ := st.Code(); code != want {
			t.Fatalf("pipefail=%v aggregate %v", pipefail, st)
		}
	}
}

func TestPipelineSpawnFailureCleansUp(t *testing.T) {
	b := fake.New()
	b.SpawnErrs = map[int]error{1: procerr.New(procerr.CodeSpawnFailed, "second")}
	backend.Use(t, b)
	_, err := runner.NewPipeline(runner.NewCommand("a"), runner.NewCommand("b")).Spawn()
	if !errors.Is(err, procerr.ErrSpawnFailed) {
		t.Fatalf("expected spawn_failed, got %v", err)
	}
	want := []string{"spawn", "spawn", "kill:101", "wait:101"}
	if got := b.Calls(); !reflect.DeepEqual(got, want) {
		t.Fatalf("calls %v, want %v", got, want)
	}
}

func TestPipelineGroupTerminate(t *testing.T) {
	b := fake.New()
	backend.Use(t, b)
	pc, err := runner.NewPipeline(runner.NewCommand("a"), runner.NewCommand("b")).NewProcessGroup(true).Spawn()
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if pc.PGID() != fake.FirstPID {
		t.Fatalf("pgid %d", pc.PGID())
	}
	if err := pc.Terminate(); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	ps, err := pc.Wait()
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	for i, st := range ps.Stages {
		if sig, ok := st.Signal(); !ok || sig != syscall.SIGTERM {
			t.Fatalf("stage %d status %v", i, st)
		}
	}
}

func TestMustPanicsWithError(t *testing.T) {
	b := fake.New()
	backend.Use(t, b)
	defer func() {
		r := recover()
		err, ok := r.(error)
		if !ok || !errors.Is(err, procerr.ErrEmptyArgv) {
			t.Fatalf("recovered %v", r)
		}
	}()
	runner.NewCommand("").MustStatus()
}

func TestPipelineEarlyStageStderrNotPiped(t *testing.T) {
	b := fake.New()
	backend.Use(t, b)
	p := runner.NewCommand("a").Stderr(stdio.Piped()).
		Pipe(runner.NewCommand("b").Stderr(stdio.Piped()))
	if _, err := p.Output(); err != nil {
		t.Fatalf("Output: %v", err)
	}
	spawns := b.Spawns()
	if len(spawns) != 2 {
		t.Fatalf("spawns %d", len(spawns))
	}
	if got := spawns[0].Stderr.Kind; got != stdio.ActionInherit {
		t.Fatalf("first stage stderr %v, want inherit", got)
	}
	if got := spawns[1].Stderr.Kind; got != stdio.ActionPiped {
		t.Fatalf("last stage stderr %v, want piped", got)
	}
}
