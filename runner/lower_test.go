package runner

import (
	"errors"
	"slices"
	"testing"

	"procwire/core/procerr"
	"procwire/core/stdio"
)

func TestLowerEnv(t *testing.T) {
	t.Setenv("PROCWIRE_LOWER_KEEP", "parent")
	t.Setenv("PROCWIRE_LOWER_DROP", "parent")

	cmd := NewCommand("prog").
		Env("PROCWIRE_LOWER_NEW", "1").
		EnvRemove("PROCWIRE_LOWER_DROP").
		Env("PROCWIRE_LOWER_KEEP", "child")
	env := lowerEnv(cmd)
	if !slices.IsSorted(env) {
		t.Fatalf("environment not sorted")
	}
	for _, want := range []string{"PROCWIRE_LOWER_KEEP=child", "PROCWIRE_LOWER_NEW=1"} {
		if !slices.Contains(env, want) {
			t.Fatalf("missing %s", want)
		}
	}
	for _, kv := range env {
		if kv == "PROCWIRE_LOWER_DROP=parent" {
			t.Fatalf("removed key still present")
		}
	}

	cleared := lowerEnv(NewCommand("prog").EnvClear().Env("ONLY", "x"))
	if !slices.Equal(cleared, []string{"ONLY=x"}) {
		t.Fatalf("cleared env %v", cleared)
	}
}

func TestLowerEnvLastChangeWins(t *testing.T) {
	cmd := NewCommand("prog").EnvClear().Env("K", "1").EnvRemove("K")
	if env := lowerEnv(cmd); len(env) != 0 {
		t.Fatalf("env %v", env)
	}
	cmd.Env("K", "2")
	if env := lowerEnv(cmd); !slices.Equal(env, []string{"K=2"}) {
		t.Fatalf("env %v", env)
	}
}

func TestLowerCommandStdio(t *testing.T) {
	spec, err := lowerCommand(NewCommand("prog"), modeSpawn, nil)
	if err != nil {
		t.Fatalf("lower: %v", err)
	}
	for _, a := range []stdio.Action{spec.Stdin, spec.Stdout, spec.Stderr} {
		if a.Kind != stdio.ActionInherit {
			t.Fatalf("spawn default %v", a.Kind)
		}
	}

	spec, err = lowerCommand(NewCommand("prog").Stderr(stdio.Null()), modeOutput, nil)
	if err != nil {
		t.Fatalf("lower output: %v", err)
	}
	if spec.Stdin.Kind != stdio.ActionInherit || spec.Stdout.Kind != stdio.ActionPiped || spec.Stderr.Kind != stdio.ActionNull {
		t.Fatalf("output mode %v %v %v", spec.Stdin.Kind, spec.Stdout.Kind, spec.Stderr.Kind)
	}

	merged := NewCommand("prog").Stderr(stdio.File("/tmp/x")).Options(SpawnOptions{MergeStderrIntoStdout: true})
	spec, err = lowerCommand(merged, modeOutput, nil)
	if err != nil {
		t.Fatalf("lower merged: %v", err)
	}
	if spec.Stderr.Kind != stdio.ActionDupStdout {
		t.Fatalf("merge did not override stderr: %v", spec.Stderr.Kind)
	}
}

func TestLowerCommandRejects(t *testing.T) {
	cases := []struct {
		name string
		cmd  *Command
		want error
	}{
		{name: "empty program", cmd: NewCommand(""), want: procerr.ErrEmptyArgv},
		{name: "negative fd", cmd: NewCommand("prog").Stdout(stdio.FD(-2)), want: procerr.ErrInvalidStdio},
		{name: "unreadable stdin", cmd: NewCommand("prog").Stdin(stdio.FileMode("/tmp/x", stdio.ModeWriteAppend)), want: procerr.ErrInvalidStdio},
		{name: "unwritable stderr", cmd: NewCommand("prog").Stderr(stdio.FileMode("/tmp/x", stdio.ModeRead)), want: procerr.ErrInvalidStdio},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := lowerCommand(tc.cmd, modeSpawn, nil); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestLowerPipeline(t *testing.T) {
	if _, err := lowerPipeline(NewPipeline(), modeSpawn); !errors.Is(err, procerr.ErrInvalidPipeline) {
		t.Fatalf("expected invalid_pipeline, got %v", err)
	}

	first := NewCommand("a").Stdout(stdio.Null())
	middle := NewCommand("b").Stdin(stdio.FileMode("/tmp/x", stdio.ModeWriteAppend))
	last := NewCommand("c")
	p := NewPipeline(first, middle, last).
		Stdin(stdio.Null()).
		Stdout(stdio.File("/tmp/out")).
		Stderr(stdio.Null())
	specs, err := lowerPipeline(p, modeOutput)
	if err != nil {
		t.Fatalf("lower: %v", err)
	}
	if len(specs) != 3 {
		t.Fatalf("specs %d", len(specs))
	}
	if specs[0].Stdin.Kind != stdio.ActionNull {
		t.Fatalf("pipeline stdin not on first stage: %v", specs[0].Stdin.Kind)
	}
	if specs[0].Stdout.Kind != stdio.ActionInherit || specs[1].Stdin.Kind != stdio.ActionInherit {
		t.Fatalf("linked streams should be left to the engine")
	}
	if specs[0].Stderr.Kind != stdio.ActionInherit || specs[1].Stderr.Kind != stdio.ActionInherit {
		t.Fatalf("only the last stage runs in output mode")
	}
	if specs[2].Stdout.Kind != stdio.ActionFile || specs[2].Stderr.Kind != stdio.ActionNull {
		t.Fatalf("last stage overrides %v %v", specs[2].Stdout.Kind, specs[2].Stderr.Kind)
	}

	specs, err = lowerPipeline(NewPipeline(NewCommand("a"), NewCommand("b")), modeOutput)
	if err != nil {
		t.Fatalf("lower: %v", err)
	}
	if specs[1].Stdout.Kind != stdio.ActionPiped || specs[1].Stderr.Kind != stdio.ActionPiped {
		t.Fatalf("last stage not captured: %v %v", specs[1].Stdout.Kind, specs[1].Stderr.Kind)
	}
}

func TestLowerPipelineInheritsEarlyPipedStderr(t *testing.T) {
	first := NewCommand("a").Stderr(stdio.Piped())
	middle := NewCommand("b").Options(SpawnOptions{MergeStderrIntoStdout: true})
	last := NewCommand("c").Stderr(stdio.Piped())
	specs, err := lowerPipeline(NewPipeline(first, middle, last), modeSpawn)
	if err != nil {
		t.Fatalf("lower: %v", err)
	}
	if specs[0].Stderr.Kind != stdio.ActionInherit {
		t.Fatalf("first stage stderr %v, want inherit", specs[0].Stderr.Kind)
	}
	if specs[1].Stderr.Kind != stdio.ActionDupStdout {
		t.Fatalf("merged stderr %v, want dup-stdout", specs[1].Stderr.Kind)
	}
	if specs[2].Stderr.Kind != stdio.ActionPiped {
		t.Fatalf("last stage stderr %v, want piped", specs[2].Stderr.Kind)
	}
}

func TestPipelineCopiesCommands(t *testing.T) {
	cmd := NewCommand("a").Arg("1")
	p := cmd.Pipe(NewCommand("b"))
	cmd.Arg("2")
	if got := p.stages[0].Argv(); !slices.Equal(got, []string{"a", "1"}) {
		t.Fatalf("stage argv %v", got)
	}
	if p.Then(NewCommand("c")).Len() != 3 {
		t.Fatalf("Then did not append")
	}
}
