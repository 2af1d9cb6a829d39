//go:build unix

package process_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"procwire/backend/process"
	"procwire/config"
	"procwire/core/drain"
	"procwire/core/execution"
	"procwire/core/procerr"
	"procwire/core/procfs"
	"procwire/core/status"
	"procwire/core/stdio"
	"procwire/testutil/childproc"
)

func TestMain(m *testing.M) {
	childproc.Main()
	os.Exit(m.Run())
}

func requireCommand(t *testing.T, path string) {
	t.Helper()
	if runtime.GOOS != "linux" {
		t.Skip("requires linux")
	}
	if _, err := os.Stat(path); err != nil {
		t.Skipf("missing %s", path)
	}
}

func shSpec(script string) execution.SpawnSpec {
	return execution.SpawnSpec{
		Argv:   []string{"/bin/sh", "-c", script},
		Env:    os.Environ(),
		Stdin:  stdio.Action{Kind: stdio.ActionNull},
		Stdout: stdio.InheritAction(),
		Stderr: stdio.InheritAction(),
	}
}

func helperSpec(args ...string) execution.SpawnSpec {
	return execution.SpawnSpec{
		Argv:   childproc.Argv(args...),
		Env:    append(os.Environ(), childproc.Env()),
		Stdin:  stdio.Action{Kind: stdio.ActionNull},
		Stdout: stdio.Action{Kind: stdio.ActionPiped},
		Stderr: stdio.Action{Kind: stdio.ActionPiped},
	}
}

func collect(t *testing.T, b *process.Backend, sp *execution.Spawned) (drain.Result, status.ExitStatus) {
	t.Helper()
	out, errOut := sp.Stdout, sp.Stderr
	sp.Stdout, sp.Stderr = nil, nil
	res, err := drain.Drain(out, errOut)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	sp.ClosePipes()
	st, err := b.Wait(sp, execution.WaitOptions{})
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	return res, st
}

func TestExitCodes(t *testing.T) {
	requireCommand(t, "/bin/sh")
	b := process.New(process.Options{})
	for _, code := range []int{0, 1, 7, 42, 255} {
		t.Run(strconv.Itoa(code), func(t *testing.T) {
			sp, err := b.Spawn(shSpec("exit " + strconv.Itoa(code)))
			if err != nil {
				t.Fatalf("Spawn: %v", err)
			}
			st, err := b.Wait(sp, execution.WaitOptions{})
			if err != nil {
				t.Fatalf("Wait: %v", err)
			}
			got, ok := st.Code()
			if !ok || got != code {
				t.Fatalf("status %v, want exit %d", st, code)
			}
			if st.Success() != (code == 0) {
				t.Fatalf("success %v for %d", st.Success(), code)
			}
		})
	}
}

func TestPipedOutputAndMerge(t *testing.T) {
	requireCommand(t, "/bin/sh")
	b := process.New(process.Options{})

	sp, err := b.Spawn(helperSpec("--stdout-bytes", "70000", "--stderr-bytes", "300"))
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	res, st := collect(t, b, sp)
	if len(res.Stdout) != 70000 || len(res.Stderr) != 300 {
		t.Fatalf("got %d/%d bytes", len(res.Stdout), len(res.Stderr))
	}
	if !st.Success() {
		t.Fatalf("status %v", st)
	}

	spec := helperSpec("--stdout-bytes", "1000", "--stderr-bytes", "24")
	spec.Stderr = stdio.DupStdoutAction()
	sp, err = b.Spawn(spec)
	if err != nil {
		t.Fatalf("Spawn merged: %v", err)
	}
	if sp.Stderr != nil {
		t.Fatalf("merged stderr should have no parent end")
	}
	res, _ = collect(t, b, sp)
	if len(res.Stdout) != 1024 || len(res.Stderr) != 0 {
		t.Fatalf("merged got %d/%d bytes", len(res.Stdout), len(res.Stderr))
	}
}

func TestStdinRoundTrip(t *testing.T) {
	requireCommand(t, "/bin/sh")
	b := process.New(process.Options{})
	spec := helperSpec("--echo-stdin")
	spec.Stdin = stdio.Action{Kind: stdio.ActionPiped}
	sp, err := b.Spawn(spec)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	payload := bytes.Repeat([]byte("0123456789abcdef"), 1<<16)
	in := sp.Stdin
	sp.Stdin = nil
	go func() {
		_, _ = in.Write(payload)
		_ = in.Close()
	}()
	res, st := collect(t, b, sp)
	if !bytes.Equal(res.Stdout, payload) {
		t.Fatalf("echoed %d bytes, want %d", len(res.Stdout), len(payload))
	}
	if !st.Success() {
		t.Fatalf("status %v", st)
	}
}

func TestFileStdio(t *testing.T) {
	requireCommand(t, "/bin/sh")
	b := process.New(process.Options{})
	out := filepath.Join(t.TempDir(), "out.txt")
	for i, mode := range []stdio.OpenMode{stdio.ModeWriteTruncate, stdio.ModeWriteAppend} {
		spec := shSpec("echo line" + strconv.Itoa(i))
		spec.Stdout = stdio.Action{Kind: stdio.ActionFile, Path: out, Mode: mode, Perm: stdio.DefaultPerm}
		sp, err := b.Spawn(spec)
		if err != nil {
			t.Fatalf("Spawn: %v", err)
		}
		if _, err := b.Wait(sp, execution.WaitOptions{}); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "line0\nline1\n" {
		t.Fatalf("file content %q", data)
	}

	spec := shSpec("cat")
	spec.Stdin = stdio.Action{Kind: stdio.ActionFile, Path: filepath.Join(t.TempDir(), "missing"), Mode: stdio.ModeRead}
	if _, err := b.Spawn(spec); procerr.CodeOf(err) != procerr.CodeOpenFailed {
		t.Fatalf("expected open_failed, got %v", err)
	}
}

func TestWorkingDirectory(t *testing.T) {
	requireCommand(t, "/bin/sh")
	dir := t.TempDir()
	want, err := filepath.EvalSymlinks(dir)
	if err != nil {
		t.Fatalf("EvalSymlinks: %v", err)
	}
	b := process.New(process.Options{})
	spec := helperSpec("--print-cwd")
	spec.Dir = dir
	sp, err := b.Spawn(spec)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	res, _ := collect(t, b, sp)
	if got, _ := filepath.EvalSymlinks(string(res.Stdout)); got != want {
		t.Fatalf("cwd %q, want %q", res.Stdout, want)
	}

	spec = shSpec("true")
	spec.Dir = filepath.Join(dir, "does-not-exist")
	_, err = b.Spawn(spec)
	if err == nil {
		t.Fatalf("expected error for missing directory")
	}
	if !errors.Is(err, syscall.ENOENT) {
		t.Fatalf("expected ENOENT, got %v", err)
	}
}

func TestForcedFastPathWithoutChdir(t *testing.T) {
	requireCommand(t, "/bin/sh")
	if process.HostCapabilities().SpawnChdir {
		t.Skip("fast path supports chdir here")
	}
	b := process.New(process.Options{Strategy: config.StrategyFast})
	spec := shSpec("true")
	spec.Dir = t.TempDir()
	if _, err := b.Spawn(spec); !errors.Is(err, procerr.ErrChdirFailed) {
		t.Fatalf("expected chdir_failed, got %v", err)
	}
}

func TestForcedStrategiesAgree(t *testing.T) {
	requireCommand(t, "/bin/sh")
	for _, strategy := range []string{config.StrategyFast, config.StrategyFork} {
		t.Run(strategy, func(t *testing.T) {
			b := process.New(process.Options{Strategy: strategy})
			forced, ok := b.ForcedStrategy()
			if !ok {
				t.Fatalf("strategy not forced")
			}
			sp, err := b.Spawn(helperSpec("--print-env", "PROCWIRE_PROBE", "--exit-code", "3"))
			if errors.Is(err, syscall.ENOSYS) && forced == execution.StrategyForkExec {
				t.Skip("fork path unavailable")
			}
			if err != nil {
				t.Fatalf("Spawn: %v", err)
			}
			res, st := collect(t, b, sp)
			if code, _ := st.Code(); code != 3 {
				t.Fatalf("status %v", st)
			}
			if len(res.Stdout) != 0 {
				t.Fatalf("unexpected output %q", res.Stdout)
			}
		})
	}
}

func TestExplicitEnvironment(t *testing.T) {
	requireCommand(t, "/bin/sh")
	b := process.New(process.Options{})
	spec := helperSpec("--print-env", "PROCWIRE_PROBE")
	spec.Env = append(spec.Env, "PROCWIRE_PROBE=from-spec")
	sp, err := b.Spawn(spec)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	res, _ := collect(t, b, sp)
	if string(res.Stdout) != "from-spec" {
		t.Fatalf("env value %q", res.Stdout)
	}
}

func TestPathLookupUsesChildEnvironment(t *testing.T) {
	requireCommand(t, "/bin/sh")
	dir := t.TempDir()
	script := filepath.Join(dir, "procwire-probe")
	if err := os.WriteFile(script, []byte("#!/bin/sh\necho found\n"), 0o755); err != nil {
		t.Fatalf("write: %v", err)
	}
	b := process.New(process.Options{})
	spec := execution.SpawnSpec{
		Argv:   []string{"procwire-probe"},
		Env:    []string{"PATH=" + dir},
		Stdin:  stdio.Action{Kind: stdio.ActionNull},
		Stdout: stdio.Action{Kind: stdio.ActionPiped},
		Stderr: stdio.Action{Kind: stdio.ActionNull},
	}
	sp, err := b.Spawn(spec)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	out := sp.Stdout
	sp.Stdout = nil
	data, err := out.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	_ = out.Close()
	if _, err := b.Wait(sp, execution.WaitOptions{}); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if strings.TrimSpace(string(data)) != "found" {
		t.Fatalf("output %q", data)
	}
}

func TestNonexistentProgram(t *testing.T) {
	requireCommand(t, "/bin/sh")
	for _, strategy := range []string{config.StrategyFast, config.StrategyFork} {
		t.Run(strategy, func(t *testing.T) {
			b := process.New(process.Options{Strategy: strategy})
			spec := shSpec("")
			spec.Argv = []string{filepath.Join(t.TempDir(), "no-such-program")}
			_, err := b.Spawn(spec)
			if errors.Is(err, syscall.ENOSYS) {
				t.Skip("fork path unavailable")
			}
			if !errors.Is(err, procerr.ErrSpawnFailed) {
				t.Fatalf("expected spawn_failed, got %v", err)
			}
			if !errors.Is(err, syscall.ENOENT) {
				t.Fatalf("expected ENOENT, got %v", err)
			}
		})
	}
}

func TestEmptyArgv(t *testing.T) {
	b := process.New(process.Options{})
	for _, argv := range [][]string{nil, {""}} {
		spec := shSpec("")
		spec.Argv = argv
		if _, err := b.Spawn(spec); !errors.Is(err, procerr.ErrEmptyArgv) {
			t.Fatalf("argv %q: expected empty_argv, got %v", argv, err)
		}
	}
}

func TestWaitTimeoutKills(t *testing.T) {
	requireCommand(t, "/bin/sh")
	b := process.New(process.Options{KillGrace: 50 * time.Millisecond})
	sp, err := b.Spawn(shSpec("sleep 2"))
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	start := time.Now()
	_, err = b.Wait(sp, execution.WaitOptions{Timeout: 10 * time.Millisecond})
	if !errors.Is(err, procerr.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("timed wait took %v", elapsed)
	}
	if _, done, err := b.TryWait(sp); err == nil && !done {
		t.Fatalf("child still running after timed wait")
	}
}

func TestTryWaitAndCachedStatus(t *testing.T) {
	requireCommand(t, "/bin/sh")
	b := process.New(process.Options{})
	sp, err := b.Spawn(shSpec("sleep 0.2; exit 4"))
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if _, done, err := b.TryWait(sp); err != nil || done {
		t.Fatalf("TryWait early: done=%v err=%v", done, err)
	}
	st, err := b.Wait(sp, execution.WaitOptions{})
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	again, done, err := b.TryWait(sp)
	if err != nil || !done || again != st {
		t.Fatalf("cached TryWait %v %v %v", again, done, err)
	}
	if second, err := b.Wait(sp, execution.WaitOptions{}); err != nil || second != st {
		t.Fatalf("second Wait %v %v", second, err)
	}
	if err := b.Kill(sp); !errors.Is(err, syscall.ESRCH) {
		t.Fatalf("kill after reap: %v", err)
	}
}

func TestConcurrentTryWaitAndWait(t *testing.T) {
	requireCommand(t, "/bin/sh")
	b := process.New(process.Options{})
	for i := 0; i < 20; i++ {
		sp, err := b.Spawn(shSpec("exit 3"))
		if err != nil {
			t.Fatalf("Spawn: %v", err)
		}
		waited := make(chan error, 1)
		go func() {
			st, err := b.Wait(sp, execution.WaitOptions{})
			if err == nil && st.ShellCode() != 3 {
				err = errors.New("wait status " + st.String())
			}
			waited <- err
		}()
		deadline := time.Now().Add(5 * time.Second)
		for {
			st, done, err := b.TryWait(sp)
			if err != nil {
				t.Fatalf("iteration %d: TryWait: %v", i, err)
			}
			if done {
				if st.ShellCode() != 3 {
					t.Fatalf("iteration %d: TryWait status %v", i, st)
				}
				break
			}
			if time.Now().After(deadline) {
				t.Fatalf("iteration %d: never done", i)
			}
			runtime.Gosched()
		}
		if err := <-waited; err != nil {
			t.Fatalf("iteration %d: Wait: %v", i, err)
		}
	}
}

func TestTerminateReportsSignal(t *testing.T) {
	requireCommand(t, "/bin/sh")
	b := process.New(process.Options{})
	sp, err := b.Spawn(shSpec("exec sleep 5"))
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if err := b.Terminate(sp); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	st, err := b.Wait(sp, execution.WaitOptions{})
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if sig, ok := st.Signal(); st.Kind() != status.KindOther || !ok || sig != syscall.SIGTERM {
		t.Fatalf("status %v", st)
	}
	if st.ShellCode() != 128+int(syscall.SIGTERM) {
		t.Fatalf("shell code %d", st.ShellCode())
	}
}

func TestNewProcessGroupKillsGrandchild(t *testing.T) {
	requireCommand(t, "/bin/sh")
	pidFile := filepath.Join(t.TempDir(), "grandchild.pid")
	b := process.New(process.Options{})
	spec := helperSpec("--spawn-grandchild", "--grandchild-sleep-ms", "5000", "--grandchild-pid-file", pidFile, "--sleep-ms", "5000")
	spec.Stdout = stdio.Action{Kind: stdio.ActionNull}
	spec.Stderr = stdio.Action{Kind: stdio.ActionNull}
	spec.Options.NewProcessGroup = true
	sp, err := b.Spawn(spec)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if sp.PGID != sp.PID || sp.SignalTarget() != -sp.PID {
		t.Fatalf("pgid %d target %d pid %d", sp.PGID, sp.SignalTarget(), sp.PID)
	}

	grandchild := waitForPID(t, pidFile)
	if pgid, err := syscall.Getpgid(grandchild); err != nil || pgid != sp.PID {
		t.Fatalf("grandchild pgid %d err %v", pgid, err)
	}
	if err := b.Kill(sp); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if _, err := b.Wait(sp, execution.WaitOptions{}); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		if !procfs.Alive(grandchild) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("grandchild %d survived group kill", grandchild)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func waitForPID(t *testing.T, path string) int {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		data, err := os.ReadFile(path)
		if err == nil && len(data) > 0 {
			pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
			if err == nil {
				return pid
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no pid in %s", path)
	return 0
}
