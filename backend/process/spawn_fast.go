//go:build unix

package process

import (
	"syscall"

	"procwire/core/execution"
	"procwire/core/procerr"
)

// fastActions is the ordered action list handed to the runtime's spawn:
// directory change, process-group attribute, then one descriptor per slot.
// The runtime applies it in the child between clone and exec; the raw pipe
// ends are close-on-exec and vanish at exec.
type fastActions struct {
	dir   string
	attr  syscall.SysProcAttr
	files []uintptr
}

func buildFastActions(spec execution.SpawnSpec, plan *stdioPlan) fastActions {
	acts := fastActions{dir: spec.Dir}
	switch {
	case spec.Options.NewProcessGroup:
		acts.attr.Setpgid = true
	case spec.ProcessGroup > 0:
		acts.attr.Setpgid = true
		acts.attr.Pgid = spec.ProcessGroup
	}
	acts.files = []uintptr{uintptr(plan.src[0]), uintptr(plan.src[1]), uintptr(plan.src[2])}
	return acts
}

func spawnFast(spec execution.SpawnSpec, path string, plan *stdioPlan) (int, error) {
	acts := buildFastActions(spec, plan)
	env := spec.Env
	if env == nil {
		env = []string{}
	}
	pid, err := syscall.ForkExec(path, spec.Argv, &syscall.ProcAttr{
		Dir:   acts.dir,
		Env:   env,
		Files: acts.files,
		Sys:   &acts.attr,
	})
	if err != nil {
		return 0, procerr.Wrap(procerr.CodeSpawnFailed, "exec "+spec.Argv[0], err)
	}
	return pid, nil
}
