//go:build unix && !(linux && (amd64 || arm64))

package process

import (
	"syscall"

	"procwire/core/execution"
	"procwire/core/procerr"
)

const forkSupported = false

func spawnFork(spec execution.SpawnSpec, path string, plan *stdioPlan) (int, error) {
	return 0, procerr.Wrap(procerr.CodeSpawnFailed, "fork strategy unavailable", syscall.ENOSYS)
}
