//go:build unix

package process

import (
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"procwire/core/procerr"
)

// DefaultPath is searched when the child environment has no PATH.
const DefaultPath = "/usr/bin:/bin"

// resolveProgram finds the executable for argv0 before any process is
// created. Names containing a slash are used as given; otherwise each PATH
// entry from the child's environment is tried in order. Empty entries mean
// the current directory, and relative entries are taken against dir, the
// directory the child will run in.
func resolveProgram(argv0 string, env []string, dir string) (string, error) {
	if strings.Contains(argv0, "/") {
		return argv0, nil
	}
	path, ok := lookupEnv(env, "PATH")
	if !ok {
		path = DefaultPath
	}
	var denied error
	for _, entry := range filepath.SplitList(path) {
		if entry == "" {
			entry = "."
		}
		candidate := filepath.Join(entry, argv0)
		probe := candidate
		if !filepath.IsAbs(probe) && dir != "" {
			probe = filepath.Join(dir, probe)
		}
		err := checkExecutable(probe)
		if err == nil {
			if abs, absErr := filepath.Abs(probe); absErr == nil {
				probe = abs
			}
			return probe, nil
		}
		if err == syscall.EACCES && denied == nil {
			denied = err
		}
	}
	if denied != nil {
		return "", procerr.Wrap(procerr.CodeSpawnFailed, "exec "+argv0, denied)
	}
	return "", procerr.Wrap(procerr.CodeSpawnFailed, "exec "+argv0, syscall.ENOENT)
}

func checkExecutable(path string) error {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return err
	}
	if st.Mode&unix.S_IFMT == unix.S_IFDIR {
		return syscall.EACCES
	}
	return unix.Access(path, unix.X_OK)
}

// lookupEnv returns the last KEY=VALUE entry for key.
func lookupEnv(env []string, key string) (string, bool) {
	prefix := key + "="
	value, found := "", false
	for _, kv := range env {
		if v, ok := strings.CutPrefix(kv, prefix); ok {
			value, found = v, true
		}
	}
	return value, found
}
