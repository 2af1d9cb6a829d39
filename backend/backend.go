// Package backend selects the process backend used by commands that were not
// given one explicitly.
package backend

import (
	"sync"
	"sync/atomic"

	"procwire/backend/process"
	"procwire/config"
	"procwire/core/execution"
	"procwire/core/logging"
)

type holder struct{ b execution.Backend }

var (
	active atomic.Pointer[holder]

	defaultOnce sync.Once
	defaultB    execution.Backend
)

// Default is the real process backend configured from the environment. It
// is built once.
func Default() execution.Backend {
	defaultOnce.Do(func() {
		cfg, err := config.FromEnv()
		if err != nil {
			logging.Component("backend").Warn().Err(err).Msg("invalid environment config, using defaults")
		}
		defaultB = process.FromConfig(cfg)
	})
	return defaultB
}

// Current returns the active backend: the innermost override, or Default.
func Current() execution.Backend {
	if h := active.Load(); h != nil {
		return h.b
	}
	return Default()
}

// Override makes b the active backend until restore runs.
func Override(b execution.Backend) (restore func()) {
	prev := active.Swap(&holder{b: b})
	return func() { active.Store(prev) }
}

// Use overrides the backend for the lifetime of a test.
func Use(tb interface{ Cleanup(func()) }, b execution.Backend) {
	tb.Cleanup(Override(b))
}
