package execution

import (
	"time"

	"procwire/config"
)

// CapabilityProvider is implemented by backends that can report their
// fast-path capabilities and forced strategy.
type CapabilityProvider interface {
	Capabilities() Capabilities
	// ForcedStrategy returns the strategy used for every spawn, if any.
	ForcedStrategy() (Strategy, bool)
}

// KillGraceProvider is implemented by backends with a configured default
// kill grace.
type KillGraceProvider interface {
	DefaultKillGrace() time.Duration
}

// DefaultKillGrace applies when neither the caller nor the backend sets one.
const DefaultKillGrace = config.DefaultKillGrace

// ResolveWaitOptions fills a zero KillGrace from b, or DefaultKillGrace.
func ResolveWaitOptions(b Backend, opts WaitOptions) WaitOptions {
	if opts.KillGrace > 0 {
		return opts
	}
	opts.KillGrace = DefaultKillGrace
	if p, ok := b.(KillGraceProvider); ok && p.DefaultKillGrace() > 0 {
		opts.KillGrace = p.DefaultKillGrace()
	}
	return opts
}
