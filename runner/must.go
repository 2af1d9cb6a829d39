package runner

import "procwire/core/status"

// Must returns v, panicking with err when it is non-nil. It is meant for
// programs and tests where a failed spawn is unrecoverable.
func Must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func (c *Command) MustSpawn() *Child { return Must(c.Spawn()) }

func (c *Command) MustStatus() status.ExitStatus { return Must(c.Status()) }

func (c *Command) MustOutput() status.Output { return Must(c.Output()) }

func (p *Pipeline) MustSpawn() *PipelineChild { return Must(p.Spawn()) }

func (p *Pipeline) MustStatus() status.ExitStatus { return Must(p.Status()) }

func (p *Pipeline) MustOutput() status.Output { return Must(p.Output()) }
