package main

import (
	"io"

	"procwire/core/drain"
	"procwire/core/pipe"
)

// pipedHandle is satisfied by runner.Child and runner.PipelineChild.
type pipedHandle interface {
	TakeStdin() *pipe.Writer
	TakeStdout() *pipe.Reader
	TakeStderr() *pipe.Reader
}

// relay feeds in to a piped stdin and collects piped output in the
// background. The returned func blocks until output reaches EOF.
func relay(h pipedHandle, in io.Reader) func() (drain.Result, error) {
	if w := h.TakeStdin(); w != nil {
		go func() {
			if in != nil {
				_, _ = io.Copy(w, in)
			}
			_ = w.Close()
		}()
	}
	type result struct {
		res drain.Result
		err error
	}
	done := make(chan result, 1)
	stdout, stderr := h.TakeStdout(), h.TakeStderr()
	go func() {
		res, err := drain.Drain(stdout, stderr)
		done <- result{res: res, err: err}
	}()
	return func() (drain.Result, error) {
		r := <-done
		return r.res, r.err
	}
}
