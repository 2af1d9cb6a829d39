package status

import "fmt"

// Kind distinguishes a normal exit from any other termination.
type Kind uint8

const (
	KindExited Kind = iota
	KindOther
)

// ExitStatus is the outcome of a reaped process. Native holds the raw wait
// status bits reported by the OS.
type ExitStatus struct {
	kind   Kind
	code   int
	native uint32
}

// Exited builds a status for a process that called exit(code).
func Exited(code int, native uint32) ExitStatus {
	return ExitStatus{kind: KindExited, code: code, native: native}
}

// Other builds a status for a process that ended any other way (signal).
func Other(native uint32) ExitStatus {
	return ExitStatus{kind: KindOther, native: native}
}

func (s ExitStatus) Kind() Kind { return s.kind }

// Code returns the exit code; ok is false when the process did not exit normally.
func (s ExitStatus) Code() (code int, ok bool) {
	if s.kind != KindExited {
		return 0, false
	}
	return s.code, true
}

func (s ExitStatus) Native() uint32 { return s.native }

// Success reports Exited(0).
func (s ExitStatus) Success() bool {
	return s.kind == KindExited && s.code == 0
}

// ShellCode returns the exit code, or 128+signal for signalled processes, the
// way a POSIX shell reports $?.
func (s ExitStatus) ShellCode() int {
	if s.kind == KindExited {
		return s.code
	}
	if sig, ok := s.Signal(); ok {
		return 128 + int(sig)
	}
	return 1
}

func (s ExitStatus) String() string {
	if s.kind == KindExited {
		return fmt.Sprintf("exit status %d", s.code)
	}
	if sig, ok := s.Signal(); ok {
		return fmt.Sprintf("signal: %v", sig)
	}
	return fmt.Sprintf("wait status %#x", s.native)
}

// PipelineStatus holds one status per stage plus the aggregate chosen by the
// pipefail policy.
type PipelineStatus struct {
	Stages    []ExitStatus
	Aggregate ExitStatus
}

func (p PipelineStatus) Success() bool { return p.Aggregate.Success() }

// Aggregate picks the pipeline status: with pipefail the first non-success
// stage in order, otherwise (or when every stage succeeded) the last stage.
func Aggregate(stages []ExitStatus, pipefail bool) ExitStatus {
	if len(stages) == 0 {
		return ExitStatus{}
	}
	if pipefail {
		for _, st := range stages {
			if !st.Success() {
				return st
			}
		}
	}
	return stages[len(stages)-1]
}

// Output is the result of running a command or pipeline with capture.
type Output struct {
	Status ExitStatus
	Stdout []byte
	Stderr []byte
}
