// Package stdio describes how a child's standard stream is wired and resolves
// that description into a concrete action for a backend.
package stdio

import (
	"fmt"
	"os"

	"procwire/core/procerr"
)

// Kind tags the Stdio variant.
type Kind uint8

const (
	KindInherit Kind = iota
	KindNull
	KindPiped
	KindFD
	KindFile
)

func (k Kind) String() string {
	switch k {
	case KindInherit:
		return "inherit"
	case KindNull:
		return "null"
	case KindPiped:
		return "piped"
	case KindFD:
		return "fd"
	case KindFile:
		return "file"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// OpenMode selects how a File stream is opened. ModeDefault picks read for
// stdin and write-truncate for stdout/stderr.
type OpenMode uint8

const (
	ModeDefault OpenMode = iota
	ModeRead
	ModeWriteTruncate
	ModeWriteAppend
	ModeReadWrite
)

func (m OpenMode) Readable() bool { return m == ModeRead || m == ModeReadWrite }

func (m OpenMode) Writable() bool {
	return m == ModeWriteTruncate || m == ModeWriteAppend || m == ModeReadWrite
}

// Flags returns the open(2) flags for the mode, without O_CLOEXEC.
func (m OpenMode) Flags() int {
	switch m {
	case ModeRead:
		return os.O_RDONLY
	case ModeWriteTruncate:
		return os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	case ModeWriteAppend:
		return os.O_WRONLY | os.O_CREATE | os.O_APPEND
	case ModeReadWrite:
		return os.O_RDWR | os.O_CREATE
	}
	return os.O_RDONLY
}

func (m OpenMode) String() string {
	switch m {
	case ModeDefault:
		return "default"
	case ModeRead:
		return "read"
	case ModeWriteTruncate:
		return "truncate"
	case ModeWriteAppend:
		return "append"
	case ModeReadWrite:
		return "readwrite"
	}
	return fmt.Sprintf("mode(%d)", uint8(m))
}

// DefaultPerm is used for files created by a File stream without explicit bits.
const DefaultPerm os.FileMode = 0o666

// Stdio is the per-stream configuration. File and FD values are descriptions;
// nothing is opened or owned until a backend resolves them.
type Stdio struct {
	kind    Kind
	fd      int
	path    string
	mode    OpenMode
	perm    os.FileMode
	hasPerm bool
}

func Inherit() Stdio { return Stdio{kind: KindInherit} }
func Null() Stdio    { return Stdio{kind: KindNull} }
func Piped() Stdio   { return Stdio{kind: KindPiped} }

// FD wires the stream to an existing descriptor owned by the caller.
func FD(fd int) Stdio { return Stdio{kind: KindFD, fd: fd} }

// File opens path with the direction's default mode.
func File(path string) Stdio { return Stdio{kind: KindFile, path: path} }

// FileMode opens path with an explicit mode.
func FileMode(path string, mode OpenMode) Stdio {
	return Stdio{kind: KindFile, path: path, mode: mode}
}

// FileWithPerm opens path with an explicit mode and creation permission bits.
func FileWithPerm(path string, mode OpenMode, perm os.FileMode) Stdio {
	return Stdio{kind: KindFile, path: path, mode: mode, perm: perm, hasPerm: true}
}

func (s Stdio) Kind() Kind { return s.kind }

func (s Stdio) String() string {
	switch s.kind {
	case KindFD:
		return fmt.Sprintf("fd:%d", s.fd)
	case KindFile:
		if s.mode == ModeDefault {
			return "file:" + s.path
		}
		return fmt.Sprintf("file:%s:%s", s.path, s.mode)
	}
	return s.kind.String()
}

// Direction is the data flow of a stream relative to the child.
type Direction uint8

const (
	Input  Direction = iota // stdin
	Output                  // stdout, stderr
)

// ActionKind is the resolved wiring for one stream slot.
type ActionKind uint8

const (
	ActionInherit ActionKind = iota
	ActionNull
	ActionPiped
	ActionFD
	ActionFile
	ActionDupStdout
)

func (k ActionKind) String() string {
	switch k {
	case ActionInherit:
		return "inherit"
	case ActionNull:
		return "null"
	case ActionPiped:
		return "piped"
	case ActionFD:
		return "fd"
	case ActionFile:
		return "file"
	case ActionDupStdout:
		return "dup-stdout"
	}
	return fmt.Sprintf("action(%d)", uint8(k))
}

// Action is a fully resolved stream wiring. FD is set for ActionFD; Path,
// Mode and Perm for ActionFile.
type Action struct {
	Kind ActionKind
	FD   int
	Path string
	Mode OpenMode
	Perm os.FileMode
}

func InheritAction() Action   { return Action{Kind: ActionInherit} }
func DupStdoutAction() Action { return Action{Kind: ActionDupStdout} }

// FDAction wires a slot to an existing descriptor.
func FDAction(fd int) Action { return Action{Kind: ActionFD, FD: fd} }

// Resolve turns an optional configuration into an action. An absent config
// resolves to Piped when pipedDefault is set and Inherit otherwise.
func Resolve(cfg *Stdio, pipedDefault bool, dir Direction) (Action, error) {
	if cfg == nil {
		if pipedDefault {
			return Action{Kind: ActionPiped}, nil
		}
		return Action{Kind: ActionInherit}, nil
	}
	switch cfg.kind {
	case KindInherit:
		return Action{Kind: ActionInherit}, nil
	case KindNull:
		return Action{Kind: ActionNull}, nil
	case KindPiped:
		return Action{Kind: ActionPiped}, nil
	case KindFD:
		if cfg.fd < 0 {
			return Action{}, procerr.New(procerr.CodeInvalidStdio, fmt.Sprintf("negative fd %d", cfg.fd))
		}
		return Action{Kind: ActionFD, FD: cfg.fd}, nil
	case KindFile:
		return resolveFile(cfg, dir)
	}
	return Action{}, procerr.New(procerr.CodeInvalidStdio, "unknown stdio "+cfg.kind.String())
}

func resolveFile(cfg *Stdio, dir Direction) (Action, error) {
	mode := cfg.mode
	if mode == ModeDefault {
		mode = ModeWriteTruncate
		if dir == Input {
			mode = ModeRead
		}
	}
	if dir == Input && !mode.Readable() {
		return Action{}, procerr.New(procerr.CodeInvalidStdio, fmt.Sprintf("stdin file %s opened %s", cfg.path, mode))
	}
	if dir == Output && !mode.Writable() {
		return Action{}, procerr.New(procerr.CodeInvalidStdio, fmt.Sprintf("output file %s opened %s", cfg.path, mode))
	}
	perm := DefaultPerm
	if cfg.hasPerm {
		perm = cfg.perm
	}
	return Action{Kind: ActionFile, Path: cfg.path, Mode: mode, Perm: perm}, nil
}
