package stdio

import (
	"fmt"
	"strconv"
	"strings"
)

var modeNames = map[string]OpenMode{
	"read":      ModeRead,
	"truncate":  ModeWriteTruncate,
	"append":    ModeWriteAppend,
	"readwrite": ModeReadWrite,
}

// Parse reads the textual form used by the CLI and pipeline files:
// inherit, null, pipe, fd:N, file:PATH or file:PATH:MODE where MODE is one of
// read, truncate, append, readwrite.
func Parse(value string) (Stdio, error) {
	switch value {
	case "", "inherit":
		return Inherit(), nil
	case "null":
		return Null(), nil
	case "pipe", "piped":
		return Piped(), nil
	}
	if raw, ok := strings.CutPrefix(value, "fd:"); ok {
		fd, err := strconv.Atoi(raw)
		if err != nil {
			return Stdio{}, fmt.Errorf("stdio %q: bad fd: %w", value, err)
		}
		return FD(fd), nil
	}
	if path, ok := strings.CutPrefix(value, "file:"); ok {
		if idx := strings.LastIndex(path, ":"); idx > 0 {
			if mode, known := modeNames[path[idx+1:]]; known {
				return FileMode(path[:idx], mode), nil
			}
		}
		if path == "" {
			return Stdio{}, fmt.Errorf("stdio %q: empty path", value)
		}
		return File(path), nil
	}
	return Stdio{}, fmt.Errorf("stdio %q: unknown form", value)
}
