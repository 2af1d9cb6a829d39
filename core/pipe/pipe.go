//go:build unix

// Package pipe owns the parent-side ends of pipes connected to children.
// Every descriptor created here is close-on-exec.
package pipe

import (
	"errors"
	"io"
	"os"
	"runtime"

	"golang.org/x/sys/unix"

	"procwire/core/procerr"
)

// ChunkSize is the read size used by ReadAll and the drainer.
const ChunkSize = 8192

// Make creates a close-on-exec pipe and returns its raw ends.
func Make() (r, w int, err error) {
	r, w, err = makeCloexec()
	if err != nil {
		return -1, -1, procerr.Wrap(procerr.CodePipeFailed, "pipe", err)
	}
	return r, w, nil
}

// New creates a pipe and wraps both ends.
func New() (*Reader, *Writer, error) {
	r, w, err := Make()
	if err != nil {
		return nil, nil, err
	}
	return NewReader(r), NewWriter(w), nil
}

// Reader is the sole owner of a readable descriptor. A Reader that is
// dropped without Close is closed by its finalizer.
type Reader struct {
	fd int
}

// NewReader takes ownership of fd.
func NewReader(fd int) *Reader {
	r := &Reader{fd: fd}
	runtime.SetFinalizer(r, (*Reader).Close)
	return r
}

// Fd returns the descriptor, or -1 once closed.
func (r *Reader) Fd() int { return r.fd }

// Read performs a single read. It returns io.EOF at end of stream.
func (r *Reader) Read(p []byte) (int, error) {
	if r.fd < 0 {
		return 0, procerr.Wrap(procerr.CodeReadFailed, "read", os.ErrClosed)
	}
	if len(p) == 0 {
		return 0, nil
	}
	for {
		n, err := unix.Read(r.fd, p)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, procerr.Wrap(procerr.CodeReadFailed, "read", err)
		}
		if n == 0 {
			return 0, io.EOF
		}
		return n, nil
	}
}

// ReadAll reads until end of stream.
func (r *Reader) ReadAll() ([]byte, error) {
	var out []byte
	buf := make([]byte, ChunkSize)
	for {
		n, err := r.Read(buf)
		out = append(out, buf[:n]...)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
	}
}

// Close is idempotent.
func (r *Reader) Close() error {
	fd := r.fd
	if fd < 0 {
		return nil
	}
	r.fd = -1
	runtime.SetFinalizer(r, nil)
	return closeFD(fd)
}

// Writer is the sole owner of a writable descriptor.
type Writer struct {
	fd int
}

// NewWriter takes ownership of fd.
func NewWriter(fd int) *Writer {
	w := &Writer{fd: fd}
	runtime.SetFinalizer(w, (*Writer).Close)
	return w
}

func (w *Writer) Fd() int { return w.fd }

// WriteSome performs a single write and reports how much was accepted.
func (w *Writer) WriteSome(p []byte) (int, error) {
	if w.fd < 0 {
		return 0, procerr.Wrap(procerr.CodeWriteFailed, "write", os.ErrClosed)
	}
	for {
		n, err := unix.Write(w.fd, p)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, procerr.Wrap(procerr.CodeWriteFailed, "write", err)
		}
		return n, nil
	}
}

// Write writes all of p.
func (w *Writer) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n, err := w.WriteSome(p[written:])
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

// WriteString writes all of s.
func (w *Writer) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}

// Close is idempotent.
func (w *Writer) Close() error {
	fd := w.fd
	if fd < 0 {
		return nil
	}
	w.fd = -1
	runtime.SetFinalizer(w, nil)
	return closeFD(fd)
}

func closeFD(fd int) error {
	if err := unix.Close(fd); err != nil {
		return procerr.Wrap(procerr.CodeCloseFailed, "close", err)
	}
	return nil
}

// SetNonblock switches fd to non-blocking mode.
func SetNonblock(fd int) error {
	if err := unix.SetNonblock(fd, true); err != nil {
		return procerr.Wrap(procerr.CodeReadFailed, "fcntl(O_NONBLOCK)", err)
	}
	return nil
}

var (
	_ io.ReadCloser   = (*Reader)(nil)
	_ io.WriteCloser  = (*Writer)(nil)
	_ io.StringWriter = (*Writer)(nil)
)
