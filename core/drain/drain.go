//go:build unix

// Package drain reads a child's stdout and stderr pipes concurrently to EOF
// on the calling goroutine, using poll(2) so neither pipe can fill up while
// the other is being read.
package drain

import (
	"errors"

	"golang.org/x/sys/unix"

	"procwire/core/pipe"
	"procwire/core/procerr"
)

// Result holds everything read from each stream.
type Result struct {
	Stdout []byte
	Stderr []byte
}

type stream struct {
	r   *pipe.Reader
	out *[]byte
}

// Drain takes ownership of stdout and stderr (either may be nil), reads both
// to EOF and closes them.
func Drain(stdout, stderr *pipe.Reader) (Result, error) {
	var res Result
	var open []*stream
	if stdout != nil {
		open = append(open, &stream{r: stdout, out: &res.Stdout})
	}
	if stderr != nil {
		open = append(open, &stream{r: stderr, out: &res.Stderr})
	}
	defer func() {
		for _, s := range open {
			_ = s.r.Close()
		}
	}()

	for _, s := range open {
		if err := pipe.SetNonblock(s.r.Fd()); err != nil {
			return res, err
		}
	}

	buf := make([]byte, pipe.ChunkSize)
	fds := make([]unix.PollFd, 0, 2)
	for len(open) > 0 {
		fds = fds[:0]
		for _, s := range open {
			fds = append(fds, unix.PollFd{Fd: int32(s.r.Fd()), Events: unix.POLLIN})
		}
		if _, err := unix.Poll(fds, -1); err != nil {
			if err == unix.EINTR {
				continue
			}
			return res, procerr.Wrap(procerr.CodeReadFailed, "poll", err)
		}

		remaining := open[:0]
		for i, s := range open {
			revents := fds[i].Revents
			if revents&unix.POLLNVAL != 0 {
				return res, procerr.Wrap(procerr.CodeReadFailed, "poll", unix.EBADF)
			}
			if revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) == 0 {
				remaining = append(remaining, s)
				continue
			}
			eof, err := readAvailable(s, buf)
			if err != nil {
				return res, err
			}
			if eof {
				if err := s.r.Close(); err != nil {
					return res, err
				}
				continue
			}
			remaining = append(remaining, s)
		}
		open = remaining
	}
	return res, nil
}

// readAvailable reads until the pipe would block or reaches EOF.
func readAvailable(s *stream, buf []byte) (eof bool, err error) {
	for {
		n, err := unix.Read(s.r.Fd(), buf)
		switch {
		case err == unix.EINTR:
			continue
		case errors.Is(err, unix.EAGAIN):
			return false, nil
		case err != nil:
			return false, procerr.Wrap(procerr.CodeReadFailed, "read", err)
		case n == 0:
			return true, nil
		}
		*s.out = append(*s.out, buf[:n]...)
	}
}
