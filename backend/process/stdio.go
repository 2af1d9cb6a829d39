//go:build unix

package process

import (
	"os"

	"golang.org/x/sys/unix"

	"procwire/core/execution"
	"procwire/core/pipe"
	"procwire/core/procerr"
	"procwire/core/stdio"
)

// stdioPlan is the descriptor layout for one spawn: src[i] is the parent
// descriptor that becomes slot i in the child. Everything opened here is
// close-on-exec, so only the three slots reach the exec'ed program.
type stdioPlan struct {
	src [3]int
	// childEnds are opened for the child only and closed once the spawn returns.
	childEnds []int
	stdinW    int
	stdoutR   int
	stderrR   int
}

func prepareStdio(spec execution.SpawnSpec) (*stdioPlan, error) {
	p := &stdioPlan{src: [3]int{0, 1, 2}, stdinW: -1, stdoutR: -1, stderrR: -1}
	actions := [3]stdio.Action{spec.Stdin, spec.Stdout, spec.Stderr}
	for slot, act := range actions {
		if err := p.resolve(slot, act); err != nil {
			p.closeChildEnds()
			p.closeParentEnds()
			return nil, err
		}
	}
	return p, nil
}

func (p *stdioPlan) resolve(slot int, act stdio.Action) error {
	switch act.Kind {
	case stdio.ActionInherit:
		p.src[slot] = slot
	case stdio.ActionNull:
		flags := unix.O_WRONLY
		if slot == 0 {
			flags = unix.O_RDONLY
		}
		fd, err := openCloexec(os.DevNull, flags, 0)
		if err != nil {
			return procerr.Wrap(procerr.CodeOpenFailed, os.DevNull, err)
		}
		p.src[slot] = fd
	case stdio.ActionPiped:
		r, w, err := pipe.Make()
		if err != nil {
			return err
		}
		if slot == 0 {
			p.childEnds = append(p.childEnds, r)
			p.src[slot] = r
			p.stdinW = w
		} else {
			p.childEnds = append(p.childEnds, w)
			p.src[slot] = w
			if slot == 1 {
				p.stdoutR = r
			} else {
				p.stderrR = r
			}
		}
		return nil
	case stdio.ActionFD:
		if act.FD < 0 {
			return procerr.New(procerr.CodeInvalidStdio, "negative fd")
		}
		p.src[slot] = act.FD
		return nil
	case stdio.ActionFile:
		fd, err := openCloexec(act.Path, act.Mode.Flags(), uint32(act.Perm.Perm()))
		if err != nil {
			return procerr.Wrap(procerr.CodeOpenFailed, act.Path, err)
		}
		p.src[slot] = fd
	case stdio.ActionDupStdout:
		if slot != 2 {
			return procerr.New(procerr.CodeInvalidStdio, "dup-stdout is only valid for stderr")
		}
		p.src[slot] = p.src[1]
		return nil
	default:
		return procerr.New(procerr.CodeInvalidStdio, "unknown action "+act.Kind.String())
	}
	if act.Kind != stdio.ActionInherit {
		p.childEnds = append(p.childEnds, p.src[slot])
	}
	return nil
}

func openCloexec(path string, flags int, perm uint32) (int, error) {
	for {
		fd, err := unix.Open(path, flags|unix.O_CLOEXEC, perm)
		if err == unix.EINTR {
			continue
		}
		return fd, err
	}
}

// lowSlotsToHigh moves sources living in slots 0-2 but destined for another
// slot above stderr, so placing one slot cannot clobber another's source.
func (p *stdioPlan) lowSlotsToHigh() error {
	for slot, fd := range p.src {
		if fd >= 3 || fd == slot {
			continue
		}
		moved, err := unix.FcntlInt(uintptr(fd), unix.F_DUPFD_CLOEXEC, 3)
		if err != nil {
			return procerr.Wrap(procerr.CodeDupFailed, "fcntl(F_DUPFD_CLOEXEC)", err)
		}
		p.childEnds = append(p.childEnds, moved)
		p.src[slot] = moved
	}
	return nil
}

func (p *stdioPlan) closeChildEnds() {
	for _, fd := range p.childEnds {
		_ = unix.Close(fd)
	}
	p.childEnds = nil
}

func (p *stdioPlan) closeParentEnds() {
	for _, fd := range []*int{&p.stdinW, &p.stdoutR, &p.stderrR} {
		if *fd >= 0 {
			_ = unix.Close(*fd)
			*fd = -1
		}
	}
}
