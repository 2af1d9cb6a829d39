//go:build linux && (amd64 || arm64)

package process

import (
	"errors"
	"runtime"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"

	"procwire/core/execution"
	"procwire/core/logging"
	"procwire/core/pipe"
	"procwire/core/procerr"
)

const forkSupported = true

// childExitCode is the exit status of a child whose prologue failed.
const childExitCode = 127

// maxCloseFD bounds the descriptor sweep when RLIMIT_NOFILE is unlimited.
const maxCloseFD = 1 << 20

//go:linkname runtimeBeforeFork syscall.runtime_BeforeFork
func runtimeBeforeFork()

//go:linkname runtimeAfterFork syscall.runtime_AfterFork
func runtimeAfterFork()

//go:linkname runtimeAfterForkInChild syscall.runtime_AfterForkInChild
func runtimeAfterForkInChild()

// beforeForkHook runs after all pre-fork preparation, right before the fork.
// Tests use it to open descriptors inside the race window.
var beforeForkHook func()

// afterReapHook observes the pid of a child reaped after a reported failure.
var afterReapHook func(pid int)

// prologue is everything the forked child needs, prepared by the parent. The
// child only reads it and issues raw system calls.
type prologue struct {
	path    *byte
	argv    []*byte
	envv    []*byte
	dir     *byte
	setpgid bool
	pgid    int
	src     [3]int
	errFD   int
	maxFD   int
}

func spawnFork(spec execution.SpawnSpec, path string, plan *stdioPlan) (int, error) {
	p := &prologue{maxFD: maxDescriptor()}
	var err error
	if p.path, err = syscall.BytePtrFromString(path); err != nil {
		return 0, procerr.Wrap(procerr.CodeSpawnFailed, "exec "+spec.Argv[0], err)
	}
	if p.argv, err = syscall.SlicePtrFromStrings(spec.Argv); err != nil {
		return 0, procerr.Wrap(procerr.CodeSpawnFailed, "argv", err)
	}
	if p.envv, err = syscall.SlicePtrFromStrings(spec.Env); err != nil {
		return 0, procerr.Wrap(procerr.CodeSpawnFailed, "env", err)
	}
	if spec.Dir != "" {
		if p.dir, err = syscall.BytePtrFromString(spec.Dir); err != nil {
			return 0, procerr.Wrap(procerr.CodeChdirFailed, spec.Dir, err)
		}
	}
	switch {
	case spec.Options.NewProcessGroup:
		p.setpgid = true
	case spec.ProcessGroup > 0:
		p.setpgid, p.pgid = true, spec.ProcessGroup
	}
	if err := plan.lowSlotsToHigh(); err != nil {
		return 0, err
	}
	p.src = plan.src

	errR, errW, err := errorPipe()
	if err != nil {
		return 0, err
	}
	p.errFD = errW

	if beforeForkHook != nil {
		beforeForkHook()
	}

	syscall.ForkLock.Lock()
	runtimeBeforeFork()
	pid, errno := forkChild(p)
	runtimeAfterFork()
	syscall.ForkLock.Unlock()
	runtime.KeepAlive(p)

	_ = unix.Close(errW)
	if errno != 0 {
		_ = unix.Close(errR)
		return 0, procerr.Wrap(procerr.CodeSpawnFailed, "fork", errno)
	}

	childErr, reported := readChildError(errR)
	_ = unix.Close(errR)
	if !reported {
		return pid, nil
	}

	// The child exits right after reporting; reap it so no zombie remains.
	_, _ = reap(pid)
	if afterReapHook != nil {
		afterReapHook(pid)
	}
	logging.Component("backend").Debug().Int("pid", pid).Err(childErr).Msg("child prologue failed, reaped")
	return 0, procerr.Wrap(procerr.CodeSpawnFailed, "exec "+spec.Argv[0], childErr)
}

// errorPipe creates the error-report pipe with its write end above stderr.
func errorPipe() (r, w int, err error) {
	r, w, err = pipe.Make()
	if err != nil {
		return -1, -1, err
	}
	if w < 3 {
		moved, dupErr := unix.FcntlInt(uintptr(w), unix.F_DUPFD_CLOEXEC, 3)
		_ = unix.Close(w)
		if dupErr != nil {
			_ = unix.Close(r)
			return -1, -1, procerr.Wrap(procerr.CodeDupFailed, "fcntl(F_DUPFD_CLOEXEC)", dupErr)
		}
		w = moved
	}
	return r, w, nil
}

// readChildError blocks until the child execs (EOF) or reports an errno.
func readChildError(fd int) (syscall.Errno, bool) {
	var code syscall.Errno
	buf := (*[unsafe.Sizeof(code)]byte)(unsafe.Pointer(&code))[:]
	n := 0
	for n < len(buf) {
		m, err := unix.Read(fd, buf[n:])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			var errno syscall.Errno
			if !errors.As(err, &errno) {
				errno = syscall.EIO
			}
			return errno, true
		}
		if m == 0 {
			break
		}
		n += m
	}
	switch {
	case n == 0:
		return 0, false
	case n < len(buf):
		return syscall.EPIPE, true
	}
	return code, true
}

func maxDescriptor() int {
	var lim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &lim); err != nil || lim.Cur > maxCloseFD {
		return maxCloseFD
	}
	return int(lim.Cur)
}

// forkChild forks the calling thread. In the child it never returns.
//
//go:norace
//go:nosplit
func forkChild(p *prologue) (pid int, err syscall.Errno) {
	r1, _, e1 := syscall.RawSyscall6(syscall.SYS_CLONE, uintptr(syscall.SIGCHLD), 0, 0, 0, 0, 0)
	if e1 != 0 {
		return 0, e1
	}
	if r1 != 0 {
		return int(r1), 0
	}
	runtimeAfterForkInChild()
	childFail(p.errFD, childSetup(p))
	return 0, 0
}

// childSetup runs the prologue steps in order: process group, directory,
// stdio slots, descriptor sweep, exec. It returns only on failure. Nothing
// here may allocate, lock or call into the scheduler.
//
//go:norace
//go:nosplit
func childSetup(p *prologue) syscall.Errno {
	if p.setpgid {
		if _, _, e := syscall.RawSyscall(syscall.SYS_SETPGID, 0, uintptr(p.pgid), 0); e != 0 {
			return e
		}
	}
	if p.dir != nil {
		if _, _, e := syscall.RawSyscall(syscall.SYS_CHDIR, uintptr(unsafe.Pointer(p.dir)), 0, 0); e != 0 {
			return e
		}
	}
	for slot := 0; slot < 3; slot++ {
		src := p.src[slot]
		if src == slot {
			continue
		}
		if _, _, e := syscall.RawSyscall(syscall.SYS_DUP3, uintptr(src), uintptr(slot), 0); e != 0 {
			return e
		}
	}
	childCloseRange(3, p.errFD-1)
	childCloseRange(p.errFD+1, p.maxFD-1)
	_, _, e := syscall.RawSyscall(syscall.SYS_EXECVE,
		uintptr(unsafe.Pointer(p.path)),
		uintptr(unsafe.Pointer(&p.argv[0])),
		uintptr(unsafe.Pointer(&p.envv[0])))
	return e
}

// childCloseRange closes [first, last], one by one when close_range(2) is
// unavailable.
//
//go:norace
//go:nosplit
func childCloseRange(first, last int) {
	if first > last {
		return
	}
	if _, _, e := syscall.RawSyscall(unix.SYS_CLOSE_RANGE, uintptr(first), uintptr(last), 0); e == 0 {
		return
	}
	for fd := first; fd <= last; fd++ {
		syscall.RawSyscall(syscall.SYS_CLOSE, uintptr(fd), 0, 0)
	}
}

// childFail reports err on the error pipe with a single write and exits.
//
//go:norace
//go:nosplit
func childFail(fd int, err syscall.Errno) {
	syscall.RawSyscall(syscall.SYS_WRITE, uintptr(fd), uintptr(unsafe.Pointer(&err)), unsafe.Sizeof(err))
	for {
		syscall.RawSyscall(syscall.SYS_EXIT_GROUP, childExitCode, 0, 0)
	}
}
