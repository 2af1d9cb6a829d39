// Package childproc is a scriptable child process for tests. A test binary
// calls Main from TestMain; when re-executed with EnvVar set it behaves as a
// small program with predictable output, exit status, timing and descriptor
// reporting instead of running the tests.
package childproc

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/pflag"
)

// EnvVar switches a re-executed test binary into helper mode.
const EnvVar = "PROCWIRE_CHILDPROC"

const (
	chunkSize                = 4096
	defaultGrandchildSleepMs = 1000
)

// Options are the helper's flags. Steps run in field order.
type Options struct {
	SpawnGrandchild        bool
	GrandchildSleepMs      int
	GrandchildPIDFile      string
	GrandchildWriteOpenFDs string
	SleepMs                int
	EchoStdin              bool
	ConsumeStdin           bool
	StdoutBytes            int
	StderrBytes            int
	PrintEnv               string
	PrintCwd               bool
	WriteOpenFDs           string
	ExitCode               int
}

func flagSet(opts *Options) *pflag.FlagSet {
	fs := pflag.NewFlagSet("childproc", pflag.ContinueOnError)
	fs.IntVar(&opts.SleepMs, "sleep-ms", 0, "sleep before doing anything else")
	fs.BoolVar(&opts.SpawnGrandchild, "spawn-grandchild", false, "start a grandchild in the same process group")
	fs.IntVar(&opts.GrandchildSleepMs, "grandchild-sleep-ms", defaultGrandchildSleepMs, "how long the grandchild sleeps")
	fs.StringVar(&opts.GrandchildPIDFile, "grandchild-pid-file", "", "write the grandchild pid here")
	fs.StringVar(&opts.GrandchildWriteOpenFDs, "grandchild-write-open-fds", "", "have the grandchild report its descriptors here and wait for it")
	fs.BoolVar(&opts.EchoStdin, "echo-stdin", false, "copy stdin to stdout until EOF")
	fs.BoolVar(&opts.ConsumeStdin, "consume-stdin", false, "read and discard stdin until EOF")
	fs.IntVar(&opts.StdoutBytes, "stdout-bytes", 0, "write this many 'a' bytes to stdout")
	fs.IntVar(&opts.StderrBytes, "stderr-bytes", 0, "write this many 'b' bytes to stderr")
	fs.StringVar(&opts.PrintEnv, "print-env", "", "print the value of this environment variable")
	fs.BoolVar(&opts.PrintCwd, "print-cwd", false, "print the working directory")
	fs.StringVar(&opts.WriteOpenFDs, "write-open-fds", "", "write open descriptors and their targets to this file")
	fs.IntVar(&opts.ExitCode, "exit-code", 0, "exit status")
	return fs
}

// Main runs the helper and exits when EnvVar is set. Otherwise it returns.
func Main() {
	if os.Getenv(EnvVar) != "1" {
		return
	}
	os.Exit(Run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// Argv is the argument vector that runs the helper with args.
func Argv(args ...string) []string {
	exe, err := os.Executable()
	if err != nil {
		exe = os.Args[0]
	}
	return append([]string{exe}, args...)
}

// Env is the KEY=VALUE entry a child needs to run as the helper.
func Env() string { return EnvVar + "=1" }

// Run executes the helper steps and returns the exit status.
func Run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var opts Options
	if err := flagSet(&opts).Parse(args); err != nil {
		fmt.Fprintln(stderr, "invalid args:", err)
		return 2
	}

	if opts.SpawnGrandchild {
		if err := spawnGrandchild(opts); err != nil {
			fmt.Fprintln(stderr, "grandchild:", err)
			return 1
		}
	}
	if opts.SleepMs > 0 {
		time.Sleep(time.Duration(opts.SleepMs) * time.Millisecond)
	}
	if opts.EchoStdin {
		_, _ = io.Copy(stdout, stdin)
	}
	if opts.ConsumeStdin {
		_, _ = io.Copy(io.Discard, stdin)
	}
	writeFill(stdout, opts.StdoutBytes, 'a')
	writeFill(stderr, opts.StderrBytes, 'b')
	if opts.PrintEnv != "" {
		if v, ok := os.LookupEnv(opts.PrintEnv); ok {
			_, _ = io.WriteString(stdout, v)
		}
	}
	if opts.PrintCwd {
		if wd, err := os.Getwd(); err == nil {
			_, _ = io.WriteString(stdout, wd)
		}
	}
	if opts.WriteOpenFDs != "" {
		if err := writeOpenFDs(opts.WriteOpenFDs); err != nil {
			fmt.Fprintln(stderr, "open fds:", err)
			return 1
		}
	}
	return opts.ExitCode
}

func spawnGrandchild(opts Options) error {
	args := []string{"--sleep-ms", strconv.Itoa(opts.GrandchildSleepMs)}
	if opts.GrandchildWriteOpenFDs != "" {
		args = []string{"--write-open-fds", opts.GrandchildWriteOpenFDs}
	}
	argv := Argv(args...)
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), Env())
	if err := cmd.Start(); err != nil {
		return err
	}
	if opts.GrandchildPIDFile != "" {
		if err := os.WriteFile(opts.GrandchildPIDFile, []byte(strconv.Itoa(cmd.Process.Pid)), 0o644); err != nil {
			return err
		}
	}
	if opts.GrandchildWriteOpenFDs != "" {
		return cmd.Wait()
	}
	return nil
}

func writeFill(w io.Writer, n int, fill byte) {
	chunk := bytes.Repeat([]byte{fill}, chunkSize)
	for n > 0 {
		m := min(n, len(chunk))
		if _, err := w.Write(chunk[:m]); err != nil {
			return
		}
		n -= m
	}
}

// writeOpenFDs records one "FD TARGET" line per open descriptor.
func writeOpenFDs(path string) error {
	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		return err
	}
	fds := make([]int, 0, len(entries))
	for _, e := range entries {
		if fd, err := strconv.Atoi(e.Name()); err == nil {
			fds = append(fds, fd)
		}
	}
	sort.Ints(fds)
	var buf bytes.Buffer
	for _, fd := range fds {
		target, err := os.Readlink("/proc/self/fd/" + strconv.Itoa(fd))
		if err != nil {
			// The directory handle used for the listing is gone by now.
			continue
		}
		fmt.Fprintf(&buf, "%d %s\n", fd, target)
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// ReadOpenFDs parses a file written by --write-open-fds into fd -> target.
func ReadOpenFDs(path string) (map[int]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	out := map[int]string{}
	for _, line := range bytes.Split(bytes.TrimSpace(data), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		fdText, target, _ := bytes.Cut(line, []byte(" "))
		fd, err := strconv.Atoi(string(fdText))
		if err != nil {
			return nil, fmt.Errorf("bad line %q: %w", line, err)
		}
		out[fd] = string(target)
	}
	return out, nil
}
