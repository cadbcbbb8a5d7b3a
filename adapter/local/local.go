// Package local implements the local-process backend (spec §4.6): commands
// run via os/exec in the current machine's environment. Grounded on the
// teacher's LocalSession, generalized from a single argv+opts Run method to
// the full command.Command surface (shell modes, stdin variants, bounded
// capture, process-group cancellation).
package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"syscall"

	"github.com/aledsdavies/xrun/adapter"
	"github.com/aledsdavies/xrun/command"
	"github.com/aledsdavies/xrun/internal/invariant"
	"github.com/aledsdavies/xrun/stream"
	"github.com/aledsdavies/xrun/xerr"
)

var _ adapter.Adapter = (*Adapter)(nil)

// runner implements adapter.Runner by spawning a local child process.
type runner struct{}

// Adapter is the local-process backend. It has no connections or leases to
// dispose of; IsAvailable always reports true since "the local machine" is
// never unreachable in the way a remote backend can be.
type Adapter struct {
	*adapter.Base
}

// New constructs the local Adapter, ready to execute commands.
func New(opts ...adapter.Option) *Adapter {
	return &Adapter{Base: adapter.NewBase(command.Local, "local", runner{}, opts...)}
}

// IsAvailable always returns true for the local backend.
func (a *Adapter) IsAvailable(ctx context.Context) bool { return true }

// Dispose is a no-op; the local backend holds no external resources.
func (a *Adapter) Dispose() error { return nil }

// Run spawns cmd as a local child process and waits for it to finish or for
// ctx to be done.
func (runner) Run(ctx context.Context, cmd command.Command) (adapter.Raw, error) {
	invariant.NotNil(ctx, "ctx")

	argv, err := argvFor(cmd)
	if err != nil {
		return adapter.Raw{}, xerr.Wrap(xerr.KindValidation, "building local argv", err)
	}
	invariant.Precondition(len(argv) > 0, "argv cannot be empty")

	execCmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if cmd.Dir != "" {
		execCmd.Dir = cmd.Dir
	}
	execCmd.Env = mergedEnv(cmd.Env)

	if runtime.GOOS != "windows" {
		execCmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	}

	if stdin, err := stdinFor(cmd); err != nil {
		return adapter.Raw{}, err
	} else if stdin != nil {
		execCmd.Stdin = stdin
	}

	stdout, err := stream.New(stream.Config{MaxBuffer: cmd.MaxBuffer, Encoding: cmd.Encoding})
	if err != nil {
		return adapter.Raw{}, err
	}
	stderr, err := stream.New(stream.Config{MaxBuffer: cmd.MaxBuffer, Encoding: cmd.Encoding})
	if err != nil {
		return adapter.Raw{}, err
	}
	execCmd.Stdout = writerFor(stdout, cmd.StdoutSink, cmd.StdoutMode)
	execCmd.Stderr = writerFor(stderr, cmd.StderrSink, cmd.StderrMode)

	if err := execCmd.Start(); err != nil {
		return adapter.Raw{}, xerr.Wrap(xerr.KindSpawn, "starting local process", err)
	}

	done := make(chan error, 1)
	go func() { done <- execCmd.Wait() }()

	select {
	case <-ctx.Done():
		if runtime.GOOS != "windows" && execCmd.Process != nil {
			_ = syscall.Kill(-execCmd.Process.Pid, syscall.SIGKILL)
		} else if execCmd.Process != nil {
			_ = execCmd.Process.Kill()
		}
		<-done

		exitCode := -1
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			// Conventional Unix timeout sentinel.
			exitCode = 124
		}
		return adapter.Raw{ExitCode: exitCode, Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}, ctx.Err()

	case waitErr := <-done:
		if overflow := firstOverflow(stdout, stderr); overflow != nil {
			return adapter.Raw{ExitCode: -1, Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}, overflow
		}
		exitCode, signal := exitInfo(waitErr)
		return adapter.Raw{
			ExitCode: exitCode,
			Signal:   signal,
			Stdout:   stdout.Bytes(),
			Stderr:   stderr.Bytes(),
		}, nil
	}
}

// argvFor resolves cmd's program+args or shell line into an argv, applying
// the requested shell wrapping.
func argvFor(cmd command.Command) ([]string, error) {
	if cmd.UseShellLine {
		switch cmd.Shell {
		case command.ShellExplicit:
			return []string{cmd.ShellPath, "-c", cmd.ShellLine}, nil
		default:
			return []string{defaultShell(), "-c", cmd.ShellLine}, nil
		}
	}

	if cmd.Program == "" {
		return nil, errors.New("command has neither a program nor a shell line")
	}

	argv := append([]string{cmd.Program}, cmd.Args...)
	switch cmd.Shell {
	case command.ShellDefault:
		return []string{defaultShell(), "-c", strings.Join(argv, " ")}, nil
	case command.ShellExplicit:
		return []string{cmd.ShellPath, "-c", strings.Join(argv, " ")}, nil
	default:
		return argv, nil
	}
}

func defaultShell() string {
	if runtime.GOOS == "windows" {
		return "cmd"
	}
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/sh"
}

func stdinFor(cmd command.Command) (io.Reader, error) {
	switch cmd.StdinKind {
	case command.StdinBytes:
		return bytes.NewReader(cmd.StdinBytes), nil
	case command.StdinReader:
		if cmd.StdinReader == nil {
			return nil, xerr.New(xerr.KindValidation, "stdin reader mode set with a nil reader")
		}
		return cmd.StdinReader, nil
	default:
		return nil, nil
	}
}

func writerFor(h *stream.Handler, sink io.Writer, mode command.StdioMode) io.Writer {
	if mode == command.StdioDiscard {
		return io.Discard
	}
	if mode == command.StdioSink && sink != nil {
		return io.MultiWriter(h, sink)
	}
	return h
}

func firstOverflow(stdout, stderr *stream.Handler) error {
	if err := stdout.Overflow(); err != nil {
		return err
	}
	return stderr.Overflow()
}

// exitInfo extracts the exit code and, on Unix, the terminating signal name
// from the error os/exec.Cmd.Wait returns.
func exitInfo(err error) (int, string) {
	if err == nil {
		return 0, ""
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return -1, fmt.Sprintf("SIG%s", strings.ToUpper(status.Signal().String()))
		}
		return exitErr.ExitCode(), ""
	}
	return 1, ""
}

// mergedEnv overlays delta onto the current process environment.
func mergedEnv(delta map[string]string) []string {
	base := envToMap(os.Environ())
	for k, v := range delta {
		base[k] = v
	}
	out := make([]string, 0, len(base))
	for k, v := range base {
		out = append(out, k+"="+v)
	}
	return out
}

func envToMap(environ []string) map[string]string {
	m := make(map[string]string, len(environ))
	for _, kv := range environ {
		if idx := strings.IndexByte(kv, '='); idx > 0 {
			m[kv[:idx]] = kv[idx+1:]
		}
	}
	return m
}
