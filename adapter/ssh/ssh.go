package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	xssh "golang.org/x/crypto/ssh"

	"github.com/aledsdavies/xrun/adapter"
	"github.com/aledsdavies/xrun/command"
	"github.com/aledsdavies/xrun/escape"
	"github.com/aledsdavies/xrun/internal/invariant"
	"github.com/aledsdavies/xrun/stream"
	"github.com/aledsdavies/xrun/xerr"
)

// Adapter is the SSH backend. It holds no per-target state itself; the
// target is named by the Config passed at construction, and the pool is
// shared (and may be shared across several Adapters targeting different
// hosts).
type Adapter struct {
	*adapter.Base
	cfg      Config
	pool     *Pool
	ownsPool bool // true when this Adapter created its own pool and must close it on Dispose
}

var _ adapter.Adapter = (*Adapter)(nil)

// New constructs an SSH Adapter targeting cfg, dispatching through pool.
// If pool is nil, a private pool is created and owned by this Adapter (and
// closed by Dispose).
func New(cfg Config, pool *Pool, opts ...adapter.Option) *Adapter {
	owned := pool == nil
	if owned {
		pool = NewPool()
	}
	a := &Adapter{cfg: cfg, pool: pool, ownsPool: owned}
	a.Base = adapter.NewBase(command.SSH, "ssh:"+cfg.Host, runner{cfg: cfg, pool: pool}, opts...)
	return a
}

type runner struct {
	cfg  Config
	pool *Pool
}

func (r runner) Run(ctx context.Context, cmd command.Command) (adapter.Raw, error) {
	invariant.NotNil(ctx, "ctx")

	pc, err := r.pool.Acquire(ctx, r.cfg)
	if err != nil {
		return adapter.Raw{}, err
	}

	session, err := pc.client.NewSession()
	if err != nil {
		r.pool.Release(pc, true)
		return adapter.Raw{}, xerr.Wrap(xerr.KindConnection, "opening ssh session channel", err)
	}
	defer func() { _ = session.Close() }()

	for k, v := range cmd.Env {
		_ = session.Setenv(k, v) // best effort; some servers reject Setenv
	}

	if r.cfg.SudoPassphrase != "" {
		askpassPath, cleanup, err := newAskpassScript(r.cfg.SudoPassphrase)
		if err != nil {
			r.pool.Release(pc, false)
			return adapter.Raw{}, xerr.Wrap(xerr.KindSpawn, "preparing sudo askpass helper", err)
		}
		defer cleanup()
		_ = session.Setenv("SUDO_ASKPASS", askpassPath) // best effort, same as other env vars above
	}

	line := commandLine(cmd)

	if cmd.StdinKind == command.StdinBytes {
		session.Stdin = bytes.NewReader(cmd.StdinBytes)
	} else if cmd.StdinKind == command.StdinReader {
		session.Stdin = cmd.StdinReader
	}

	stdout, err := stream.New(stream.Config{MaxBuffer: cmd.MaxBuffer, Encoding: cmd.Encoding})
	if err != nil {
		r.pool.Release(pc, false)
		return adapter.Raw{}, err
	}
	stderr, err := stream.New(stream.Config{MaxBuffer: cmd.MaxBuffer, Encoding: cmd.Encoding})
	if err != nil {
		r.pool.Release(pc, false)
		return adapter.Raw{}, err
	}
	session.Stdout = writerFor(stdout, cmd.StdoutSink, cmd.StdoutMode)
	session.Stderr = writerFor(stderr, cmd.StderrSink, cmd.StderrMode)

	done := make(chan error, 1)
	go func() { done <- session.Run(line) }()

	select {
	case <-ctx.Done():
		_ = session.Signal(xssh.SIGKILL)
		r.pool.Release(pc, true)
		exitCode := -1
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			exitCode = 124
		}
		return adapter.Raw{ExitCode: exitCode, Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}, ctx.Err()

	case runErr := <-done:
		if overflow := firstOverflow(stdout, stderr); overflow != nil {
			r.pool.Release(pc, true)
			return adapter.Raw{ExitCode: -1, Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}, overflow
		}
		exitCode, destroy := exitInfo(runErr)
		r.pool.Release(pc, destroy)
		return adapter.Raw{
			ExitCode: exitCode,
			Stdout:   stdout.Bytes(),
			Stderr:   stderr.Bytes(),
			Host:     r.cfg.Host,
		}, nil
	}
}

// writerFor routes a stream.Handler's captured bytes to the sink a Command
// requests, the same discipline local/container/cluster apply to their own
// stdout/stderr pipes.
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

// commandLine renders cmd as a single remote shell command, prefixing a
// directory change when cmd.Dir is set, the same way the teacher's
// SSHSession builds its remote command string.
func commandLine(cmd command.Command) string {
	var line string
	if cmd.UseShellLine {
		line = cmd.ShellLine
	} else {
		parts := make([]string, 0, len(cmd.Args)+1)
		parts = append(parts, escape.Quote(escape.POSIX, cmd.Program))
		for _, a := range cmd.Args {
			parts = append(parts, escape.Quote(escape.POSIX, a))
		}
		line = fmt.Sprint(parts[0])
		for _, p := range parts[1:] {
			line += " " + p
		}
	}
	if cmd.Dir != "" {
		return fmt.Sprintf("cd %s && %s", escape.Quote(escape.POSIX, cmd.Dir), line)
	}
	return line
}

// exitInfo extracts the remote exit code from session.Run's error, and
// reports whether the underlying channel should be treated as unusable
// (destroy=true) rather than returned to the pool.
func exitInfo(err error) (exitCode int, destroy bool) {
	if err == nil {
		return 0, false
	}
	var exitErr *xssh.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus(), false
	}
	// Any other error (channel closed, protocol error) means the
	// connection itself is suspect.
	return 1, true
}

// IsAvailable dials (or reuses) a connection and issues a cheap no-op.
func (a *Adapter) IsAvailable(ctx context.Context) bool {
	pc, err := a.pool.Acquire(ctx, a.cfg)
	if err != nil {
		return false
	}
	ok := alive(pc.client)
	a.pool.Release(pc, !ok)
	return ok
}

// Dispose closes the pool if this Adapter owns it.
func (a *Adapter) Dispose() error {
	if a.ownsPool {
		return a.pool.CloseAll()
	}
	return nil
}
