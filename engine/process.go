package engine

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/aledsdavies/xrun/adapter"
	"github.com/aledsdavies/xrun/command"
	"github.com/aledsdavies/xrun/xerr"
)

// Process is what the engine's template entry point returns (spec §4.12):
// an Awaitable that completes to a Result, and a chain builder before it
// starts running. Each chain method returns a new, not-yet-started Process;
// the receiver is left alone, matching the Command/Engine immutability
// discipline elsewhere in this module.
//
// Execution is lazy: nothing runs until the first call to Result, Await, a
// terminal accessor, Stdout, or Stderr. That is this module's answer to the
// design notes' "future with a pre-start mutable configuration stage" —
// idiomatic Go has no awaitable-with-a-builder-stage primitive, so the
// builder stage is simply "before anyone has asked for the outcome yet".
type Process struct {
	adapter adapter.Adapter
	stages  []command.Command
	quiet   bool

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
	result  command.Result
	err     error

	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	stderrR *io.PipeReader
	stderrW *io.PipeWriter
}

func newProcess(a adapter.Adapter, cmd command.Command, quiet bool) *Process {
	return &Process{adapter: a, stages: []command.Command{cmd}, quiet: quiet, done: make(chan struct{})}
}

func (p *Process) last() command.Command { return p.stages[len(p.stages)-1] }

func (p *Process) cloneStages() []command.Command {
	out := make([]command.Command, len(p.stages))
	copy(out, p.stages)
	return out
}

// withLast returns a new, unstarted Process with its final stage replaced.
func (p *Process) withLast(cmd command.Command) *Process {
	stages := p.cloneStages()
	stages[len(stages)-1] = cmd
	return &Process{adapter: p.adapter, stages: stages, quiet: p.quiet, done: make(chan struct{})}
}

// Nothrow returns a Process that yields a Result instead of an error on
// nonzero exit, timeout, or cancellation.
func (p *Process) Nothrow() *Process { return p.withLast(p.last().WithNoThrow()) }

// Timeout returns a Process whose final stage times out after ms
// milliseconds. 0 means no timeout.
func (p *Process) Timeout(ms int64) *Process {
	return p.withLast(p.last().WithTimeout(time.Duration(ms) * time.Millisecond))
}

// Cwd returns a Process whose final stage runs in dir.
func (p *Process) Cwd(dir string) *Process { return p.withLast(p.last().WithDir(dir)) }

// Env returns a Process whose final stage's environment overlay has delta
// merged in.
func (p *Process) Env(delta map[string]string) *Process { return p.withLast(p.last().WithEnv(delta)) }

// Stdin returns a Process whose final stage reads data as stdin.
func (p *Process) Stdin(data []byte) *Process { return p.withLast(p.last().WithStdinBytes(data)) }

// StdinReader returns a Process whose final stage streams stdin from r.
func (p *Process) StdinReader(r io.Reader) *Process { return p.withLast(p.last().WithStdinReader(r)) }

// Quiet returns a Process whose live Stdout/Stderr readers never receive
// output; the terminal Result is unaffected.
func (p *Process) Quiet() *Process {
	next := p.withLast(p.last())
	next.quiet = true
	return next
}

// Pipe connects this Process's stdout to next's stdin within the same
// adapter (spec §4.12): the returned handle resolves to next's Result once
// every stage has run in sequence, each fed the prior stage's captured
// stdout.
func (p *Process) Pipe(next command.Command) *Process {
	stages := append(p.cloneStages(), next)
	return &Process{adapter: p.adapter, stages: stages, quiet: p.quiet, done: make(chan struct{})}
}

// ensureStarted begins execution exactly once, in the background.
func (p *Process) ensureStarted() {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	if !p.quiet {
		p.stdoutR, p.stdoutW = io.Pipe()
		p.stderrR, p.stderrW = io.Pipe()
	}
	p.mu.Unlock()
	go p.run(ctx)
}

func (p *Process) run(ctx context.Context) {
	var res command.Result
	var err error
	for i, stage := range p.stages {
		if i > 0 {
			stage = stage.WithStdinBytes(res.Stdout)
		}
		res, err = p.adapter.Execute(ctx, stage)
		if err != nil {
			break
		}
	}

	if !p.quiet {
		if len(res.Stdout) > 0 {
			_, _ = p.stdoutW.Write(res.Stdout)
		}
		if len(res.Stderr) > 0 {
			_, _ = p.stderrW.Write(res.Stderr)
		}
		_ = p.stdoutW.Close()
		_ = p.stderrW.Close()
	}

	p.mu.Lock()
	p.result, p.err = res, err
	close(p.done)
	p.mu.Unlock()
}

// Result blocks until the Process completes and returns its outcome.
func (p *Process) Result() (command.Result, error) {
	p.ensureStarted()
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.result, p.err
}

// Await implements escape.Awaitable, so an in-flight Process can be
// interpolated directly into another template.
func (p *Process) Await() (any, error) {
	res, err := p.Result()
	return res, err
}

// Text blocks for completion and returns trimmed stdout text.
func (p *Process) Text() (string, error) {
	res, err := p.Result()
	if err != nil {
		return "", err
	}
	return res.Text()
}

// Lines blocks for completion and returns stdout split into lines.
func (p *Process) Lines() ([]string, error) {
	res, err := p.Result()
	if err != nil {
		return nil, err
	}
	return res.Lines(), nil
}

// Buffer blocks for completion and returns raw captured stdout.
func (p *Process) Buffer() ([]byte, error) {
	res, err := p.Result()
	if err != nil {
		return nil, err
	}
	return res.Buffer(), nil
}

// JSON blocks for completion and decodes stdout into v.
func (p *Process) JSON(v any) error {
	res, err := p.Result()
	if err != nil {
		return err
	}
	return res.JSON(v)
}

// Stdout returns a live reader over captured stdout. Content becomes
// available once the Process completes: the adapter contract (Base.Execute)
// only exposes a terminal Result, not a mid-flight chunk callback, so this
// is "live" in the sense of not requiring a second dispatch, not in the
// sense of streaming bytes as the child produces them. Under Quiet, the
// reader is always empty.
func (p *Process) Stdout() io.Reader {
	p.ensureStarted()
	if p.quiet {
		return bytes.NewReader(nil)
	}
	return p.stdoutR
}

// Stderr returns a live reader over captured stderr, with the same
// completion-gated semantics as Stdout.
func (p *Process) Stderr() io.Reader {
	p.ensureStarted()
	if p.quiet {
		return bytes.NewReader(nil)
	}
	return p.stderrR
}

// Kill cancels the in-flight command, triggering the adapter's
// process-group cleanup. signal is advisory; every current adapter
// implementation terminates via its own cleanup path (SIGKILL locally and
// over SSH, process-group kill for container/cluster) rather than
// forwarding an arbitrary signal name.
func (p *Process) Kill(signal string) error {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel == nil {
		return xerr.New(xerr.KindValidation, "kill: process has not started")
	}
	cancel()
	return nil
}
