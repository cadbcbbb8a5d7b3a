package adapter

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/aledsdavies/xrun/cache"
	"github.com/aledsdavies/xrun/command"
	"github.com/aledsdavies/xrun/events"
	"github.com/aledsdavies/xrun/mask"
	"github.com/aledsdavies/xrun/retry"
	"github.com/aledsdavies/xrun/xerr"
)

// Base implements the parts of Adapter that are identical across backends:
// the timeout/retry/cache wrapping, masking of captured output, the
// error-vs-Result decision (spec §4.4), and event publication. Concrete
// backends embed *Base and supply a Runner plus their own Name/IsAvailable/
// Dispose.
type Base struct {
	kind   command.AdapterKind
	name   string
	runner Runner
	masker *mask.Masker
	bus    *events.Bus
	cache  *cache.Cache
	now    func() time.Time
}

// Option configures a Base at construction.
type Option func(*Base)

// WithMasker overrides the default (enabled, default-catalog) masker.
func WithMasker(m *mask.Masker) Option {
	return func(b *Base) { b.masker = m }
}

// WithBus attaches an event bus; lifecycle events are published to it.
// Without this option, events are dropped.
func WithBus(bus *events.Bus) Option {
	return func(b *Base) { b.bus = bus }
}

// WithCache attaches a Result cache.
func WithCache(c *cache.Cache) Option {
	return func(b *Base) { b.cache = c }
}

// withClock overrides Base's notion of "now", for deterministic tests.
func withClock(now func() time.Time) Option {
	return func(b *Base) { b.now = now }
}

// NewBase constructs a Base for the given adapter kind and display name,
// wrapping runner.
func NewBase(kind command.AdapterKind, name string, runner Runner, opts ...Option) *Base {
	b := &Base{
		kind:   kind,
		name:   name,
		runner: runner,
		masker: mask.New(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the adapter's display name.
func (b *Base) Name() string { return b.name }

// Execute runs cmd through the shared scaffolding and the wrapped Runner.
func (b *Base) Execute(ctx context.Context, cmd command.Command) (command.Result, error) {
	maskedLine := b.masker.Mask(reconstructCommandLine(cmd))

	if b.cache != nil && cmd.Cache != nil {
		if res, ok := b.cache.Get(cmd.Cache.Key); ok {
			b.publish("cache:hit", cmd, map[string]any{"key": cmd.Cache.Key})
			return res, nil
		}
		b.publish("cache:miss", cmd, map[string]any{"key": cmd.Cache.Key})
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if cmd.TimeoutMS > 0 {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(cmd.TimeoutMS)*time.Millisecond)
		defer cancel()
	}

	start := b.now()
	b.publish("command:start", cmd, map[string]any{"command": maskedLine})

	var raw Raw
	var runErr error
	attempt := func() error {
		raw, runErr = b.runner.Run(runCtx, cmd)
		if runErr != nil {
			return runErr
		}
		if raw.ExitCode != 0 {
			return xerr.New(xerr.KindCommandFailure, "command exited non-zero").
				WithContext("exitCode", raw.ExitCode)
		}
		return nil
	}

	if cmd.Retry != nil {
		policy := retry.Policy{
			MaxAttempts:  cmd.Retry.MaxAttempts,
			InitialDelay: time.Duration(cmd.Retry.InitialDelayMS) * time.Millisecond,
		}
		if cmd.Retry.Exponential {
			policy.Growth = retry.Exponential
		} else {
			policy.Growth = retry.Linear
		}
		retryEvents := retry.Events{
			OnAttempt: func(n int, err error) { b.publish("retry:attempt", cmd, map[string]any{"attempt": n, "error": err.Error()}) },
			OnSuccess: func(n int) { b.publish("retry:success", cmd, map[string]any{"attempt": n}) },
			OnFailed:  func(n int, err error) { b.publish("retry:failed", cmd, map[string]any{"attempts": n}) },
		}
		_ = retry.Do(runCtx, policy, retryEvents, attempt)
	} else {
		_ = attempt()
	}

	end := b.now()
	res := command.Result{
		Stdout:    []byte(b.masker.Mask(string(raw.Stdout))),
		Stderr:    []byte(b.masker.Mask(string(raw.Stderr))),
		ExitCode:  raw.ExitCode,
		Signal:    raw.Signal,
		Command:   maskedLine,
		Start:     start,
		End:       end,
		Adapter:   cmd.Adapter,
		Host:      raw.Host,
		Container: raw.Container,
	}

	b.publish("command:complete", cmd, map[string]any{
		"exitCode": res.ExitCode,
		"durationMs": res.Duration().Milliseconds(),
	})

	if runErr != nil {
		tagged := b.classifyError(cmd, res, runErr)
		if !cmd.EffectiveThrowOnNonZero() {
			return nothrowResult(res, tagged, b.masker), nil
		}
		return res, tagged
	}

	if !res.OK() && cmd.EffectiveThrowOnNonZero() {
		return res, withCommandFields(xerr.New(xerr.KindCommandFailure, "command exited non-zero"), cmd, res)
	}

	if b.cache != nil && cmd.Cache != nil && res.OK() {
		_ = b.cache.Set(cmd.Cache.Key, res, cmd.Cache.TTL)
		b.publish("cache:set", cmd, map[string]any{"key": cmd.Cache.Key})
	}

	return res, nil
}

// nothrowResult converts a classified runner error into the Result it would
// have produced, for callers that asked not to be thrown at (spec §4.4,
// §7): timeouts, cancellations, and buffer overflows already carry their
// real exit code and whatever output was captured before the runner gave up
// (124 for a deadline, -1 for a kill), so the Result built from raw needs no
// adjustment. Every other failure kind (spawn errors, validation errors —
// anything that kept the process from ever producing a normal exit) never
// got a chance to set an exit code, so one is synthesized: exit code 1,
// stderr set to the masked error message, matching "synthesizes an
// exit-code-1 Result with stderr = error message".
func nothrowResult(res command.Result, tagged *xerr.Error, masker *mask.Masker) command.Result {
	switch tagged.Kind {
	case xerr.KindTimeout:
		res.TimedOut = true
		return res
	case xerr.KindCancellation, xerr.KindBufferOverflow:
		return res
	default:
		res.ExitCode = 1
		res.Stderr = []byte(masker.Mask(tagged.Error()))
		return res
	}
}

// classifyError maps a Runner-level error (spawn failure, stream overflow,
// context cancellation/timeout) onto the tagged error taxonomy. An error the
// Runner already tagged (e.g. a buffer-overflow from the stream package)
// keeps its Kind; only untagged errors get classified here.
func (b *Base) classifyError(cmd command.Command, res command.Result, err error) *xerr.Error {
	var tagged *xerr.Error
	if errors.As(err, &tagged) {
		return withCommandFields(tagged, cmd, res)
	}

	kind := xerr.KindSpawn
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = xerr.KindTimeout
	case errors.Is(err, context.Canceled):
		kind = xerr.KindCancellation
	}
	return withCommandFields(xerr.Wrap(kind, "command execution failed", err), cmd, res)
}

// withCommandFields stamps an *xerr.Error with the execution context common
// to every adapter, and returns it for chaining.
func withCommandFields(e *xerr.Error, cmd command.Command, res command.Result) *xerr.Error {
	e.Command = res.Command
	e.ExitCode = res.ExitCode
	e.Signal = res.Signal
	e.Adapter = string(cmd.Adapter)
	e.Host = res.Host
	e.Container = res.Container
	e.Duration = res.Duration().String()
	e.TimeoutMS = cmd.TimeoutMS
	return e
}

func (b *Base) publish(name string, cmd command.Command, props map[string]any) {
	if b.bus == nil {
		return
	}
	b.bus.Publish(events.Event{Name: name, Adapter: string(cmd.Adapter), Props: props})
}

// reconstructCommandLine renders cmd's program/args or shell line as a
// single display string, independent of any particular shell's quoting —
// used only for logging/events/Result.Command, never for execution.
func reconstructCommandLine(cmd command.Command) string {
	if cmd.UseShellLine {
		return cmd.ShellLine
	}
	parts := append([]string{cmd.Program}, cmd.Args...)
	return strings.Join(parts, " ")
}
