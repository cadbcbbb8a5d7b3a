package engine

import (
	"github.com/aledsdavies/xrun/adapter"
	"github.com/aledsdavies/xrun/command"
	"github.com/aledsdavies/xrun/escape"
)

// family reports the host family the escaper should interpolate for, driven
// by the pending template's HostFamily (spec.md's supplemented explicit
// host-family override, rather than inferring from runtime.GOOS alone).
func (e *Engine) family() escape.HostFamily {
	if e.pending.HostFamily == command.HostWindows {
		return escape.Windows
	}
	return escape.POSIX
}

// Run is the engine's template entry point (spec §4.11): fragments and
// values are assembled into a shell-safe command line via the Escaper
// (spec §4.1), then dispatched to the currently bound adapter. len(fragments)
// must equal len(values)+1, mirroring a tagged template literal's shape.
func (e *Engine) Run(fragments []string, values ...any) *Process {
	line, err := escape.Assemble(e.family(), fragments, values)
	if err != nil {
		return failedProcess(err)
	}
	return e.dispatchLine(line)
}

// RunRaw skips escaping entirely (spec §4.11's raw template entry point);
// intended only for trusted, pre-escaped input.
func (e *Engine) RunRaw(fragments []string, values ...any) *Process {
	line := escape.AssembleRaw(fragments, values)
	return e.dispatchLine(line)
}

// Dispatch runs a fully-assembled Command (e.g. one produced by an adapter
// builder such as container.Ephemeral(...).Run(...)) through the adapter
// bound for cmd.Adapter's kind — the "adapter dispatch is a lookup by tag"
// re-architecture from spec §9. cmd's own fields are used as-is; the
// engine's pending template only seeds new commands built via Run/RunRaw.
func (e *Engine) Dispatch(cmd command.Command) *Process {
	return newProcess(e.adapterFor(cmd.Adapter), cmd, e.quiet)
}

// dispatchLine builds a Command from the engine's pending template plus
// line, and dispatches it to the currently bound adapter.
func (e *Engine) dispatchLine(line string) *Process {
	cmd := e.pending.WithShellLine(line)
	return newProcess(e.bound, cmd, e.quiet)
}

// adapterFor looks up the adapter for kind. The engine keeps one non-local
// adapter bound at a time (its current selector target); a Command tagged
// for that same kind, or for Local, runs through the bound adapter, which
// is a plain local.Adapter whenever no selector has been chosen.
func (e *Engine) adapterFor(kind command.AdapterKind) adapter.Adapter {
	_ = kind
	return e.bound
}

// failedProcess returns a Process already completed with err, for template
// assembly failures that must still surface through the Awaitable contract
// rather than panicking.
func failedProcess(err error) *Process {
	p := &Process{done: make(chan struct{})}
	p.started = true
	p.err = err
	close(p.done)
	return p
}
