// Package adapter defines the backend-dispatch contract (spec §4.4) and the
// shared execution scaffolding (timeout, retry, caching, masking, eventing)
// that every concrete backend — local, SSH, container, cluster — builds on
// top of via Base.
package adapter

import (
	"context"

	"github.com/aledsdavies/xrun/command"
)

// Adapter dispatches Commands to one backend.
type Adapter interface {
	// Name identifies the adapter for logging and events, e.g. "local",
	// "ssh:build-box".
	Name() string

	// IsAvailable probes whether the backend can currently accept work
	// (binary on PATH, connection reachable, context/pod resolvable).
	IsAvailable(ctx context.Context) bool

	// Execute runs cmd to completion and returns its Result. Whether a
	// non-OK Result is returned as (Result, nil) or as (Result, error)
	// is governed by cmd.EffectiveThrowOnNonZero (spec §4.4).
	Execute(ctx context.Context, cmd command.Command) (command.Result, error)

	// Dispose releases any resources held by the adapter (pooled
	// connections, tunnels, ephemeral containers).
	Dispose() error
}

// Raw is what a concrete backend's Runner produces: the unmasked, unwrapped
// outcome of actually spawning and waiting on a process.
type Raw struct {
	ExitCode  int
	Signal    string
	Stdout    []byte
	Stderr    []byte
	Host      string
	Container string
}

// Runner is the minimal seam a concrete backend implements; Base supplies
// everything else (timeout, retry, cache, masking, events) around it.
type Runner interface {
	Run(ctx context.Context, cmd command.Command) (Raw, error)
}
