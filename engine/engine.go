package engine

import (
	"time"

	"github.com/aledsdavies/xrun/adapter"
	"github.com/aledsdavies/xrun/adapter/cluster"
	"github.com/aledsdavies/xrun/adapter/container"
	"github.com/aledsdavies/xrun/adapter/local"
	sshadapter "github.com/aledsdavies/xrun/adapter/ssh"
	"github.com/aledsdavies/xrun/cache"
	"github.com/aledsdavies/xrun/command"
	"github.com/aledsdavies/xrun/events"
)

// Engine holds the immutable default configuration, the currently bound
// adapter, and a pending Command template accumulating chain overrides
// (spec §4.11). Every chain method and adapter selector returns a new
// Engine; the receiver is never mutated — the re-architecture spec §9
// calls for in place of the source's prototype-style chaining.
type Engine struct {
	cfg         Config
	bus         *events.Bus
	resultCache *cache.Cache
	pool        *sshadapter.Pool

	pending command.Command
	quiet   bool

	target        command.AdapterKind
	sshCfg        sshadapter.Config
	clusterBinary string
	remoteOpts    map[string]any // non-nil only when bound via RemoteContainer

	bound adapter.Adapter
}

// New constructs an Engine from Config options, bound to the local adapter
// by default.
func New(opts ...Option) *Engine {
	cfg := newConfig(opts...)
	e := &Engine{
		cfg:     cfg,
		bus:     events.New(),
		pending: pendingFromConfig(cfg),
		target:  command.Local,
	}
	e.rebind()
	return e
}

// Bus returns the engine's event bus, for subscribing to lifecycle events
// (spec §4.13).
func (e *Engine) Bus() *events.Bus { return e.bus }

// WithResultCache returns an Engine that opts into a shared result cache
// (spec §4.14); commands still need cache(key, ttl) chained to actually use
// it per invocation.
func (e *Engine) WithResultCache(c *cache.Cache) *Engine {
	next := e.clone()
	next.resultCache = c
	next.rebind()
	return next
}

// pendingFromConfig seeds a Command template from a Config's defaults.
func pendingFromConfig(cfg Config) command.Command {
	c := command.New(command.Local)
	if cfg.DefaultCwd != "" {
		c = c.WithDir(cfg.DefaultCwd)
	}
	if len(cfg.DefaultEnv) > 0 {
		c = c.WithEnv(cfg.DefaultEnv)
	}
	if cfg.DefaultShellPath != "" {
		c = c.WithShellPath(cfg.DefaultShellPath)
	}
	if cfg.DefaultTimeout > 0 {
		c = c.WithTimeout(cfg.DefaultTimeout)
	}
	c.ThrowOnNonZero = cfg.ThrowOnNonZeroExit
	c.Encoding = cfg.Encoding
	c.MaxBuffer = cfg.MaxBuffer
	return c
}

// clone returns a shallow copy so chain methods never mutate the receiver.
// Shared sub-resources (bus, cache, pool) are intentionally aliased — they
// are the engine's cross-cutting singletons, not per-chain state.
func (e *Engine) clone() *Engine {
	next := *e
	return &next
}

// baseOpts builds the adapter.Option set every bound adapter shares: the
// masker derived from Config, the shared event bus, and the shared result
// cache.
func (e *Engine) baseOpts() []adapter.Option {
	return []adapter.Option{
		adapter.WithMasker(e.cfg.masker()),
		adapter.WithBus(e.bus),
		adapter.WithCache(e.resultCache),
	}
}

// sharedPool lazily constructs the engine's single SSH connection pool,
// shared across every ssh()/remoteContainer() selector call so pooling
// (spec §4.8) actually multiplexes connections across dispatches.
func (e *Engine) sharedPool() *sshadapter.Pool {
	if e.pool == nil {
		e.pool = sshadapter.NewPool(sshadapter.WithPoolEvents(e.bus))
	}
	return e.pool
}

// rebind (re)constructs e.bound from the engine's current target and
// options. Called whenever the target, its options, or the masking config
// changes.
func (e *Engine) rebind() {
	switch e.target {
	case command.SSH:
		sshAdapter := sshadapter.New(e.sshCfg, e.sharedPool(), e.baseOpts()...)
		if e.remoteOpts != nil {
			e.bound = newRemoteContainerAdapter(sshAdapter, e.remoteOpts)
		} else {
			e.bound = sshAdapter
		}
	case command.Container:
		e.bound = container.New(e.baseOpts()...)
	case command.Cluster:
		e.bound = cluster.New(e.clusterBinary, e.baseOpts()...)
	default:
		e.bound = local.New(e.baseOpts()...)
	}
}

// Cd returns an Engine whose commands default to running in dir.
func (e *Engine) Cd(dir string) *Engine {
	next := e.clone()
	next.pending = next.pending.WithDir(dir)
	return next
}

// EnvDefault returns an Engine whose default environment overlay has delta
// merged in.
func (e *Engine) EnvDefault(delta map[string]string) *Engine {
	next := e.clone()
	next.pending = next.pending.WithEnv(delta)
	return next
}

// Shell returns an Engine whose commands run through the named shell. An
// empty path selects the host family's default shell.
func (e *Engine) Shell(path string) *Engine {
	next := e.clone()
	if path == "" {
		next.pending = next.pending.WithShell()
	} else {
		next.pending = next.pending.WithShellPath(path)
	}
	return next
}

// Timeout returns an Engine whose commands default to the given timeout.
// 0 means no timeout.
func (e *Engine) Timeout(d time.Duration) *Engine {
	next := e.clone()
	next.pending = next.pending.WithTimeout(d)
	return next
}

// Retry returns an Engine whose commands carry the given retry policy.
func (e *Engine) Retry(policy command.RetryPolicy) *Engine {
	next := e.clone()
	next.pending = next.pending.WithRetry(policy)
	return next
}

// CacheResult returns an Engine whose commands are opted into the result
// cache under key, valid for ttl. The engine must have been constructed
// with a result cache (WithResultCache) for this to take effect.
func (e *Engine) CacheResult(key string, ttl time.Duration) *Engine {
	next := e.clone()
	next.pending = next.pending.WithCache(key, ttl)
	return next
}

// Nothrow returns an Engine whose commands yield a Result instead of an
// error on nonzero exit, timeout, or cancellation.
func (e *Engine) Nothrow() *Engine {
	next := e.clone()
	next.pending = next.pending.WithNoThrow()
	return next
}

// Quiet returns an Engine whose Process handles don't forward captured
// output onto their live Stdout()/Stderr() streams; the final Result is
// unaffected.
func (e *Engine) Quiet() *Engine {
	next := e.clone()
	next.quiet = true
	return next
}

// Defaults returns an Engine with opts layered onto its current Config and
// its pending template and bound adapter rebuilt from the result. Chain
// overrides applied before Defaults are superseded; apply further chain
// methods after Defaults to layer instance-specific overrides on the new
// baseline.
func (e *Engine) Defaults(opts ...Option) *Engine {
	next := e.clone()
	cfg := next.cfg
	for _, opt := range opts {
		opt(&cfg)
	}
	next.cfg = cfg
	next.pending = pendingFromConfig(cfg)
	next.rebind()
	return next
}

// Local returns an Engine bound to the local-process adapter.
func (e *Engine) Local() *Engine {
	next := e.clone()
	next.target = command.Local
	next.remoteOpts = nil
	next.pending = next.pending.WithAdapterOptions(nil)
	next.pending.Adapter = command.Local
	next.rebind()
	return next
}

// SSH returns an Engine bound to the SSH adapter for cfg's target.
func (e *Engine) SSH(cfg sshadapter.Config) *Engine {
	next := e.clone()
	next.target = command.SSH
	next.sshCfg = cfg
	next.remoteOpts = nil
	next.pending.Adapter = command.SSH
	next.rebind()
	return next
}

// Container returns an Engine bound to the container adapter, with opts
// merged into every subsequently dispatched command's adapter options
// (spec §6's Container contract: exactly one of image/container is
// required).
func (e *Engine) Container(opts map[string]any) *Engine {
	next := e.clone()
	next.target = command.Container
	next.remoteOpts = nil
	next.pending = next.pending.WithAdapterOptions(opts)
	next.pending.Adapter = command.Container
	next.rebind()
	return next
}

// Cluster returns an Engine bound to the cluster adapter, with opts merged
// into every subsequently dispatched command's adapter options (spec §6's
// Cluster contract: pod, a bare name or a label selector, is required).
func (e *Engine) Cluster(binary string, opts map[string]any) *Engine {
	next := e.clone()
	next.target = command.Cluster
	next.clusterBinary = binary
	next.remoteOpts = nil
	next.pending = next.pending.WithAdapterOptions(opts)
	next.pending.Adapter = command.Cluster
	next.rebind()
	return next
}

// RemoteContainer returns an Engine that drives a container-runtime CLI
// through an SSH session rather than locally (spec §4.11's combined
// selector): containerOpts describes the docker/podman invocation exactly
// as Container's opts would, but it is assembled into a shell line and run
// over sshCfg's connection instead of a local child process.
func (e *Engine) RemoteContainer(sshCfg sshadapter.Config, containerOpts map[string]any) *Engine {
	next := e.clone()
	next.target = command.SSH
	next.sshCfg = sshCfg
	next.remoteOpts = containerOpts
	next.pending.Adapter = command.SSH
	next.rebind()
	return next
}

// With returns a derived Engine whose selected adapter and adapter options
// are overridden (spec §4.11's with(partialConfig)), validating opts against
// the JSON Schema for kind before binding (spec §3's jsonschema wiring).
func (e *Engine) With(kind command.AdapterKind, opts map[string]any) (*Engine, error) {
	if err := validateAdapterOptions(kind, opts); err != nil {
		return nil, err
	}
	switch kind {
	case command.Local:
		return e.Local(), nil
	case command.SSH:
		cfg, err := sshConfigFromOptions(opts)
		if err != nil {
			return nil, err
		}
		return e.SSH(cfg), nil
	case command.Container:
		return e.Container(opts), nil
	case command.Cluster:
		binary, _ := opts[cluster.OptBinary].(string)
		return e.Cluster(binary, opts), nil
	default:
		return nil, nil
	}
}
