package ssh

import (
	"context"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/aledsdavies/xrun/events"
	"github.com/aledsdavies/xrun/xerr"
)

// pooledClient is one live connection plus its bookkeeping.
type pooledClient struct {
	client   *ssh.Client
	key      string
	lastUsed time.Time
}

// Pool is a bounded, keyed pool of SSH connections (spec §4.8). Idle
// connections are reused by Acquire; a background sweeper closes
// connections idle longer than idleTimeout. The zero value is not usable;
// construct with NewPool.
type Pool struct {
	mu          sync.Mutex
	idle        map[string][]*pooledClient
	inUse       map[*pooledClient]struct{}
	maxSize     int
	idleTimeout time.Duration
	acquireWait time.Duration
	bus         *events.Bus

	sweepStop chan struct{}
	sweepOnce sync.Once
}

// PoolOption configures a Pool at construction.
type PoolOption func(*Pool)

// WithMaxSize bounds the pool to at most n live connections across all
// keys. n <= 0 means unbounded.
func WithMaxSize(n int) PoolOption {
	return func(p *Pool) { p.maxSize = n }
}

// WithIdleTimeout closes connections idle longer than d. d <= 0 disables
// the sweeper.
func WithIdleTimeout(d time.Duration) PoolOption {
	return func(p *Pool) { p.idleTimeout = d }
}

// WithAcquireTimeout bounds how long Acquire waits for a free slot once the
// pool is at capacity.
func WithAcquireTimeout(d time.Duration) PoolOption {
	return func(p *Pool) { p.acquireWait = d }
}

// WithPoolEvents attaches an event bus; connection:open/connection:close are
// published to it.
func WithPoolEvents(bus *events.Bus) PoolOption {
	return func(p *Pool) { p.bus = bus }
}

// NewPool constructs an empty Pool and starts its idle sweeper, if
// configured.
func NewPool(opts ...PoolOption) *Pool {
	p := &Pool{
		idle:        make(map[string][]*pooledClient),
		inUse:       make(map[*pooledClient]struct{}),
		idleTimeout: 5 * time.Minute,
		acquireWait: 30 * time.Second,
		sweepStop:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.idleTimeout > 0 {
		go p.sweep()
	}
	return p
}

// Acquire returns a live connection for cfg, reusing an idle one that
// answers a keepalive ping, otherwise dialing a new one (up to maxSize),
// otherwise waiting up to the configured acquire timeout.
func (p *Pool) Acquire(ctx context.Context, cfg Config) (*pooledClient, error) {
	key := cfg.key()
	deadline := time.Now().Add(p.acquireWait)

	for {
		p.mu.Lock()
		for len(p.idle[key]) > 0 {
			pc := p.idle[key][len(p.idle[key])-1]
			p.idle[key] = p.idle[key][:len(p.idle[key])-1]
			if !alive(pc.client) {
				_ = pc.client.Close()
				continue
			}
			p.inUse[pc] = struct{}{}
			p.mu.Unlock()
			return pc, nil
		}

		total := len(p.inUse)
		for _, bucket := range p.idle {
			total += len(bucket)
		}
		if p.maxSize <= 0 || total < p.maxSize {
			p.mu.Unlock()
			client, err := dial(cfg)
			if err != nil {
				return nil, xerr.Wrap(xerr.KindConnection, "dialing ssh target", err)
			}
			pc := &pooledClient{client: client, key: key, lastUsed: time.Now()}
			p.mu.Lock()
			p.inUse[pc] = struct{}{}
			p.mu.Unlock()
			p.publish("connection:open", cfg.Host)
			return pc, nil
		}
		p.mu.Unlock()

		if time.Now().After(deadline) {
			return nil, xerr.New(xerr.KindConnection, "timed out waiting for a pooled ssh connection")
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// Release returns pc to the idle set, or discards it (closing the
// connection) if destroy is true — the adapter sets destroy on channel
// errors per spec §4.7 step 4.
func (p *Pool) Release(pc *pooledClient, destroy bool) {
	p.mu.Lock()
	delete(p.inUse, pc)
	if destroy {
		p.mu.Unlock()
		_ = pc.client.Close()
		p.publish("connection:close", pc.key)
		return
	}
	pc.lastUsed = time.Now()
	p.idle[pc.key] = append(p.idle[pc.key], pc)
	p.mu.Unlock()
}

// CloseAll closes every pooled connection, idle or in use, and stops the
// sweeper.
func (p *Pool) CloseAll() error {
	p.sweepOnce.Do(func() { close(p.sweepStop) })

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, bucket := range p.idle {
		for _, pc := range bucket {
			_ = pc.client.Close()
		}
	}
	for pc := range p.inUse {
		_ = pc.client.Close()
	}
	p.idle = make(map[string][]*pooledClient)
	p.inUse = make(map[*pooledClient]struct{})
	return nil
}

func (p *Pool) sweep() {
	ticker := time.NewTicker(p.idleTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-p.sweepStop:
			return
		case <-ticker.C:
			p.evictIdle()
		}
	}
}

func (p *Pool) evictIdle() {
	cutoff := time.Now().Add(-p.idleTimeout)
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, bucket := range p.idle {
		kept := bucket[:0]
		for _, pc := range bucket {
			if pc.lastUsed.Before(cutoff) {
				_ = pc.client.Close()
				p.publish("connection:close", pc.key)
				continue
			}
			kept = append(kept, pc)
		}
		p.idle[key] = kept
	}
}

func (p *Pool) publish(name, host string) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(events.Event{Name: name, Adapter: "ssh", Props: map[string]any{"host": host}})
}

func dial(cfg Config) (*ssh.Client, error) {
	clientCfg, err := cfg.clientConfig()
	if err != nil {
		return nil, err
	}
	return ssh.Dial("tcp", cfg.addr(), clientCfg)
}

// alive sends a keepalive request over the client's connection, reporting
// whether the peer is still responsive.
func alive(client *ssh.Client) bool {
	_, _, err := client.SendRequest("keepalive@xrun", true, nil)
	return err == nil
}
