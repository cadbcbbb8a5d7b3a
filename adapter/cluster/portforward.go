package cluster

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strconv"
	"sync"

	"github.com/aledsdavies/xrun/events"
	"github.com/aledsdavies/xrun/xerr"
)

// PortForwardState is a port-forward handle's lifecycle (spec §4.10: "The
// handle transitions to open on that line; close() kills the subprocess").
type PortForwardState int

const (
	PortForwardNew PortForwardState = iota
	PortForwardOpen
	PortForwardClosed
)

// forwardingLine matches kubectl's "Forwarding from 127.0.0.1:PORT -> REMOTE"
// banner line, from which the bound local port is parsed.
var forwardingLine = regexp.MustCompile(`^Forwarding from (127\.0\.0\.1|\[::1\]):(\d+) -> (.+)$`)

// PortForwardSpec configures a `port-forward` invocation.
type PortForwardSpec struct {
	Binary     string
	Namespace  string
	Kubeconfig string
	Context    string
}

// PortForward is one running `port-forward` child process.
type PortForward struct {
	mu        sync.Mutex
	state     PortForwardState
	localPort int
	remote    string
	cmd       *exec.Cmd
	bus       *events.Bus

	opened chan struct{}
	failed chan error
	once   sync.Once
}

// Open spawns `port-forward pod localPort:remotePort` (or `:remotePort` for
// a dynamic local port) and blocks until the child's banner line reports the
// bound port, ctx is canceled, or the child exits before binding.
func (s PortForwardSpec) Open(ctx context.Context, pod string, localPort, remotePort int, bus *events.Bus) (*PortForward, error) {
	binary := resolveBinary(s.Binary)

	var spec string
	if localPort <= 0 {
		spec = fmt.Sprintf(":%d", remotePort)
	} else {
		spec = fmt.Sprintf("%d:%d", localPort, remotePort)
	}

	args := []string{}
	if s.Kubeconfig != "" {
		args = append(args, "--kubeconfig", s.Kubeconfig)
	}
	if s.Context != "" {
		args = append(args, "--context", s.Context)
	}
	if s.Namespace != "" {
		args = append(args, "-n", s.Namespace)
	}
	args = append(args, "port-forward", pod, spec)

	cmd := exec.Command(binary, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, xerr.Wrap(xerr.KindSpawn, "opening port-forward stdout pipe", err)
	}
	// Stderr is drained but never treated as fatal: spec.md §4.10 requires
	// the handle to survive transient child writes to stderr while open.
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, xerr.Wrap(xerr.KindSpawn, "opening port-forward stderr pipe", err)
	}

	pf := &PortForward{bus: bus, opened: make(chan struct{}), failed: make(chan error, 1)}

	if err := cmd.Start(); err != nil {
		return nil, xerr.Wrap(xerr.KindSpawn, "starting port-forward", err)
	}
	pf.cmd = cmd

	go pf.drainStderr(stderr)
	go pf.scanBanner(stdout)
	go func() {
		err := cmd.Wait()
		pf.mu.Lock()
		alreadyOpen := pf.state == PortForwardOpen
		pf.state = PortForwardClosed
		pf.mu.Unlock()
		if !alreadyOpen {
			if err == nil {
				err = xerr.New(xerr.KindBackend, "port-forward exited before binding a local port")
			}
			pf.once.Do(func() { pf.failed <- err })
		}
	}()

	select {
	case <-pf.opened:
		return pf, nil
	case err := <-pf.failed:
		return pf, err
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		return pf, ctx.Err()
	}
}

// scanBanner watches stdout for the "Forwarding from" line. On the first
// match it records the bound port, transitions to open, and keeps draining
// stdout for the process's lifetime (additional forwards can print more
// banner lines for other connections).
func (pf *PortForward) scanBanner(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := scanner.Text()
		m := forwardingLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		port, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		pf.mu.Lock()
		first := pf.state == PortForwardNew
		pf.localPort = port
		pf.remote = m[3]
		pf.state = PortForwardOpen
		pf.mu.Unlock()
		if first {
			pf.publish("cluster:port-forward-open")
			close(pf.opened)
		}
	}
}

func (pf *PortForward) drainStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		// transient stderr chatter (connection handling logs, etc.) is
		// expected and never treated as fatal.
	}
}

// LocalPort returns the bound local port, or 0 before Open completes.
func (pf *PortForward) LocalPort() int {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	return pf.localPort
}

// State returns the handle's current lifecycle state.
func (pf *PortForward) State() PortForwardState {
	pf.mu.Lock()
	defer pf.mu.Unlock()
	return pf.state
}

// Close kills the subprocess, transitioning the handle to closed.
func (pf *PortForward) Close() error {
	pf.mu.Lock()
	if pf.state == PortForwardClosed {
		pf.mu.Unlock()
		return nil
	}
	pf.state = PortForwardClosed
	cmd := pf.cmd
	pf.mu.Unlock()

	pf.publish("cluster:port-forward-closed")
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

func (pf *PortForward) publish(name string) {
	if pf.bus == nil {
		return
	}
	pf.bus.Publish(events.Event{Name: name, Adapter: "cluster", Props: map[string]any{
		"localPort": pf.localPort,
		"remote":    pf.remote,
	}})
}
