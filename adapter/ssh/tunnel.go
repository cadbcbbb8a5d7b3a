package ssh

import (
	"fmt"
	"io"
	"net"
	"sync"

	xssh "golang.org/x/crypto/ssh"

	"github.com/aledsdavies/xrun/events"
	"github.com/aledsdavies/xrun/xerr"
)

// TunnelState is a tunnel handle's lifecycle state (spec §4.8: new → open →
// closed, terminal).
type TunnelState int

const (
	TunnelNew TunnelState = iota
	TunnelOpen
	TunnelClosed
)

// TunnelKind selects which of the three forwarding modes a Tunnel runs.
type TunnelKind int

const (
	// LocalForward binds a local port and forwards each connection to a
	// remote host:port via a channel on the session.
	LocalForward TunnelKind = iota
	// ReverseForward asks the remote side to listen and forwards each
	// connection back to a local host:port.
	ReverseForward
	// DynamicLocal is a LocalForward whose local port is chosen by the OS;
	// the bound port is exposed via Tunnel.LocalPort after Open.
	DynamicLocal
)

// Tunnel is one open port-forward over a pooled SSH connection.
type Tunnel struct {
	mu    sync.Mutex
	state TunnelState
	kind  TunnelKind

	localAddr  string
	remoteAddr string

	listener net.Listener
	client   *xssh.Client
	bus      *events.Bus

	stop chan struct{}
	wg   sync.WaitGroup
}

// OpenLocalForward binds localAddr (port 0 for dynamic) and forwards every
// accepted connection to remoteAddr over client.
func OpenLocalForward(client *xssh.Client, localAddr, remoteAddr string, bus *events.Bus) (*Tunnel, error) {
	kind := LocalForward
	if _, port, _ := net.SplitHostPort(localAddr); port == "0" {
		kind = DynamicLocal
	}
	t := &Tunnel{kind: kind, remoteAddr: remoteAddr, client: client, bus: bus, stop: make(chan struct{})}

	ln, err := net.Listen("tcp", localAddr)
	if err != nil {
		t.state = TunnelClosed
		return t, xerr.Wrap(xerr.KindConnection, "binding local forward port", err)
	}
	t.listener = ln
	t.localAddr = ln.Addr().String()
	t.state = TunnelOpen
	t.publish("ssh:tunnel-created")

	t.wg.Add(1)
	go t.acceptLoop()
	return t, nil
}

// OpenReverseForward asks the remote side to listen on remoteAddr and
// forwards each connection back to localAddr.
func OpenReverseForward(client *xssh.Client, remoteAddr, localAddr string, bus *events.Bus) (*Tunnel, error) {
	t := &Tunnel{kind: ReverseForward, localAddr: localAddr, remoteAddr: remoteAddr, client: client, bus: bus, stop: make(chan struct{})}

	ln, err := client.Listen("tcp", remoteAddr)
	if err != nil {
		t.state = TunnelClosed
		return t, xerr.Wrap(xerr.KindConnection, "requesting remote listen", err)
	}
	t.listener = ln
	t.state = TunnelOpen
	t.publish("ssh:tunnel-created")

	t.wg.Add(1)
	go t.acceptReverseLoop(localAddr)
	return t, nil
}

// LocalPort returns the bound local port for a LocalForward/DynamicLocal
// tunnel, or 0 if not applicable.
func (t *Tunnel) LocalPort() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener == nil {
		return 0
	}
	if tcpAddr, ok := t.listener.Addr().(*net.TCPAddr); ok {
		return tcpAddr.Port
	}
	return 0
}

// State returns the tunnel's current lifecycle state.
func (t *Tunnel) State() TunnelState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Close closes the tunnel idempotently.
func (t *Tunnel) Close() error {
	t.mu.Lock()
	if t.state == TunnelClosed {
		t.mu.Unlock()
		return nil
	}
	t.state = TunnelClosed
	ln := t.listener
	t.mu.Unlock()

	close(t.stop)
	var err error
	if ln != nil {
		err = ln.Close()
	}
	t.wg.Wait()
	t.publish("ssh:tunnel-closed")
	return err
}

func (t *Tunnel) acceptLoop() {
	defer t.wg.Done()
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			return
		}
		go t.forwardLocal(conn)
	}
}

func (t *Tunnel) forwardLocal(local net.Conn) {
	defer local.Close()
	remote, err := t.client.Dial("tcp", t.remoteAddr)
	if err != nil {
		return
	}
	defer remote.Close()
	pipe(local, remote)
}

func (t *Tunnel) acceptReverseLoop(localAddr string) {
	defer t.wg.Done()
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			return
		}
		go t.forwardReverse(conn, localAddr)
	}
}

func (t *Tunnel) forwardReverse(remote net.Conn, localAddr string) {
	defer remote.Close()
	local, err := net.Dial("tcp", localAddr)
	if err != nil {
		return
	}
	defer local.Close()
	pipe(remote, local)
}

// pipe copies bytes in both directions until either side closes.
func pipe(a, b net.Conn) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _, _ = io.Copy(a, b) }()
	go func() { defer wg.Done(); _, _ = io.Copy(b, a) }()
	wg.Wait()
}

func (t *Tunnel) publish(name string) {
	if t.bus == nil {
		return
	}
	t.bus.Publish(events.Event{Name: name, Adapter: "ssh", Props: map[string]any{
		"local":  t.localAddr,
		"remote": t.remoteAddr,
		"kind":   fmt.Sprint(t.kind),
	}})
}
