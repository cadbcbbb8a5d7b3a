package ssh

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"net"
	"os/exec"
	"sync"
	"testing"

	"github.com/pkg/sftp"
	xssh "golang.org/x/crypto/ssh"
)

// testServer is a pure Go SSH server backing this package's tests, so the
// pool and adapter can be exercised without a real network peer.
type testServer struct {
	port      int
	hostKey   xssh.Signer
	clientKey xssh.Signer
	listener  net.Listener
	wg        sync.WaitGroup
}

// startTestServer starts an in-process SSH server accepting only the key it
// hands back via clientConfig. Skips the test if the environment can't
// support it (no loopback, no ed25519 support).
func startTestServer(t *testing.T) *testServer {
	t.Helper()

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Skip("generating host key:", err)
	}
	hostKey, err := xssh.NewSignerFromKey(hostPriv)
	if err != nil {
		t.Skip("creating host signer:", err)
	}

	clientPub, clientPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Skip("generating client key:", err)
	}
	clientKey, err := xssh.NewSignerFromKey(clientPriv)
	if err != nil {
		t.Skip("creating client signer:", err)
	}
	clientSSHPub, err := xssh.NewPublicKey(clientPub)
	if err != nil {
		t.Skip("wrapping client public key:", err)
	}

	config := &xssh.ServerConfig{
		PublicKeyCallback: func(conn xssh.ConnMetadata, key xssh.PublicKey) (*xssh.Permissions, error) {
			if bytes.Equal(key.Marshal(), clientSSHPub.Marshal()) {
				return &xssh.Permissions{}, nil
			}
			return nil, fmt.Errorf("unknown public key")
		},
	}
	config.AddHostKey(hostKey)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skip("listening:", err)
	}

	srv := &testServer{
		port:      ln.Addr().(*net.TCPAddr).Port,
		hostKey:   hostKey,
		clientKey: clientKey,
		listener:  ln,
	}
	srv.wg.Add(1)
	go srv.acceptLoop(config)
	t.Cleanup(srv.stop)
	return srv
}

func (s *testServer) acceptLoop(config *xssh.ServerConfig) {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go s.handleConn(conn, config)
	}
}

func (s *testServer) handleConn(netConn net.Conn, config *xssh.ServerConfig) {
	defer s.wg.Done()
	defer netConn.Close()

	sshConn, chans, reqs, err := xssh.NewServerConn(netConn, config)
	if err != nil {
		return
	}
	defer sshConn.Close()
	go xssh.DiscardRequests(reqs)

	for ch := range chans {
		s.wg.Add(1)
		go s.handleChannel(ch)
	}
}

func (s *testServer) handleChannel(newChannel xssh.NewChannel) {
	defer s.wg.Done()
	if newChannel.ChannelType() != "session" {
		_ = newChannel.Reject(xssh.UnknownChannelType, "unknown channel type")
		return
	}
	channel, requests, err := newChannel.Accept()
	if err != nil {
		return
	}
	defer channel.Close()

	env := map[string]string{}
	for req := range requests {
		switch req.Type {
		case "exec":
			s.handleExec(channel, req, env)
		case "env":
			var payload struct{ Name, Value string }
			if xssh.Unmarshal(req.Payload, &payload) == nil {
				env[payload.Name] = payload.Value
			}
			if req.WantReply {
				_ = req.Reply(true, nil)
			}
		case "subsystem":
			var payload struct{ Name string }
			if xssh.Unmarshal(req.Payload, &payload) == nil && payload.Name == "sftp" {
				if req.WantReply {
					_ = req.Reply(true, nil)
				}
				s.handleSFTP(channel)
				return
			}
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		default:
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		}
	}
}

// handleSFTP serves the SFTP protocol over channel using the filesystem the
// test process itself runs in, mirroring how a real sshd hands the
// subsystem off to /usr/lib/openssh/sftp-server.
func (s *testServer) handleSFTP(channel xssh.Channel) {
	server, err := sftp.NewServer(channel)
	if err != nil {
		return
	}
	defer server.Close()
	_ = server.Serve()
}

func (s *testServer) handleExec(channel xssh.Channel, req *xssh.Request, env map[string]string) {
	var payload struct{ Command string }
	if xssh.Unmarshal(req.Payload, &payload) != nil {
		if req.WantReply {
			_ = req.Reply(false, nil)
		}
		_ = channel.Close()
		return
	}
	if req.WantReply {
		_ = req.Reply(true, nil)
	}

	cmd := exec.Command("sh", "-c", payload.Command)
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Stdout = channel
	cmd.Stderr = channel.Stderr()

	runErr := cmd.Run()
	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = 1
		}
	}
	status := struct{ Status uint32 }{uint32(exitCode)}
	_, _ = channel.SendRequest("exit-status", false, xssh.Marshal(&status))
	_ = channel.Close()
}

func (s *testServer) stop() {
	_ = s.listener.Close()
	s.wg.Wait()
}

func (s *testServer) addr() string { return fmt.Sprintf("127.0.0.1:%d", s.port) }

// dialConfig builds an *xssh.ClientConfig trusting only this server's
// client key and ignoring host key verification.
func (s *testServer) clientAuthConfig() *xssh.ClientConfig {
	return &xssh.ClientConfig{
		User:            "tester",
		Auth:            []xssh.AuthMethod{xssh.PublicKeys(s.clientKey)},
		HostKeyCallback: xssh.InsecureIgnoreHostKey(),
	}
}
