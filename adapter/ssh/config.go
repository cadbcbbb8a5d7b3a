// Package ssh implements the SSH backend (spec §4.7-§4.8): a pooled-session
// adapter, a bounded connection pool with an idle sweeper, and local/reverse/
// dynamic-local port tunnels. Grounded on the teacher's SSHSession plus
// SessionPool, generalized from a single argv+opts Run method to the full
// command.Command surface and from an unbounded session map to a bounded
// pool with idle eviction.
package ssh

import (
	"fmt"
	"net"
	"os"
	"os/user"

	"github.com/kevinburke/ssh_config"
	"golang.org/x/crypto/ssh"
)

// Config names one remote target and how to authenticate to it. Unset
// fields are resolved from the caller's ~/.ssh/config via ssh_config
// before dialing (spec.md's supplemented "SSH adapter config resolution").
type Config struct {
	Host           string
	Port           int
	User           string
	KeyPath        string
	Password       string
	UseAgent       bool
	StrictHostKey  bool
	KnownHostsPath string

	// Signer, when set, is used directly as the sole auth method ahead of
	// KeyPath/UseAgent/Password — the programmatic equivalent of KeyPath,
	// useful for tests and for callers that already hold a parsed key.
	Signer ssh.Signer

	// Sudo askpass support (spec §4.7).
	SudoPassphrase string
}

// resolved fills in Config fields left unset from ~/.ssh/config entries for
// Host, falling back to OS defaults (current user, port 22).
func (c Config) resolved() Config {
	out := c
	if out.User == "" {
		if u := ssh_config.Get(out.Host, "User"); u != "" {
			out.User = u
		} else if cur, err := user.Current(); err == nil {
			out.User = cur.Username
		}
	}
	if out.Port == 0 {
		if p := ssh_config.Get(out.Host, "Port"); p != "" {
			fmt.Sscanf(p, "%d", &out.Port)
		}
		if out.Port == 0 {
			out.Port = 22
		}
	}
	if out.KeyPath == "" {
		if id := ssh_config.Get(out.Host, "IdentityFile"); id != "" {
			out.KeyPath = os.ExpandEnv(id)
		}
	}
	if out.KnownHostsPath == "" {
		out.KnownHostsPath = os.ExpandEnv("$HOME/.ssh/known_hosts")
	}
	return out
}

// addr returns the host:port dial target, resolving HostName aliasing via
// ssh_config the way a real `ssh <alias>` invocation would.
func (c Config) addr() string {
	host := c.Host
	if hn := ssh_config.Get(c.Host, "HostName"); hn != "" {
		host = hn
	}
	return net.JoinHostPort(host, fmt.Sprintf("%d", c.Port))
}

// key returns the deterministic pool/cache key for this target: same
// resolved host/port/user/key material maps to the same pooled session.
func (c Config) key() string {
	resolved := c.resolved()
	return fmt.Sprintf("%s@%s:%d:%s", resolved.User, resolved.Host, resolved.Port, resolved.KeyPath)
}

// clientConfig builds the golang.org/x/crypto/ssh client config for c,
// trying, in order: an explicit key file, the running ssh-agent, and a
// plain password — the same fallback order as the teacher's NewSSHSession.
func (c Config) clientConfig() (*ssh.ClientConfig, error) {
	resolved := c.resolved()

	var methods []ssh.AuthMethod
	if resolved.Signer != nil {
		methods = append(methods, ssh.PublicKeys(resolved.Signer))
	}
	if len(methods) == 0 && resolved.KeyPath != "" {
		if m := keyAuth(resolved.KeyPath); m != nil {
			methods = append(methods, m)
		}
	}
	if len(methods) == 0 && resolved.UseAgent {
		if m := agentAuth(); m != nil {
			methods = append(methods, m)
		}
	}
	if len(methods) == 0 && resolved.Password != "" {
		methods = append(methods, ssh.Password(resolved.Password))
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("ssh: no usable auth method for %s", resolved.Host)
	}

	callback, err := hostKeyCallback(resolved)
	if err != nil {
		return nil, err
	}

	return &ssh.ClientConfig{
		User:            resolved.User,
		Auth:            methods,
		HostKeyCallback: callback,
	}, nil
}
