package engine

import (
	sshadapter "github.com/aledsdavies/xrun/adapter/ssh"
)

// sshConfigFromOptions decodes the raw option map spec §6 describes for the
// SSH selector (`{host, port?, username, password?, privateKey?, agent?,
// strictHostKeyChecking?, maxConnections?}`) into an ssh.Config. Only the
// scalar fields with a direct Config counterpart are decoded here;
// maxConnections governs the shared pool, not a per-target Config, and is
// applied by the caller via WithPoolSize at pool construction instead.
func sshConfigFromOptions(opts map[string]any) (sshadapter.Config, error) {
	cfg := sshadapter.Config{}
	if host, _ := opts["host"].(string); host != "" {
		cfg.Host = host
	}
	if port, ok := opts["port"].(int); ok {
		cfg.Port = port
	} else if portF, ok := opts["port"].(float64); ok {
		cfg.Port = int(portF)
	}
	if user, _ := opts["username"].(string); user != "" {
		cfg.User = user
	}
	if pw, _ := opts["password"].(string); pw != "" {
		cfg.Password = pw
	}
	if key, _ := opts["privateKey"].(string); key != "" {
		cfg.KeyPath = key
	}
	if agent, ok := opts["agent"].(bool); ok {
		cfg.UseAgent = agent
	}
	if strict, ok := opts["strictHostKeyChecking"].(bool); ok {
		cfg.StrictHostKey = strict
	}
	return cfg, nil
}
