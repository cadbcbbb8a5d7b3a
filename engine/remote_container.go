package engine

import (
	"context"

	sshadapter "github.com/aledsdavies/xrun/adapter/ssh"
	"github.com/aledsdavies/xrun/command"
)

// remoteContainerAdapter drives a container-runtime CLI through an SSH
// session rather than a local child process (spec §4.11's combined
// remoteContainer selector): it rewrites the assembled container command
// into a single shell line and hands it to the wrapped SSH adapter, which
// performs the actual dispatch, pooling, retry, caching, and masking.
type remoteContainerAdapter struct {
	*sshadapter.Adapter
	containerOpts map[string]any
}

func newRemoteContainerAdapter(ssh *sshadapter.Adapter, containerOpts map[string]any) *remoteContainerAdapter {
	return &remoteContainerAdapter{Adapter: ssh, containerOpts: containerOpts}
}

// Name identifies this adapter for logging and events.
func (r *remoteContainerAdapter) Name() string { return "remote-container:" + r.Adapter.Name() }

// Execute rewrites cmd's program/shell-line into the container-runtime CLI
// invocation before delegating to the wrapped SSH adapter.
func (r *remoteContainerAdapter) Execute(ctx context.Context, cmd command.Command) (command.Result, error) {
	line, err := containerShellLine(r.containerOpts, cmd)
	if err != nil {
		return command.Result{}, err
	}
	return r.Adapter.Execute(ctx, cmd.WithShellLine(line))
}
