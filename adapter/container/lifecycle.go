package container

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"

	"github.com/aledsdavies/xrun/xerr"
)

// Lifecycle wraps thin one-shot CLI subcommands against a named container.
// These are not part of the core exec contract (spec §4.9) — each method
// simply shells out once and reports its outcome.
type Lifecycle struct {
	Runtime string // "docker", "podman", "container"; empty means "docker"
}

func (l Lifecycle) runtime() string {
	if l.Runtime == "" {
		return "docker"
	}
	return l.Runtime
}

func (l Lifecycle) run(ctx context.Context, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, l.runtime(), args...).CombinedOutput()
	if err != nil {
		return string(out), xerr.Wrap(xerr.KindBackend, fmt.Sprintf("container lifecycle %q failed", args[0]), err)
	}
	return string(out), nil
}

// Start starts a stopped container.
func (l Lifecycle) Start(ctx context.Context, name string) (string, error) {
	return l.run(ctx, "start", name)
}

// Stop stops a running container.
func (l Lifecycle) Stop(ctx context.Context, name string) (string, error) {
	return l.run(ctx, "stop", name)
}

// Pause suspends all processes in a running container.
func (l Lifecycle) Pause(ctx context.Context, name string) (string, error) {
	return l.run(ctx, "pause", name)
}

// Restart stops then starts a container.
func (l Lifecycle) Restart(ctx context.Context, name string) (string, error) {
	return l.run(ctx, "restart", name)
}

// Stats reports a single snapshot of resource usage for name.
func (l Lifecycle) Stats(ctx context.Context, name string) (string, error) {
	return l.run(ctx, "stats", "--no-stream", name)
}

// Health reports the container runtime's health-check status for name.
func (l Lifecycle) Health(ctx context.Context, name string) (string, error) {
	return l.run(ctx, "inspect", "--format", "{{.State.Health.Status}}", name)
}

// Commit snapshots name's current filesystem into a new image tagged tag.
func (l Lifecycle) Commit(ctx context.Context, name, tag string) (string, error) {
	return l.run(ctx, "commit", name, tag)
}

// CopyIn copies localPath into name at containerPath (`docker cp` direction:
// host -> container).
func (l Lifecycle) CopyIn(ctx context.Context, localPath, name, containerPath string) (string, error) {
	return l.run(ctx, "cp", localPath, name+":"+containerPath)
}

// CopyOut copies containerPath out of name to localPath (container -> host).
func (l Lifecycle) CopyOut(ctx context.Context, name, containerPath, localPath string) (string, error) {
	return l.run(ctx, "cp", name+":"+containerPath, localPath)
}

// LineFunc receives one line of streamed log output.
type LineFunc func(line string)

// LogsFollow streams name's logs, invoking onLine for each line received,
// until ctx is done or the underlying process exits on its own. It blocks
// until streaming ends.
func (l Lifecycle) LogsFollow(ctx context.Context, name string, onLine LineFunc) error {
	cmd := exec.CommandContext(ctx, l.runtime(), "logs", "-f", name)
	pipe, err := cmd.StdoutPipe()
	if err != nil {
		return xerr.Wrap(xerr.KindSpawn, "opening container logs pipe", err)
	}
	if err := cmd.Start(); err != nil {
		return xerr.Wrap(xerr.KindSpawn, "starting container logs follow", err)
	}

	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if onLine != nil {
			onLine(scanner.Text())
		}
	}
	return cmd.Wait()
}
