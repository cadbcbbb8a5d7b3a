package cluster

import (
	"bufio"
	"context"
	"os/exec"
	"strconv"

	"github.com/aledsdavies/xrun/xerr"
)

// LogsSpec configures a follow-mode `logs` invocation (spec §4.10: "Spawn
// logs with -f (follow), optional container, optional tail line count,
// optional --previous, optional --timestamps").
type LogsSpec struct {
	Binary     string
	Namespace  string
	Container  string
	Kubeconfig string
	Context    string
	TailLines  int // 0 means the CLI default (no --tail flag)
	Previous   bool
	Timestamps bool
}

func (s LogsSpec) args(pod string) []string {
	var args []string
	if s.Kubeconfig != "" {
		args = append(args, "--kubeconfig", s.Kubeconfig)
	}
	if s.Context != "" {
		args = append(args, "--context", s.Context)
	}
	args = append(args, "logs", "-f", pod)
	if s.Namespace != "" {
		args = append(args, "-n", s.Namespace)
	}
	if s.Container != "" {
		args = append(args, "-c", s.Container)
	}
	if s.TailLines > 0 {
		args = append(args, "--tail", strconv.Itoa(s.TailLines))
	}
	if s.Previous {
		args = append(args, "--previous")
	}
	if s.Timestamps {
		args = append(args, "--timestamps")
	}
	return args
}

// LineFunc receives one non-empty line of streamed log output (spec.md §5
// Open Question: this callback never auto-forwards to the host process's
// own stdout/stderr; callers that want that attach a callback that does).
type LineFunc func(line string)

// Follow streams pod's logs, invoking onLine for each non-empty line, until
// ctx is done or the child exits on its own. Blocks until streaming ends.
func (s LogsSpec) Follow(ctx context.Context, pod string, onLine LineFunc) error {
	binary := resolveBinary(s.Binary)
	cmd := exec.CommandContext(ctx, binary, s.args(pod)...)

	pipe, err := cmd.StdoutPipe()
	if err != nil {
		return xerr.Wrap(xerr.KindSpawn, "opening cluster logs pipe", err)
	}
	if err := cmd.Start(); err != nil {
		return xerr.Wrap(xerr.KindSpawn, "starting cluster logs follow", err)
	}

	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if onLine != nil {
			onLine(line)
		}
	}
	return cmd.Wait()
}
