package cluster

import (
	"context"
	"os/exec"

	"github.com/aledsdavies/xrun/xerr"
)

// CopySpec configures a single `cp` invocation between the local host and a
// pod (spec §4.10: "Invoke the CLI's cp subcommand with container qualifier
// and direction").
type CopySpec struct {
	Binary     string // defaults to "kubectl" via resolveBinary if empty
	Namespace  string
	Container  string
	Kubeconfig string
	Context    string
}

func (s CopySpec) globalArgs() []string {
	var args []string
	if s.Kubeconfig != "" {
		args = append(args, "--kubeconfig", s.Kubeconfig)
	}
	if s.Context != "" {
		args = append(args, "--context", s.Context)
	}
	return args
}

func (s CopySpec) binary() string { return resolveBinary(s.Binary) }

// To copies localPath into pod at podPath.
func (s CopySpec) To(ctx context.Context, localPath, pod, podPath string) (string, error) {
	return s.run(ctx, localPath, s.remote(pod, podPath))
}

// From copies podPath out of pod to localPath.
func (s CopySpec) From(ctx context.Context, pod, podPath, localPath string) (string, error) {
	return s.run(ctx, s.remote(pod, podPath), localPath)
}

func (s CopySpec) remote(pod, podPath string) string {
	if s.Namespace != "" {
		return s.Namespace + "/" + pod + ":" + podPath
	}
	return pod + ":" + podPath
}

func (s CopySpec) run(ctx context.Context, src, dst string) (string, error) {
	args := append([]string{}, s.globalArgs()...)
	args = append(args, "cp")
	if s.Container != "" {
		args = append(args, "-c", s.Container)
	}
	args = append(args, src, dst)
	out, err := exec.CommandContext(ctx, s.binary(), args...).CombinedOutput()
	if err != nil {
		return string(out), xerr.Wrap(xerr.KindBackend, "cluster file copy failed", err)
	}
	return string(out), nil
}
