// Package container implements the container backend (spec §4.9): one exec
// dispatched against a running container, or an ephemeral `run --rm`
// invocation against a fresh one. Grounded on the teacher pack's
// applecontainer.ContainerSvc (banksean-sand), generalized from that
// package's bespoke `container` CLI wrapper to the full command.Command
// surface and to any OCI-compatible runtime (docker/podman/container).
package container

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strings"
	"syscall"

	"golang.org/x/mod/semver"

	"github.com/aledsdavies/xrun/adapter"
	"github.com/aledsdavies/xrun/command"
	"github.com/aledsdavies/xrun/internal/invariant"
	"github.com/aledsdavies/xrun/stream"
	"github.com/aledsdavies/xrun/xerr"
)

// Mount is one bind mount passed to an ephemeral `run` invocation.
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// Adapter-option keys, set via command.Command.AdapterOptions by the
// Ephemeral/Existing builders below (and readable directly by callers who
// build options maps by hand).
const (
	OptMode    = "container.mode"
	OptImage   = "container.image"
	OptName    = "container.name"
	OptWorkdir = "container.workdir"
	OptUser    = "container.user"
	OptNetwork = "container.network"
	OptMemory  = "container.memory"
	OptCPUs    = "container.cpus"
	OptMounts  = "container.mounts"
	OptExtra   = "container.extra_flags"
	OptRuntime = "container.runtime"
)

const (
	modeExisting = "existing"
	modeEphemeral = "ephemeral"
)

// minSupportedVersion is the floor IsAvailable checks the resolved CLI
// against. Runtimes report wildly different version schemes; this only
// gates the common `vMAJOR.MINOR.PATCH`-shaped ones and treats anything
// else as acceptable.
const minSupportedVersion = "v20.0.0"

// options is the decoded, typed form of a Command's container adapter
// options, read once per dispatch from AdapterOptions.
type options struct {
	mode    string
	image   string
	name    string
	workdir string
	user    string
	network string
	memory  string
	cpus    string
	mounts  []Mount
	extra   []string
	runtime string
}

func decodeOptions(raw map[string]any) (options, error) {
	o := options{runtime: "docker"}
	if v, ok := raw[OptMode].(string); ok {
		o.mode = v
	}
	if v, ok := raw[OptImage].(string); ok {
		o.image = v
	}
	if v, ok := raw[OptName].(string); ok {
		o.name = v
	}
	if v, ok := raw[OptWorkdir].(string); ok {
		o.workdir = v
	}
	if v, ok := raw[OptUser].(string); ok {
		o.user = v
	}
	if v, ok := raw[OptNetwork].(string); ok {
		o.network = v
	}
	if v, ok := raw[OptMemory].(string); ok {
		o.memory = v
	}
	if v, ok := raw[OptCPUs].(string); ok {
		o.cpus = v
	}
	if v, ok := raw[OptMounts].([]Mount); ok {
		o.mounts = v
	}
	if v, ok := raw[OptExtra].([]string); ok {
		o.extra = v
	}
	if v, ok := raw[OptRuntime].(string); ok && v != "" {
		o.runtime = v
	}

	switch o.mode {
	case modeExisting:
		if o.name == "" {
			return options{}, errors.New("container adapter: existing-container mode requires a container name")
		}
	case modeEphemeral:
		if o.image == "" {
			return options{}, errors.New("container adapter: ephemeral mode requires an image")
		}
	default:
		return options{}, fmt.Errorf("container adapter: unknown or missing mode %q", o.mode)
	}
	return o, nil
}

// Adapter is the container backend, dispatching through a single configured
// OCI-compatible CLI (docker/podman/container), unless a Command overrides
// the runtime via OptRuntime.
type Adapter struct {
	*adapter.Base
}

var _ adapter.Adapter = (*Adapter)(nil)

// New constructs the container Adapter.
func New(opts ...adapter.Option) *Adapter {
	return &Adapter{Base: adapter.NewBase(command.Container, "container", runner{}, opts...)}
}

// IsAvailable probes the default runtime's CLI version.
func (a *Adapter) IsAvailable(ctx context.Context) bool {
	return cliAvailable(ctx, "docker") || cliAvailable(ctx, "podman")
}

// Dispose is a no-op; the container backend holds no persistent resources
// of its own (the runtime daemon is external).
func (a *Adapter) Dispose() error { return nil }

func cliAvailable(ctx context.Context, name string) bool {
	out, err := exec.CommandContext(ctx, name, "version", "--format", "{{.Client.Version}}").Output()
	if err != nil {
		return false
	}
	v := strings.TrimSpace(string(out))
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		// Unrecognized version scheme (e.g. podman's "4.9.3-rhel"); treat the
		// CLI as present rather than fail the probe.
		return true
	}
	return semver.Compare(v, minSupportedVersion) >= 0
}

type runner struct{}

func (runner) Run(ctx context.Context, cmd command.Command) (adapter.Raw, error) {
	invariant.NotNil(ctx, "ctx")

	opts, err := decodeOptions(cmd.AdapterOptions)
	if err != nil {
		return adapter.Raw{}, xerr.Wrap(xerr.KindValidation, "decoding container adapter options", err)
	}

	var argv []string
	switch opts.mode {
	case modeExisting:
		argv = execArgv(opts, cmd)
	case modeEphemeral:
		argv = runArgv(opts, cmd)
	}

	execCmd := exec.CommandContext(ctx, opts.runtime, argv...)
	if runtime.GOOS != "windows" {
		execCmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	}

	if stdin, err := stdinFor(cmd); err != nil {
		return adapter.Raw{}, err
	} else if stdin != nil {
		execCmd.Stdin = stdin
	}

	stdout, err := stream.New(stream.Config{MaxBuffer: cmd.MaxBuffer, Encoding: cmd.Encoding})
	if err != nil {
		return adapter.Raw{}, err
	}
	stderr, err := stream.New(stream.Config{MaxBuffer: cmd.MaxBuffer, Encoding: cmd.Encoding})
	if err != nil {
		return adapter.Raw{}, err
	}
	execCmd.Stdout = writerFor(stdout, cmd.StdoutSink, cmd.StdoutMode)
	execCmd.Stderr = writerFor(stderr, cmd.StderrSink, cmd.StderrMode)

	if err := execCmd.Start(); err != nil {
		return adapter.Raw{}, xerr.Wrap(xerr.KindSpawn, "starting container CLI process", err)
	}

	done := make(chan error, 1)
	go func() { done <- execCmd.Wait() }()

	select {
	case <-ctx.Done():
		if execCmd.Process != nil {
			if runtime.GOOS != "windows" {
				_ = syscall.Kill(-execCmd.Process.Pid, syscall.SIGKILL)
			} else {
				_ = execCmd.Process.Kill()
			}
		}
		<-done
		exitCode := -1
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			exitCode = 124
		}
		return adapter.Raw{ExitCode: exitCode, Stdout: stdout.Bytes(), Stderr: stderr.Bytes(), Container: containerLabel(opts)}, ctx.Err()

	case waitErr := <-done:
		if overflow := firstOverflow(stdout, stderr); overflow != nil {
			return adapter.Raw{ExitCode: -1, Stdout: stdout.Bytes(), Stderr: stderr.Bytes(), Container: containerLabel(opts)}, overflow
		}
		exitCode, _ := exitInfo(waitErr)
		return adapter.Raw{
			ExitCode:  exitCode,
			Stdout:    stdout.Bytes(),
			Stderr:    stderr.Bytes(),
			Container: containerLabel(opts),
		}, nil
	}
}

func containerLabel(o options) string {
	if o.name != "" {
		return o.name
	}
	return o.image
}

// execArgv builds `<runtime> exec [-w dir] [-u user] [-e K=V]... <name> <cmd...>`.
func execArgv(o options, cmd command.Command) []string {
	argv := []string{"exec"}
	if o.workdir != "" {
		argv = append(argv, "-w", o.workdir)
	}
	if o.user != "" {
		argv = append(argv, "-u", o.user)
	}
	for k, v := range cmd.Env {
		argv = append(argv, "-e", k+"="+v)
	}
	argv = append(argv, o.extra...)
	argv = append(argv, o.name)
	return append(argv, payloadArgv(cmd)...)
}

// runArgv builds `<runtime> run --rm [-w dir] [-u user] [--network n]
// [-v src:dst[:ro]]... [-e K=V]... [--memory m] [--cpus c] <image> <cmd...>`.
func runArgv(o options, cmd command.Command) []string {
	argv := []string{"run", "--rm"}
	if o.workdir != "" {
		argv = append(argv, "-w", o.workdir)
	}
	if o.user != "" {
		argv = append(argv, "-u", o.user)
	}
	if o.network != "" {
		argv = append(argv, "--network", o.network)
	}
	for _, m := range o.mounts {
		spec := m.Source + ":" + m.Target
		if m.ReadOnly {
			spec += ":ro"
		}
		argv = append(argv, "-v", spec)
	}
	for k, v := range cmd.Env {
		argv = append(argv, "-e", k+"="+v)
	}
	if o.memory != "" {
		argv = append(argv, "--memory", o.memory)
	}
	if o.cpus != "" {
		argv = append(argv, "--cpus", o.cpus)
	}
	argv = append(argv, o.extra...)
	argv = append(argv, o.image)
	return append(argv, payloadArgv(cmd)...)
}

// payloadArgv resolves the Command's own program/args or shell line into
// the trailing argv passed to the container's entrypoint.
func payloadArgv(cmd command.Command) []string {
	if cmd.UseShellLine {
		return []string{"sh", "-c", cmd.ShellLine}
	}
	return append([]string{cmd.Program}, cmd.Args...)
}

func stdinFor(cmd command.Command) (io.Reader, error) {
	switch cmd.StdinKind {
	case command.StdinBytes:
		return bytes.NewReader(cmd.StdinBytes), nil
	case command.StdinReader:
		if cmd.StdinReader == nil {
			return nil, xerr.New(xerr.KindValidation, "stdin reader mode set with a nil reader")
		}
		return cmd.StdinReader, nil
	default:
		return nil, nil
	}
}

func writerFor(h *stream.Handler, sink io.Writer, mode command.StdioMode) io.Writer {
	if mode == command.StdioDiscard {
		return io.Discard
	}
	if mode == command.StdioSink && sink != nil {
		return io.MultiWriter(h, sink)
	}
	return h
}

func firstOverflow(stdout, stderr *stream.Handler) error {
	if err := stdout.Overflow(); err != nil {
		return err
	}
	return stderr.Overflow()
}

func exitInfo(err error) (int, string) {
	if err == nil {
		return 0, ""
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), ""
	}
	return 1, ""
}
