package container

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aledsdavies/xrun/command"
)

func TestDecodeOptions_ExistingRequiresName(t *testing.T) {
	_, err := decodeOptions(map[string]any{OptMode: modeExisting})
	require.Error(t, err)
}

func TestDecodeOptions_EphemeralRequiresImage(t *testing.T) {
	_, err := decodeOptions(map[string]any{OptMode: modeEphemeral})
	require.Error(t, err)
}

func TestDecodeOptions_UnknownModeRejected(t *testing.T) {
	_, err := decodeOptions(map[string]any{OptMode: "bogus"})
	require.Error(t, err)
}

func TestExecArgv_IncludesWorkdirUserAndName(t *testing.T) {
	o := options{mode: modeExisting, name: "web-1", workdir: "/app", user: "deploy", runtime: "docker"}
	cmd := command.New(command.Container).WithShellLine("ls")
	argv := execArgv(o, cmd)
	require.Equal(t, []string{"exec", "-w", "/app", "-u", "deploy", "web-1", "sh", "-c", "ls"}, argv)
}

func TestRunArgv_IncludesMountsAndLimits(t *testing.T) {
	o := options{
		mode:    modeEphemeral,
		image:   "alpine:3",
		network: "bridge",
		memory:  "256m",
		cpus:    "1",
		mounts:  []Mount{{Source: "/host", Target: "/data", ReadOnly: true}},
		runtime: "docker",
	}
	cmd := command.New(command.Container).WithShellLine("echo hi")
	argv := runArgv(o, cmd)
	require.Equal(t, []string{
		"run", "--rm",
		"--network", "bridge",
		"-v", "/host:/data:ro",
		"--memory", "256m",
		"--cpus", "1",
		"alpine:3",
		"sh", "-c", "echo hi",
	}, argv)
}

func TestPayloadArgv_UsesProgramAndArgsWhenNoShellLine(t *testing.T) {
	cmd := command.New(command.Container).WithArgs("ls", "-la")
	require.Equal(t, []string{"ls", "-la"}, payloadArgv(cmd))
}

func TestContainerLabel_PrefersNameOverImage(t *testing.T) {
	require.Equal(t, "web-1", containerLabel(options{name: "web-1", image: "alpine"}))
	require.Equal(t, "alpine", containerLabel(options{image: "alpine"}))
}

func TestEphemeralSpec_RunBuildsEphemeralCommand(t *testing.T) {
	cmd := Ephemeral("alpine:3").Workdir("/app").Env(map[string]string{"X": "1"}).Run("echo hi")
	require.Equal(t, command.Container, cmd.Adapter)
	require.Equal(t, modeEphemeral, cmd.AdapterOptions[OptMode])
	require.Equal(t, "alpine:3", cmd.AdapterOptions[OptImage])
	require.Equal(t, "/app", cmd.AdapterOptions[OptWorkdir])
	require.Equal(t, "1", cmd.Env["X"])
}

func TestExistingSpec_ExecBuildsExistingCommand(t *testing.T) {
	cmd := Container("web-1").Workdir("/srv").Exec("ls")
	require.Equal(t, modeExisting, cmd.AdapterOptions[OptMode])
	require.Equal(t, "web-1", cmd.AdapterOptions[OptName])
	require.Equal(t, "/srv", cmd.AdapterOptions[OptWorkdir])
}

// fakeRuntime writes a shell script standing in for a container CLI: it
// drops every argument except the trailing three (always "sh -c <line>",
// since payloadArgv always appends those for a shell-line Command) and execs
// them. This exercises runner.Run end to end without a real container
// daemon on the test host.
func fakeRuntime(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-runtime.sh")
	script := "#!/bin/sh\nn=$#\nshift $((n-3))\nexec \"$@\"\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestRunner_ExistingModeRunsPayloadThroughFakeRuntime(t *testing.T) {
	rt := fakeRuntime(t)
	cmd := Container("web-1").Runtime(rt).Exec("echo hello")
	raw, err := (runner{}).Run(context.Background(), cmd)
	require.NoError(t, err)
	require.Equal(t, 0, raw.ExitCode)
	require.Equal(t, "hello\n", string(raw.Stdout))
	require.Equal(t, "web-1", raw.Container)
}

func TestRunner_EphemeralModeRunsPayloadThroughFakeRuntime(t *testing.T) {
	rt := fakeRuntime(t)
	cmd := Ephemeral("alpine:3").Runtime(rt).Run("exit 3")
	raw, err := (runner{}).Run(context.Background(), cmd)
	require.NoError(t, err)
	require.Equal(t, 3, raw.ExitCode)
	require.Equal(t, "alpine:3", raw.Container)
}

func TestAdapter_IsAvailableFalseWithoutAnyRuntimeInstalled(t *testing.T) {
	a := New()
	// This sandbox has neither docker nor podman on PATH.
	require.False(t, a.IsAvailable(context.Background()))
}

func TestAdapter_DisposeIsNoop(t *testing.T) {
	a := New()
	require.NoError(t, a.Dispose())
}
