package ssh

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aledsdavies/xrun/command"
	"github.com/aledsdavies/xrun/xerr"
)

func testConfig(srv *testServer) Config {
	return Config{
		Host:   "127.0.0.1",
		Port:   srv.port,
		User:   "tester",
		Signer: srv.clientKey,
	}
}

func TestAdapter_ExecuteRunsRemoteCommand(t *testing.T) {
	srv := startTestServer(t)
	a := New(testConfig(srv), nil)
	defer a.Dispose()

	res, err := a.Execute(context.Background(), command.New(command.SSH).WithArgs("echo", "hello"))
	require.NoError(t, err)
	require.True(t, res.OK())
	require.Equal(t, "hello\n", string(res.Stdout))
}

func TestAdapter_ExecuteNonZeroExit(t *testing.T) {
	srv := startTestServer(t)
	a := New(testConfig(srv), nil)
	defer a.Dispose()

	cmd := command.New(command.SSH).WithShellLine("exit 7").WithNoThrow()
	res, err := a.Execute(context.Background(), cmd)
	require.NoError(t, err)
	require.Equal(t, 7, res.ExitCode)
}

func TestAdapter_ExecuteWithDirPrefixesCd(t *testing.T) {
	srv := startTestServer(t)
	a := New(testConfig(srv), nil)
	defer a.Dispose()

	cmd := command.New(command.SSH).WithShellLine("pwd").WithDir("/tmp")
	res, err := a.Execute(context.Background(), cmd)
	require.NoError(t, err)
	require.Equal(t, "/tmp\n", string(res.Stdout))
}

func TestAdapter_EnvOverlayReachesRemoteCommand(t *testing.T) {
	srv := startTestServer(t)
	a := New(testConfig(srv), nil)
	defer a.Dispose()

	cmd := command.New(command.SSH).WithShellLine("echo $TEST_VAR").WithEnv(map[string]string{"TEST_VAR": "remote_value"})
	res, err := a.Execute(context.Background(), cmd)
	require.NoError(t, err)
	require.Equal(t, "remote_value\n", string(res.Stdout))
}

func TestAdapter_CapturedOutputOverflowRaisesByDefault(t *testing.T) {
	srv := startTestServer(t)
	a := New(testConfig(srv), nil)
	defer a.Dispose()

	cmd := command.New(command.SSH).WithShellLine("echo 0123456789")
	cmd.MaxBuffer = 4

	_, err := a.Execute(context.Background(), cmd)
	require.Error(t, err)
	require.True(t, xerr.Of(err, xerr.KindBufferOverflow))
}

func TestAdapter_CapturedOutputOverflowUnderNoThrowReturnsResult(t *testing.T) {
	srv := startTestServer(t)
	a := New(testConfig(srv), nil)
	defer a.Dispose()

	cmd := command.New(command.SSH).WithShellLine("echo 0123456789").WithNoThrow()
	cmd.MaxBuffer = 4

	res, err := a.Execute(context.Background(), cmd)
	require.NoError(t, err)
	require.False(t, res.OK())
}

func TestAdapter_SudoAskpassExportsScriptAndCleansUpAfterward(t *testing.T) {
	srv := startTestServer(t)
	cfg := testConfig(srv)
	cfg.SudoPassphrase = "hunter2"
	a := New(cfg, nil)
	defer a.Dispose()

	cmd := command.New(command.SSH).WithShellLine(`echo "$SUDO_ASKPASS"; "$SUDO_ASKPASS"`)
	res, err := a.Execute(context.Background(), cmd)
	require.NoError(t, err)

	lines := strings.SplitN(string(res.Stdout), "\n", 2)
	scriptPath := lines[0]
	require.NotEmpty(t, scriptPath)
	require.Equal(t, "hunter2\n", lines[1])
	require.NotContains(t, res.Command, "hunter2")

	_, statErr := os.Stat(scriptPath)
	require.True(t, os.IsNotExist(statErr), "askpass script should be removed once the command completes")
}

func TestAdapter_IsAvailable(t *testing.T) {
	srv := startTestServer(t)
	a := New(testConfig(srv), nil)
	defer a.Dispose()
	require.True(t, a.IsAvailable(context.Background()))
}
