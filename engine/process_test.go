package engine

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aledsdavies/xrun/command"
)

func TestProcess_PipeFeedsStdoutIntoNextStdin(t *testing.T) {
	e := New()
	p := e.Run([]string{"printf 'a\\nb\\nc\\n'"}).Pipe(
		command.New(command.Local).WithShellLine("wc -l"),
	)
	res, err := p.Result()
	require.NoError(t, err)
	text, err := res.Text()
	require.NoError(t, err)
	require.Equal(t, "3", text)
}

func TestProcess_LinesSplitsTrimmedStdout(t *testing.T) {
	e := New()
	lines, err := e.Run([]string{"printf 'x\\ny\\n'"}).Lines()
	require.NoError(t, err)
	require.Equal(t, []string{"x", "y"}, lines)
}

func TestProcess_JSONDecodesStdout(t *testing.T) {
	e := New()
	var out struct {
		Ok bool `json:"ok"`
	}
	err := e.Run([]string{`echo '{"ok": true}'`}).JSON(&out)
	require.NoError(t, err)
	require.True(t, out.Ok)
}

func TestProcess_QuietLeavesStdoutEmpty(t *testing.T) {
	e := New().Quiet()
	p := e.Run([]string{"echo visible"})
	data, err := io.ReadAll(p.Stdout())
	require.NoError(t, err)
	require.Empty(t, data)

	res, err := p.Result()
	require.NoError(t, err)
	require.Equal(t, "visible\n", string(res.Stdout))
}

func TestProcess_StdoutIsReadableAfterCompletion(t *testing.T) {
	e := New()
	p := e.Run([]string{"echo hi"})
	data, err := io.ReadAll(p.Stdout())
	require.NoError(t, err)
	require.Equal(t, "hi\n", string(data))
}

func TestProcess_KillCancelsInFlightCommand(t *testing.T) {
	e := New().Nothrow()
	p := e.Run([]string{"sleep 5"})
	time.AfterFunc(50*time.Millisecond, func() { _ = p.Kill("") })
	res, err := p.Result()
	require.NoError(t, err)
	require.False(t, res.OK())
}

func TestProcess_KillBeforeStartErrors(t *testing.T) {
	e := New()
	p := e.Run([]string{"echo unused"})
	err := p.Kill("")
	require.Error(t, err)
}

func TestProcess_ChainMethodsLeaveReceiverUnstarted(t *testing.T) {
	e := New()
	base := e.Run([]string{"echo base"})
	derived := base.Nothrow()
	require.NotSame(t, base, derived)
}
