package command

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestResult_OK(t *testing.T) {
	require.True(t, Result{ExitCode: 0}.OK())
	require.False(t, Result{ExitCode: 1}.OK())
	require.False(t, Result{Signal: "SIGKILL"}.OK())
}

func TestResult_Cause(t *testing.T) {
	require.Equal(t, "", Result{}.Cause())
	require.Equal(t, "exitCode: 7", Result{ExitCode: 7}.Cause())
	require.Equal(t, "signal: SIGKILL", Result{Signal: "SIGKILL"}.Cause())
	require.Equal(t, "timeout (exitCode: 124)", Result{ExitCode: 124, TimedOut: true}.Cause())
}

func TestResult_Duration(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := Result{Start: start, End: start.Add(3 * time.Second)}
	require.Equal(t, 3*time.Second, r.Duration())
}

func TestResult_TextTrimsSingleTrailingNewline(t *testing.T) {
	text, err := Result{Stdout: []byte("hello\n")}.Text()
	require.NoError(t, err)
	require.Equal(t, "hello", text)
}

func TestResult_LinesEmptyOnBlankOutput(t *testing.T) {
	require.Equal(t, []string{}, Result{}.Lines())
}

func TestResult_LinesSplitsOnNewline(t *testing.T) {
	r := Result{Stdout: []byte("a\nb\nc\n")}
	require.Equal(t, []string{"a", "b", "c"}, r.Lines())
}

func TestResult_JSONDecodesTrimmedStdout(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}
	var p payload
	r := Result{Stdout: []byte(`{"name":"opal"}` + "\n")}
	require.NoError(t, r.JSON(&p))
	require.Equal(t, "opal", p.Name)
}
