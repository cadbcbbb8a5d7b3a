package cluster

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func fakeLogsBinary(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-kubectl-logs.sh")
	script := "#!/bin/sh\nprintf 'line one\\n\\nline two\\n'\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestLogsSpec_FollowDeliversNonEmptyLines(t *testing.T) {
	bin := fakeLogsBinary(t)
	spec := LogsSpec{Binary: bin}

	var lines []string
	err := spec.Follow(context.Background(), "web-1", func(line string) {
		lines = append(lines, line)
	})
	require.NoError(t, err)
	require.Equal(t, []string{"line one", "line two"}, lines)
}

func TestLogsSpec_ArgsIncludesTailPreviousAndTimestamps(t *testing.T) {
	spec := LogsSpec{Namespace: "prod", Container: "app", TailLines: 50, Previous: true, Timestamps: true}
	args := spec.args("web-1")
	require.Equal(t, []string{
		"logs", "-f", "web-1",
		"-n", "prod",
		"-c", "app",
		"--tail", "50",
		"--previous",
		"--timestamps",
	}, args)
}
