package cluster

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fakePortForwardBinary(t *testing.T, port string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-kubectl-pf.sh")
	script := "#!/bin/sh\n" +
		"echo \"Forwarding from 127.0.0.1:" + port + " -> 80\"\n" +
		"echo \"Forwarding from [::1]:" + port + " -> 80\"\n" +
		"sleep 5\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestPortForward_OpenReportsBoundPort(t *testing.T) {
	bin := fakePortForwardBinary(t, "38080")
	spec := PortForwardSpec{Binary: bin}

	pf, err := spec.Open(context.Background(), "web-1", 38080, 80, nil)
	require.NoError(t, err)
	defer pf.Close()

	require.Equal(t, 38080, pf.LocalPort())
	require.Equal(t, PortForwardOpen, pf.State())
}

func TestPortForward_CloseIsIdempotentAndTransitionsState(t *testing.T) {
	bin := fakePortForwardBinary(t, "38081")
	spec := PortForwardSpec{Binary: bin}

	pf, err := spec.Open(context.Background(), "web-1", 38081, 80, nil)
	require.NoError(t, err)

	require.NoError(t, pf.Close())
	require.NoError(t, pf.Close())
	require.Equal(t, PortForwardClosed, pf.State())
}

func TestPortForward_FailsWhenChildExitsBeforeBinding(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-kubectl-fail.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nexit 1\n"), 0o755))

	spec := PortForwardSpec{Binary: path}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := spec.Open(ctx, "web-1", 0, 80, nil)
	require.Error(t, err)
}

func TestPortForward_DynamicLocalPortUsesColonPrefixSpec(t *testing.T) {
	bin := fakePortForwardBinary(t, "41000")
	spec := PortForwardSpec{Binary: bin}

	pf, err := spec.Open(context.Background(), "web-1", 0, 80, nil)
	require.NoError(t, err)
	defer pf.Close()
	require.Equal(t, 41000, pf.LocalPort())
}
