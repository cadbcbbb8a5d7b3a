package cluster

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func fakeCopyBinary(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-kubectl-cp.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\necho \"$@\"\n"), 0o755))
	return path
}

func TestCopySpec_ToPrefixesNamespaceOnRemote(t *testing.T) {
	bin := fakeCopyBinary(t)
	spec := CopySpec{Binary: bin, Namespace: "prod", Container: "app"}

	out, err := spec.To(context.Background(), "/local/file", "web-1", "/remote/file")
	require.NoError(t, err)
	require.Equal(t, "cp -c app /local/file prod/web-1:/remote/file\n", out)
}

func TestCopySpec_FromReversesArgumentOrder(t *testing.T) {
	bin := fakeCopyBinary(t)
	spec := CopySpec{Binary: bin}

	out, err := spec.From(context.Background(), "web-1", "/remote/file", "/local/file")
	require.NoError(t, err)
	require.Equal(t, "cp web-1:/remote/file /local/file\n", out)
}
