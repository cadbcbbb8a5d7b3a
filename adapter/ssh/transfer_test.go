package ssh

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAdapter_UploadWritesRemoteFile(t *testing.T) {
	srv := startTestServer(t)
	a := New(testConfig(srv), nil)
	defer a.Dispose()

	dir := t.TempDir()
	localPath := filepath.Join(dir, "local.txt")
	remotePath := filepath.Join(dir, "remote.txt")
	require.NoError(t, os.WriteFile(localPath, []byte("hello upload"), 0o600))

	var lastTransferred, lastTotal int64
	err := a.Upload(context.Background(), localPath, remotePath, func(transferred, total int64) {
		lastTransferred, lastTotal = transferred, total
	})
	require.NoError(t, err)

	got, err := os.ReadFile(remotePath)
	require.NoError(t, err)
	require.Equal(t, "hello upload", string(got))
	require.Equal(t, int64(len("hello upload")), lastTransferred)
	require.Equal(t, int64(len("hello upload")), lastTotal)
}

func TestAdapter_DownloadReadsRemoteFile(t *testing.T) {
	srv := startTestServer(t)
	a := New(testConfig(srv), nil)
	defer a.Dispose()

	dir := t.TempDir()
	remotePath := filepath.Join(dir, "remote.txt")
	localPath := filepath.Join(dir, "local.txt")
	require.NoError(t, os.WriteFile(remotePath, []byte("hello download"), 0o600))

	var calls int
	err := a.Download(context.Background(), remotePath, localPath, func(transferred, total int64) {
		calls++
	})
	require.NoError(t, err)
	require.Greater(t, calls, 0)

	got, err := os.ReadFile(localPath)
	require.NoError(t, err)
	require.Equal(t, "hello download", string(got))
}

func TestAdapter_DownloadMissingRemoteFileErrors(t *testing.T) {
	srv := startTestServer(t)
	a := New(testConfig(srv), nil)
	defer a.Dispose()

	dir := t.TempDir()
	err := a.Download(context.Background(), filepath.Join(dir, "missing.txt"), filepath.Join(dir, "local.txt"), nil)
	require.Error(t, err)
}
