package ssh

import (
	"context"
	"io"
	"os"

	"github.com/pkg/sftp"

	"github.com/aledsdavies/xrun/xerr"
)

// TransferProgress receives a running byte count during Upload/Download
// (spec §4.7: "progress callbacks receive byte counts"). total is 0 when the
// source size is unknown ahead of time (e.g. an io.Reader upload).
type TransferProgress func(transferred, total int64)

// Upload copies localPath to remotePath over the pooled session's SFTP
// channel, reporting progress through progress if non-nil.
func (a *Adapter) Upload(ctx context.Context, localPath, remotePath string, progress TransferProgress) error {
	local, err := os.Open(localPath)
	if err != nil {
		return xerr.Wrap(xerr.KindSpawn, "opening local file for upload", err)
	}
	defer local.Close()

	var total int64
	if info, statErr := local.Stat(); statErr == nil {
		total = info.Size()
	}

	return a.transfer(ctx, func(client *sftp.Client) error {
		remote, err := client.Create(remotePath)
		if err != nil {
			return xerr.Wrap(xerr.KindSpawn, "creating remote file", err)
		}
		defer remote.Close()
		return copyWithProgress(remote, local, total, progress)
	})
}

// Download copies remotePath to localPath over the pooled session's SFTP
// channel, reporting progress through progress if non-nil.
func (a *Adapter) Download(ctx context.Context, remotePath, localPath string, progress TransferProgress) error {
	return a.transfer(ctx, func(client *sftp.Client) error {
		remote, err := client.Open(remotePath)
		if err != nil {
			return xerr.Wrap(xerr.KindSpawn, "opening remote file for download", err)
		}
		defer remote.Close()

		var total int64
		if info, statErr := remote.Stat(); statErr == nil {
			total = info.Size()
		}

		local, err := os.Create(localPath)
		if err != nil {
			return xerr.Wrap(xerr.KindSpawn, "creating local file", err)
		}
		defer local.Close()
		return copyWithProgress(local, remote, total, progress)
	})
}

// transfer acquires a pooled connection, opens an SFTP client over it, runs
// fn, and releases the connection — destroying it if the SFTP channel itself
// failed to open, the same discipline Run applies to exec channels (spec
// §4.7 step 4).
func (a *Adapter) transfer(ctx context.Context, fn func(*sftp.Client) error) error {
	pc, err := a.pool.Acquire(ctx, a.cfg)
	if err != nil {
		return err
	}

	client, err := sftp.NewClient(pc.client)
	if err != nil {
		a.pool.Release(pc, true)
		return xerr.Wrap(xerr.KindConnection, "opening sftp channel", err)
	}
	defer client.Close()

	err = fn(client)
	a.pool.Release(pc, false)
	return err
}

// copyWithProgress copies src to dst in fixed-size chunks, invoking progress
// after each chunk with the running total.
func copyWithProgress(dst io.Writer, src io.Reader, total int64, progress TransferProgress) error {
	buf := make([]byte, 32*1024)
	var transferred int64
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, writeErr := dst.Write(buf[:n]); writeErr != nil {
				return xerr.Wrap(xerr.KindSpawn, "writing transferred bytes", writeErr)
			}
			transferred += int64(n)
			if progress != nil {
				progress(transferred, total)
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return xerr.Wrap(xerr.KindSpawn, "reading transferred bytes", readErr)
		}
	}
}
