package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

// DownloadFile copies remotePath to localPath over SFTP. The copy lands in
// a temporary file that is renamed into place, so an interrupted transfer
// never leaves a truncated boundary behind. A missing remote file yields
// an error matching fs.ErrNotExist.
func (c *SSHClient) DownloadFile(ctx context.Context, remotePath string, localPath string) (*FileTransferResult, error) {
	session, err := c.sftpSession()
	if err != nil {
		return nil, err
	}

	started := time.Now()
	src, err := session.Open(remotePath)
	if err != nil {
		return nil, &TransportError{Op: "download", Err: fmt.Errorf("open %s: %w", remotePath, err), IsTemporary: !errors.Is(err, fs.ErrNotExist)}
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return nil, &TransportError{Op: "download", Err: fmt.Errorf("stat %s: %w", remotePath, err), IsTemporary: true}
	}
	if info.IsDir() {
		return nil, &TransportError{Op: "download", Err: fmt.Errorf("%s is a directory", remotePath)}
	}

	n, err := writeAtomic(ctx, localPath, src)
	if err != nil {
		return nil, &TransportError{Op: "download", Err: err, IsTemporary: ctx.Err() == nil}
	}

	result := &FileTransferResult{
		RemotePath:       remotePath,
		LocalPath:        localPath,
		BytesTransferred: n,
		StartedAt:        started,
		FinishedAt:       time.Now(),
	}
	log.Debug().
		Str("remote", remotePath).
		Str("local", localPath).
		Int64("bytes", n).
		Dur("duration", result.Duration()).
		Msg("Downloaded file")
	return result, nil
}

func writeAtomic(ctx context.Context, path string, src io.Reader) (int64, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, ctxReader{ctx: ctx, r: src})
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("copy to %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return n, fmt.Errorf("rename into %s: %w", path, err)
	}
	return n, nil
}

// ctxReader fails the next Read once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
