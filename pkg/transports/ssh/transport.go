// Package ssh fetches boundary files from sftp:// locations.
package ssh

import (
	"context"
	"time"
)

// Transport copies remote files to the local disk. Fetcher depends on this
// rather than on SSHClient so tests can serve files from memory.
type Transport interface {
	// Connect is a no-op on a connected transport.
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool

	// DownloadFile creates the parent directories of localPath as needed.
	DownloadFile(ctx context.Context, remotePath string, localPath string) (*FileTransferResult, error)
}

var _ Transport = (*SSHClient)(nil)

type FileTransferResult struct {
	RemotePath       string
	LocalPath        string
	BytesTransferred int64
	StartedAt        time.Time
	FinishedAt       time.Time
}

func (r *FileTransferResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// TransportError is a failed transport operation. The pipeline classifies
// an auth error as permanent and a temporary one as transient.
type TransportError struct {
	// Op is connect, disconnect, sftp-init or download.
	Op          string
	Err         error
	IsTemporary bool
	// IsAuthError marks a rejected credential or host key.
	IsAuthError bool
}

func (e *TransportError) Error() string { return "sftp " + e.Op + ": " + e.Err.Error() }

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Temporary() bool { return e.IsTemporary }
