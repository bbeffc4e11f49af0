package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSHClient is a Transport holding one SSH connection and, once a file is
// requested, one SFTP session on it.
type SSHClient struct {
	config *Config

	mu      sync.Mutex
	conn    *ssh.Client
	session *sftp.Client
	since   time.Time
}

// NewSSHClient validates config and returns an unconnected client.
func NewSSHClient(config *Config) (*SSHClient, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sftp config: %w", err)
	}
	return &SSHClient{config: config}, nil
}

// Connect dials the host and completes the SSH handshake. Cancelling ctx
// aborts both steps.
func (c *SSHClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}

	clientConfig, err := c.config.BuildSSHClientConfig()
	if err != nil {
		return &TransportError{Op: "connect", Err: err, IsAuthError: true}
	}

	addr := c.config.Address()
	conn, err := c.handshake(ctx, addr, clientConfig)
	if err != nil {
		if ctx.Err() != nil {
			return &TransportError{Op: "connect", Err: ctx.Err(), IsTemporary: true}
		}
		auth := isAuthFailure(err)
		return &TransportError{Op: "connect", Err: err, IsTemporary: !auth, IsAuthError: auth}
	}

	c.conn = conn
	c.since = time.Now()
	log.Debug().Str("address", addr).Str("user", c.config.User).Msg("SSH connection established")
	return nil
}

func (c *SSHClient) handshake(ctx context.Context, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	dialer := net.Dialer{Timeout: cfg.Timeout}
	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	// The handshake itself ignores ctx; closing the socket unblocks it.
	stop := context.AfterFunc(ctx, func() { raw.Close() })
	if cfg.Timeout > 0 {
		_ = raw.SetDeadline(time.Now().Add(cfg.Timeout))
	}

	sc, chans, reqs, err := ssh.NewClientConn(raw, addr, cfg)
	if !stop() && err == nil {
		sc.Close()
		return nil, ctx.Err()
	}
	if err != nil {
		raw.Close()
		return nil, err
	}
	_ = raw.SetDeadline(time.Time{})
	return ssh.NewClient(sc, chans, reqs), nil
}

// Disconnect closes the SFTP session and the connection. Closing an
// unconnected client is a no-op.
func (c *SSHClient) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}

	if c.session != nil {
		_ = c.session.Close()
		c.session = nil
	}
	err := c.conn.Close()
	c.conn = nil

	log.Debug().
		Str("host", c.config.Host).
		Dur("connected_for", time.Since(c.since)).
		Msg("SSH connection closed")
	if err != nil {
		return &TransportError{Op: "disconnect", Err: err}
	}
	return nil
}

func (c *SSHClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// sftpSession opens the SFTP subsystem on first use.
func (c *SSHClient) sftpSession() (*sftp.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, &TransportError{Op: "sftp-init", Err: errors.New("not connected")}
	}
	if c.session == nil {
		s, err := sftp.NewClient(c.conn)
		if err != nil {
			return nil, &TransportError{Op: "sftp-init", Err: fmt.Errorf("open sftp subsystem: %w", err), IsTemporary: true}
		}
		c.session = s
	}
	return c.session, nil
}

// isAuthFailure reports a rejected credential or host key. Neither gets
// better by retrying.
func isAuthFailure(err error) bool {
	var keyErr *knownhosts.KeyError
	if errors.As(err, &keyErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "unable to authenticate") || strings.Contains(msg, "knownhosts:")
}
