package ssh

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// sftpServer is an in-process SSH server offering the sftp subsystem
// over the local filesystem.
type sftpServer struct {
	listener net.Listener
	config   *ssh.ServerConfig
	hostKey  ssh.PublicKey
	addr     string
	host     string
	port     int
	done     chan struct{}
}

func startSFTPServer(t *testing.T) *sftpServer {
	t.Helper()

	hostKey, signer, err := newClientKey()
	if err != nil {
		t.Fatalf("failed to generate host key: %v", err)
	}

	config := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == "gis" && string(pass) == "boundary-pw" {
				return nil, nil
			}
			return nil, fmt.Errorf("denied")
		},
		PublicKeyCallback: func(c ssh.ConnMetadata, pubKey ssh.PublicKey) (*ssh.Permissions, error) {
			return nil, nil
		},
	}
	config.AddHostKey(signer)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	host, port := splitAddr(listener.Addr().String())
	server := &sftpServer{
		listener: listener,
		config:   config,
		hostKey:  hostKey,
		addr:     listener.Addr().String(),
		host:     host,
		port:     port,
		done:     make(chan struct{}),
	}
	go server.serve()
	t.Cleanup(server.close)

	return server
}

func (s *sftpServer) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				continue
			}
		}
		go s.serveConn(conn)
	}
}

func (s *sftpServer) serveConn(netConn net.Conn) {
	defer netConn.Close()

	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, s.config)
	if err != nil {
		return
	}
	defer sshConn.Close()

	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "sftp only")
			continue
		}

		channel, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}
		go s.serveChannel(channel, requests)
	}
}

func (s *sftpServer) serveChannel(channel ssh.Channel, requests <-chan *ssh.Request) {
	defer channel.Close()

	for req := range requests {
		if req.Type != "subsystem" || string(req.Payload[4:]) != "sftp" {
			if req.WantReply {
				req.Reply(false, nil)
			}
			continue
		}
		if req.WantReply {
			req.Reply(true, nil)
		}
		go ssh.DiscardRequests(requests)

		server, err := sftp.NewServer(channel)
		if err != nil {
			return
		}
		_ = server.Serve()
		_ = server.Close()
		return
	}
}

func (s *sftpServer) close() {
	close(s.done)
	s.listener.Close()
}

// knownHosts writes a known_hosts file trusting key for the server.
func (s *sftpServer) knownHosts(t *testing.T, key ssh.PublicKey) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "known_hosts")
	line := knownhosts.Line([]string{s.addr}, key) + "\n"
	if err := os.WriteFile(path, []byte(line), 0o600); err != nil {
		t.Fatalf("write known_hosts: %v", err)
	}
	return path
}

func (s *sftpServer) passwordConfig(t *testing.T) *Config {
	config := DefaultConfig(s.host, "gis")
	config.Port = s.port
	config.AuthMethod = AuthMethodPassword
	config.Password = "boundary-pw"
	config.KnownHostsPath = s.knownHosts(t, s.hostKey)
	config.ConnectionTimeout = 5 * time.Second
	return config
}

func newClientKey() (ssh.PublicKey, ssh.Signer, error) {
	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}

	signer, err := ssh.NewSignerFromKey(privKey)
	if err != nil {
		return nil, nil, err
	}

	publicKey, err := ssh.NewPublicKey(pubKey)
	if err != nil {
		return nil, nil, err
	}

	return publicKey, signer, nil
}

// writeTestPrivateKey writes a fresh OpenSSH private key and returns its path.
func writeTestPrivateKey(t *testing.T) string {
	t.Helper()
	_, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	block, err := ssh.MarshalPrivateKey(privKey, "")
	if err != nil {
		t.Fatalf("failed to marshal key: %v", err)
	}
	path := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatalf("failed to write key: %v", err)
	}
	return path
}

func connectedClient(t *testing.T, config *Config) *SSHClient {
	t.Helper()
	client, err := NewSSHClient(config)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { client.Disconnect() })
	return client
}

func TestSSHClientConnect(t *testing.T) {
	server := startSFTPServer(t)
	client := connectedClient(t, server.passwordConfig(t))

	if !client.IsConnected() {
		t.Error("expected client to be connected")
	}

	// A second Connect reuses the connection.
	if err := client.Connect(context.Background()); err != nil {
		t.Errorf("second Connect() error = %v", err)
	}
}

func TestSSHClientKeyBasedAuth(t *testing.T) {
	server := startSFTPServer(t)

	config := DefaultConfig(server.host, "gis")
	config.Port = server.port
	config.PrivateKeyPath = writeTestPrivateKey(t)
	config.KnownHostsPath = server.knownHosts(t, server.hostKey)
	config.ConnectionTimeout = 5 * time.Second

	client := connectedClient(t, config)
	if !client.IsConnected() {
		t.Error("expected client to be connected")
	}
}

func TestSSHClientConnectErrors(t *testing.T) {
	server := startSFTPServer(t)
	otherKey, _, err := newClientKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	tests := []struct {
		name     string
		modify   func(*Config)
		wantAuth bool
	}{
		{
			name:     "wrong password",
			modify:   func(c *Config) { c.Password = "nope" },
			wantAuth: true,
		},
		{
			name:     "unknown host key",
			modify:   func(c *Config) { c.KnownHostsPath = server.knownHosts(t, otherKey) },
			wantAuth: true,
		},
		{
			name: "nothing listening",
			modify: func(c *Config) {
				l, err := net.Listen("tcp", "127.0.0.1:0")
				if err != nil {
					t.Fatalf("listen: %v", err)
				}
				_, c.Port = splitAddr(l.Addr().String())
				l.Close()
			},
			wantAuth: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := server.passwordConfig(t)
			tt.modify(config)

			client, err := NewSSHClient(config)
			if err != nil {
				t.Fatalf("failed to create client: %v", err)
			}
			err = client.Connect(context.Background())
			if err == nil {
				client.Disconnect()
				t.Fatal("Connect() succeeded")
			}

			var terr *TransportError
			if !errors.As(err, &terr) {
				t.Fatalf("error = %T, want *TransportError", err)
			}
			if terr.IsAuthError != tt.wantAuth {
				t.Errorf("IsAuthError = %v, want %v (%v)", terr.IsAuthError, tt.wantAuth, err)
			}
			if client.IsConnected() {
				t.Error("client reports connected after failure")
			}
		})
	}
}

func TestSSHClientConnectCancelled(t *testing.T) {
	server := startSFTPServer(t)
	client, err := NewSSHClient(server.passwordConfig(t))
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = client.Connect(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		t.Errorf("Connect() error = %v", err)
	}
	client.Disconnect()
}

func TestSSHClientDisconnect(t *testing.T) {
	server := startSFTPServer(t)
	client := connectedClient(t, server.passwordConfig(t))

	if err := client.Disconnect(); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("expected client to be disconnected")
	}
	if err := client.Disconnect(); err != nil {
		t.Errorf("second Disconnect() error = %v", err)
	}
}

func TestSSHClientDownloadFile(t *testing.T) {
	server := startSFTPServer(t)
	client := connectedClient(t, server.passwordConfig(t))

	remoteDir := t.TempDir()
	remote := filepath.Join(remoteDir, "pa_boundary.geojson")
	content := []byte(`{"type":"FeatureCollection","features":[]}`)
	if err := os.WriteFile(remote, content, 0o644); err != nil {
		t.Fatalf("write remote file: %v", err)
	}

	local := filepath.Join(t.TempDir(), "nested", "pa_boundary.geojson")
	result, err := client.DownloadFile(context.Background(), filepath.ToSlash(remote), local)
	if err != nil {
		t.Fatalf("DownloadFile() error = %v", err)
	}
	if result.BytesTransferred != int64(len(content)) {
		t.Errorf("BytesTransferred = %d, want %d", result.BytesTransferred, len(content))
	}
	got, err := os.ReadFile(local)
	if err != nil {
		t.Fatalf("read local file: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content = %q", got)
	}

	_, err = client.DownloadFile(context.Background(), filepath.ToSlash(filepath.Join(remoteDir, "missing.shp")), local)
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("missing file error = %v, want fs.ErrNotExist", err)
	}

	_, err = client.DownloadFile(context.Background(), filepath.ToSlash(remoteDir), local)
	if err == nil {
		t.Error("downloading a directory succeeded")
	}
}

func TestSSHClientDownloadNotConnected(t *testing.T) {
	config := DefaultConfig("example.com", "gis")
	config.AuthMethod = AuthMethodPassword
	config.Password = "secret"
	client, err := NewSSHClient(config)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}

	_, err = client.DownloadFile(context.Background(), "/data/a.shp", filepath.Join(t.TempDir(), "a.shp"))
	var terr *TransportError
	if !errors.As(err, &terr) || terr.Op != "sftp-init" {
		t.Errorf("error = %v, want sftp-init TransportError", err)
	}
}

func splitAddr(addr string) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}
