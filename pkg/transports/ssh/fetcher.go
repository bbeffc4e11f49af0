package ssh

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/trendfire/trendfire/pkg/telemetry"
)

// Shapefile sidecars fetched next to a .shp. Only .shx is mandatory.
var (
	requiredSidecars = []string{".shx"}
	optionalSidecars = []string{".dbf", ".prj", ".cpg"}
)

// FetcherOptions supplies what an sftp:// URL cannot carry.
type FetcherOptions struct {
	// Port is used when the URL names none. Zero means 22.
	Port int

	// Password is used when the URL has no password. When both are
	// empty the private key is used.
	Password string

	PrivateKeyPath       string
	PrivateKeyPassphrase string

	// KnownHostsPath defaults to ~/.ssh/known_hosts.
	KnownHostsPath string

	// InsecureIgnoreHostKey disables host key verification.
	InsecureIgnoreHostKey bool

	// Timeout bounds connection setup. Zero means 30s.
	Timeout time.Duration
}

// Fetcher downloads sftp:// boundary files together with their sidecars.
type Fetcher struct {
	opts FetcherOptions

	// newTransport is replaced in tests.
	newTransport func(*Config) (Transport, error)
}

// NewFetcher creates a Fetcher.
func NewFetcher(opts FetcherOptions) *Fetcher {
	return &Fetcher{
		opts: opts,
		newTransport: func(cfg *Config) (Transport, error) {
			return NewSSHClient(cfg)
		},
	}
}

// Fetch copies the file named by source into dir and returns its local
// path. For shapefiles the .shx sidecar must exist remotely; .dbf, .prj and
// .cpg are copied when present.
func (f *Fetcher) Fetch(ctx context.Context, source *url.URL, dir string) (string, error) {
	cfg, err := f.config(source)
	if err != nil {
		return "", err
	}

	remote := source.Path
	if remote == "" || strings.HasSuffix(remote, "/") {
		return "", fmt.Errorf("sftp url %s does not name a file", source.Redacted())
	}
	local := filepath.Join(dir, path.Base(remote))

	logger := telemetry.FromContext(ctx).NewComponentLogger("sftp").WithFields(map[string]interface{}{
		"host":   cfg.Host,
		"remote": remote,
	})

	err = telemetry.RecordRemoteCall(ctx, "sftp", "download", func() error {
		transport, err := f.newTransport(cfg)
		if err != nil {
			return err
		}
		if err := transport.Connect(ctx); err != nil {
			return err
		}
		defer transport.Disconnect()

		if _, err := transport.DownloadFile(ctx, remote, local); err != nil {
			return err
		}

		ext := path.Ext(remote)
		if !strings.EqualFold(ext, ".shp") {
			return nil
		}
		base := strings.TrimSuffix(remote, ext)
		upper := ext == strings.ToUpper(ext)

		for _, side := range requiredSidecars {
			name := base + sidecarExt(side, upper)
			if _, err := transport.DownloadFile(ctx, name, filepath.Join(dir, path.Base(name))); err != nil {
				return fmt.Errorf("sidecar %s: %w", path.Base(name), err)
			}
		}
		for _, side := range optionalSidecars {
			name := base + sidecarExt(side, upper)
			_, err := transport.DownloadFile(ctx, name, filepath.Join(dir, path.Base(name)))
			if err == nil {
				continue
			}
			if !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("sidecar %s: %w", path.Base(name), err)
			}
			logger.WithField("sidecar", path.Base(name)).Debug("Optional sidecar not present")
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	logger.WithField("local", local).Info("Fetched remote boundary")
	return local, nil
}

// config builds the connection settings for source.
func (f *Fetcher) config(source *url.URL) (*Config, error) {
	if source.Scheme != "sftp" {
		return nil, fmt.Errorf("unsupported scheme %q", source.Scheme)
	}
	host := source.Hostname()
	if host == "" {
		return nil, fmt.Errorf("sftp url %s has no host", source.Redacted())
	}

	user := os.Getenv("USER")
	password := f.opts.Password
	if source.User != nil {
		if name := source.User.Username(); name != "" {
			user = name
		}
		if pw, ok := source.User.Password(); ok && pw != "" {
			password = pw
		}
	}

	cfg := DefaultConfig(host, user)
	switch {
	case source.Port() != "":
		port, err := strconv.Atoi(source.Port())
		if err != nil {
			return nil, fmt.Errorf("sftp url %s: invalid port", source.Redacted())
		}
		cfg.Port = port
	case f.opts.Port != 0:
		cfg.Port = f.opts.Port
	}

	if password != "" {
		cfg.AuthMethod = AuthMethodPassword
		cfg.Password = password
	} else {
		cfg.AuthMethod = AuthMethodKey
		cfg.PrivateKeyPath = f.opts.PrivateKeyPath
		cfg.PrivateKeyPassphrase = f.opts.PrivateKeyPassphrase
	}
	if f.opts.KnownHostsPath != "" {
		cfg.KnownHostsPath = f.opts.KnownHostsPath
	}
	cfg.StrictHostKeyChecking = !f.opts.InsecureIgnoreHostKey
	if f.opts.Timeout > 0 {
		cfg.ConnectionTimeout = f.opts.Timeout
	}
	return cfg, nil
}

func sidecarExt(ext string, upper bool) string {
	if upper {
		return strings.ToUpper(ext)
	}
	return ext
}
