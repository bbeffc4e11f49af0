package ssh

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// AuthMethod selects how the client authenticates.
type AuthMethod string

const (
	AuthMethodPassword AuthMethod = "password"
	AuthMethodKey      AuthMethod = "key"
)

// defaultKeys are tried, in order, when no key file is configured.
var defaultKeys = []string{"id_ed25519", "id_ecdsa", "id_rsa"}

// Config holds the settings of one SFTP connection.
type Config struct {
	Host string
	Port int
	User string

	AuthMethod AuthMethod
	Password   string

	// PrivateKeyPath is the key for AuthMethodKey. Empty means every
	// default key found in ~/.ssh.
	PrivateKeyPath       string
	PrivateKeyPassphrase string

	KnownHostsPath string

	// StrictHostKeyChecking rejects hosts missing from KnownHostsPath.
	// When false any host key is accepted.
	StrictHostKeyChecking bool

	ConnectionTimeout time.Duration
}

// DefaultConfig returns key authentication on port 22 with strict host key
// checking against ~/.ssh/known_hosts.
func DefaultConfig(host string, user string) *Config {
	return &Config{
		Host:                  host,
		Port:                  22,
		User:                  user,
		AuthMethod:            AuthMethodKey,
		KnownHostsPath:        filepath.Join(sshDir(), "known_hosts"),
		StrictHostKeyChecking: true,
		ConnectionTimeout:     30 * time.Second,
	}
}

func sshDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ssh"
	}
	return filepath.Join(home, ".ssh")
}

// Validate reports every problem with the configuration.
func (c *Config) Validate() error {
	var errs []error
	if c.Host == "" {
		errs = append(errs, errors.New("host is required"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port: %d", c.Port))
	}
	if c.User == "" {
		errs = append(errs, errors.New("user is required"))
	}

	switch c.AuthMethod {
	case AuthMethodPassword:
		if c.Password == "" {
			errs = append(errs, errors.New("password is required for password authentication"))
		}
	case AuthMethodKey:
		if _, err := c.keyPaths(); err != nil {
			errs = append(errs, err)
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported auth method: %s", c.AuthMethod))
	}

	if c.StrictHostKeyChecking && c.KnownHostsPath == "" {
		errs = append(errs, errors.New("known_hosts path is required for strict host key checking"))
	}
	if c.ConnectionTimeout <= 0 {
		errs = append(errs, errors.New("connection timeout must be positive"))
	}
	return errors.Join(errs...)
}

// keyPaths returns the configured key, or the default keys that exist.
func (c *Config) keyPaths() ([]string, error) {
	if c.PrivateKeyPath != "" {
		if _, err := os.Stat(c.PrivateKeyPath); err != nil {
			return nil, fmt.Errorf("private key file not found: %s", c.PrivateKeyPath)
		}
		return []string{c.PrivateKeyPath}, nil
	}

	dir := sshDir()
	var paths []string
	for _, name := range defaultKeys {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			paths = append(paths, path)
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no private key configured and none found in %s", dir)
	}
	return paths, nil
}

// signers parses the keys from keyPaths. A default key that needs a
// passphrase nobody supplied is skipped; an explicit one is an error.
func (c *Config) signers() ([]ssh.Signer, error) {
	paths, err := c.keyPaths()
	if err != nil {
		return nil, err
	}

	var signers []ssh.Signer
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}

		var signer ssh.Signer
		if c.PrivateKeyPassphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(data, []byte(c.PrivateKeyPassphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(data)
		}

		var missing *ssh.PassphraseMissingError
		switch {
		case err == nil:
			signers = append(signers, signer)
		case errors.As(err, &missing) && c.PrivateKeyPath == "":
			continue
		default:
			return nil, fmt.Errorf("failed to parse private key %s: %w", path, err)
		}
	}
	if len(signers) == 0 {
		return nil, errors.New("every default key needs a passphrase")
	}
	return signers, nil
}

// BuildSSHClientConfig creates the ssh.ClientConfig for c.
func (c *Config) BuildSSHClientConfig() (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	switch c.AuthMethod {
	case AuthMethodPassword:
		// Many servers only offer keyboard-interactive for the password prompt.
		auth = append(auth,
			ssh.Password(c.Password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = c.Password
				}
				return answers, nil
			}),
		)
	case AuthMethodKey:
		signers, err := c.signers()
		if err != nil {
			return nil, err
		}
		auth = append(auth, ssh.PublicKeys(signers...))
	default:
		return nil, fmt.Errorf("unsupported auth method: %s", c.AuthMethod)
	}

	hostKey := ssh.InsecureIgnoreHostKey()
	if c.StrictHostKeyChecking {
		cb, err := knownhosts.New(c.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
		hostKey = cb
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         c.ConnectionTimeout,
	}, nil
}

// Address returns host:port, bracketing IPv6 literals.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
