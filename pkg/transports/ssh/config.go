package ssh

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Config holds SSH connection configuration.
type Config struct {
	// Host is the remote hostname or IP address
	Host string

	// Port is the SSH port (default: 22)
	Port int

	// User is the SSH username
	User string

	// Password for password and keyboard-interactive authentication
	Password string

	// KeyFiles are private key files offered for public key authentication
	KeyFiles []string

	// KeyPassphrase decrypts encrypted private keys
	KeyPassphrase string

	// KnownHostsPath is the path to the known_hosts file
	KnownHostsPath string

	// StrictHostKeyChecking rejects hosts missing from known_hosts.
	// Hosts whose key changed are always rejected.
	StrictHostKeyChecking bool

	// ConnectionTimeout is the timeout for establishing a connection
	ConnectionTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(host string, user string) *Config {
	return &Config{
		Host:                  host,
		Port:                  22,
		User:                  user,
		KnownHostsPath:        filepath.Join(homeDir(), ".ssh", "known_hosts"),
		StrictHostKeyChecking: false,
		ConnectionTimeout:     30 * time.Second,
	}
}

func homeDir() string {
	if h, err := os.UserHomeDir(); err == nil {
		return h
	}
	return os.Getenv("HOME")
}

// ExpandHome replaces a leading "~/" with the current user's home directory.
func ExpandHome(p string) string {
	if p == "~" {
		return homeDir()
	}
	if strings.HasPrefix(p, "~/") {
		return filepath.Join(homeDir(), p[2:])
	}
	return p
}

// Validate checks if the configuration is valid. When neither a password nor
// key files are configured the default key locations are tried.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}

	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	if c.User == "" {
		return fmt.Errorf("user is required")
	}

	if c.Password == "" && len(c.KeyFiles) == 0 {
		home := homeDir()
		defaultKeys := []string{
			filepath.Join(home, ".ssh", "id_ed25519"),
			filepath.Join(home, ".ssh", "id_rsa"),
			filepath.Join(home, ".ssh", "id_ecdsa"),
		}
		for _, keyPath := range defaultKeys {
			if _, err := os.Stat(keyPath); err == nil {
				c.KeyFiles = append(c.KeyFiles, keyPath)
			}
		}
		if len(c.KeyFiles) == 0 {
			return fmt.Errorf("no password or key file given and no default key found")
		}
	}

	for i, keyPath := range c.KeyFiles {
		c.KeyFiles[i] = ExpandHome(keyPath)
		if _, err := os.Stat(c.KeyFiles[i]); os.IsNotExist(err) {
			return fmt.Errorf("private key file not found: %s", c.KeyFiles[i])
		}
	}

	if c.ConnectionTimeout <= 0 {
		return fmt.Errorf("connection timeout must be positive")
	}

	return nil
}

// BuildSSHClientConfig creates an ssh.ClientConfig from the Config.
func (c *Config) BuildSSHClientConfig() (*ssh.ClientConfig, error) {
	var authMethods []ssh.AuthMethod

	if len(c.KeyFiles) > 0 {
		signers := make([]ssh.Signer, 0, len(c.KeyFiles))
		for _, keyPath := range c.KeyFiles {
			signer, err := c.loadSigner(keyPath)
			if err != nil {
				return nil, err
			}
			signers = append(signers, signer)
		}
		authMethods = append(authMethods, ssh.PublicKeys(signers...))
	}

	if c.Password != "" {
		authMethods = append(authMethods, ssh.Password(c.Password))

		// Many servers only offer keyboard-interactive for the "Password:" prompt
		authMethods = append(authMethods, ssh.KeyboardInteractive(
			func(user, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = c.Password
				}
				return answers, nil
			},
		))
	}

	hostKeyCallback, err := c.hostKeyCallback()
	if err != nil {
		return nil, err
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.ConnectionTimeout,
	}, nil
}

func (c *Config) loadSigner(keyPath string) (ssh.Signer, error) {
	keyBytes, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}

	var signer ssh.Signer
	if c.KeyPassphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(keyBytes, []byte(c.KeyPassphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(keyBytes)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key %s: %w", keyPath, err)
	}
	return signer, nil
}

// hostKeyCallback verifies hosts against known_hosts. Unknown hosts are
// accepted with a warning unless StrictHostKeyChecking is set.
func (c *Config) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if c.KnownHostsPath == "" {
		if c.StrictHostKeyChecking {
			return nil, fmt.Errorf("strict host key checking requires a known_hosts file")
		}
		return warnUnknownHost, nil
	}

	known, err := knownhosts.New(c.KnownHostsPath)
	if err != nil {
		if os.IsNotExist(err) && !c.StrictHostKeyChecking {
			log.Warn().Str("known_hosts", c.KnownHostsPath).Msg("known_hosts file not found, host keys are not verified")
			return warnUnknownHost, nil
		}
		return nil, fmt.Errorf("failed to load known_hosts: %w", err)
	}

	strict := c.StrictHostKeyChecking
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := known(hostname, remote, key)
		var keyErr *knownhosts.KeyError
		if errors.As(err, &keyErr) && len(keyErr.Want) == 0 && !strict {
			return warnUnknownHost(hostname, remote, key)
		}
		return err
	}, nil
}

func warnUnknownHost(hostname string, _ net.Addr, key ssh.PublicKey) error {
	log.Warn().
		Str("host", hostname).
		Str("fingerprint", ssh.FingerprintSHA256(key)).
		Msg("unknown host key accepted")
	return nil
}

// Address returns the formatted SSH address (host:port).
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
