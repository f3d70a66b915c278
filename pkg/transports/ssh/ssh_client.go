package ssh

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

// SSHClient implements the Transport interface over a single connection.
// The SFTP session is opened on first use and shared afterwards.
type SSHClient struct {
	config *Config

	connMu      sync.RWMutex
	client      *ssh.Client
	sftp        *sftp.Client
	connectedAt time.Time
}

var _ Transport = (*SSHClient)(nil)

// NewSSHClient creates a new SSH transport client.
func NewSSHClient(config *Config) (*SSHClient, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &SSHClient{
		config: config,
	}, nil
}

// Connect establishes an SSH connection to the remote host.
func (c *SSHClient) Connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.client != nil {
		return nil
	}

	clientConfig, err := c.config.BuildSSHClientConfig()
	if err != nil {
		return &TransportError{
			Op:          "connect",
			Err:         err,
			ExitCode:    -1,
			IsAuthError: true,
		}
	}

	address := c.config.Address()
	log.Debug().Str("address", address).Msg("establishing SSH connection")

	dialer := net.Dialer{Timeout: c.config.ConnectionTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return newTransportError("connect", err, true)
	}

	ncc, chans, reqs, err := ssh.NewClientConn(conn, address, clientConfig)
	if err != nil {
		_ = conn.Close()
		return &TransportError{
			Op:          "connect",
			Err:         err,
			ExitCode:    -1,
			IsAuthError: strings.Contains(err.Error(), "unable to authenticate"),
		}
	}

	c.client = ssh.NewClient(ncc, chans, reqs)
	c.connectedAt = time.Now()

	log.Info().Str("address", address).Str("user", c.config.User).Msg("SSH connection established")
	return nil
}

// Disconnect closes the SFTP session and the SSH connection.
func (c *SSHClient) Disconnect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.client == nil {
		return nil
	}

	log.Debug().Str("host", c.config.Host).Msg("closing SSH connection")

	if c.sftp != nil {
		if err := c.sftp.Close(); err != nil {
			log.Debug().Err(err).Msg("failed to close SFTP session")
		}
		c.sftp = nil
	}

	err := c.client.Close()
	c.client = nil

	if err != nil {
		return newTransportError("disconnect", err, false)
	}
	return nil
}

// IsConnected returns true if the transport has an active connection.
func (c *SSHClient) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.client != nil
}

// GetConnectionInfo returns information about the current connection.
func (c *SSHClient) GetConnectionInfo() ConnectionInfo {
	c.connMu.RLock()
	defer c.connMu.RUnlock()

	return ConnectionInfo{
		Host:        c.config.Host,
		Port:        c.config.Port,
		User:        c.config.User,
		ConnectedAt: c.connectedAt,
	}
}

// getClient returns the underlying SSH client.
func (c *SSHClient) getClient() (*ssh.Client, error) {
	c.connMu.RLock()
	defer c.connMu.RUnlock()

	if c.client == nil {
		return nil, newTransportError("get-client", fmt.Errorf("not connected"), false)
	}
	return c.client, nil
}

// getSFTP returns the shared SFTP session, opening it if needed.
func (c *SSHClient) getSFTP() (*sftp.Client, error) {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.client == nil {
		return nil, newTransportError("sftp-init", fmt.Errorf("not connected"), false)
	}
	if c.sftp != nil {
		return c.sftp, nil
	}

	sftpClient, err := sftp.NewClient(c.client)
	if err != nil {
		return nil, newTransportError("sftp-init", fmt.Errorf("failed to create SFTP client: %w", err), true)
	}
	c.sftp = sftpClient
	return sftpClient, nil
}
