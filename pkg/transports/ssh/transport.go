// Package ssh provides the SSH and SFTP transport used by the remote_tar
// generator and the sftp target.
package ssh

import (
	"context"
	"time"
)

// Transport defines the remote operations pickup plugins need from an SSH
// host: command execution, file transfer and the directory primitives used
// by retention pruning.
type Transport interface {
	// Connect establishes an SSH connection to the remote host.
	// Returns an error if connection fails or authentication is rejected.
	Connect(ctx context.Context) error

	// Disconnect closes the SFTP session and the SSH connection.
	Disconnect() error

	// ExecuteCommand runs a command on the remote host.
	// Returns the trimmed stdout and stderr. A non-zero exit status is an error.
	ExecuteCommand(ctx context.Context, cmd string) (stdout string, stderr string, err error)

	// DownloadFile downloads a single file from the remote host via SFTP.
	DownloadFile(ctx context.Context, remotePath string, localPath string) error

	// UploadDirectory recursively uploads a directory to the remote host.
	UploadDirectory(ctx context.Context, localPath string, remotePath string) error

	// MkdirAll creates a remote directory and all missing parents.
	MkdirAll(remotePath string) error

	// List returns the names of the direct children of a remote directory.
	List(dir string) ([]string, error)

	// Delete removes a single remote file. Directories are refused with
	// ErrIsDirectory.
	Delete(remotePath string) error

	// RemoveDir removes an empty remote directory.
	RemoveDir(dir string) error
}

// ConnectionInfo contains details about an active SSH connection.
type ConnectionInfo struct {
	Host        string
	Port        int
	User        string
	ConnectedAt time.Time
}

// TransportError represents an error from the transport layer.
type TransportError struct {
	// Op is the operation that failed (e.g., "connect", "exec", "upload")
	Op string

	// Err is the underlying error
	Err error

	// ExitCode is the remote exit status for failed commands, -1 otherwise
	ExitCode int

	// IsTemporary indicates if the error is temporary
	IsTemporary bool

	// IsAuthError indicates if the error is related to authentication
	IsAuthError bool
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Temporary() bool {
	return e.IsTemporary
}

func newTransportError(op string, err error, temporary bool) *TransportError {
	return &TransportError{Op: op, Err: err, ExitCode: -1, IsTemporary: temporary}
}
