package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrIsDirectory is returned by Delete for directories. It plays the role of
// FTP's permission reply so that retention.RemoveTree falls back to a
// recursive removal.
var ErrIsDirectory = errors.New("is a directory")

// IsPermission reports whether err means a plain delete was refused.
func IsPermission(err error) bool {
	return errors.Is(err, ErrIsDirectory) || errors.Is(err, os.ErrPermission)
}

// DownloadFile downloads a single file from the remote host via SFTP.
func (c *SSHClient) DownloadFile(ctx context.Context, remotePath string, localPath string) error {
	startTime := time.Now()

	log.Debug().
		Str("remote", remotePath).
		Str("local", localPath).
		Msg("downloading file")

	sftpClient, err := c.getSFTP()
	if err != nil {
		return err
	}

	remoteFile, err := sftpClient.Open(remotePath)
	if err != nil {
		return newTransportError("download", fmt.Errorf("failed to open remote file: %w", err), true)
	}
	defer remoteFile.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return newTransportError("download", fmt.Errorf("failed to create local directory: %w", err), false)
	}

	localFile, err := os.Create(localPath)
	if err != nil {
		return newTransportError("download", fmt.Errorf("failed to create local file: %w", err), false)
	}
	defer localFile.Close()

	bytesWritten, err := copyWithContext(ctx, localFile, remoteFile)
	if err != nil {
		return newTransportError("download", fmt.Errorf("failed to copy file: %w", err), true)
	}

	log.Info().
		Str("remote", remotePath).
		Str("local", localPath).
		Int64("bytes", bytesWritten).
		Dur("duration", time.Since(startTime)).
		Msg("file downloaded")

	return nil
}

// UploadFile uploads a single file to the remote host via SFTP, creating
// missing parent directories.
func (c *SSHClient) UploadFile(ctx context.Context, localPath string, remotePath string) error {
	sftpClient, err := c.getSFTP()
	if err != nil {
		return err
	}

	localFile, err := os.Open(localPath)
	if err != nil {
		return newTransportError("upload", fmt.Errorf("failed to open local file: %w", err), false)
	}
	defer localFile.Close()

	if err := sftpClient.MkdirAll(path.Dir(remotePath)); err != nil {
		return newTransportError("upload", fmt.Errorf("failed to create remote directory: %w", err), false)
	}

	remoteFile, err := sftpClient.Create(remotePath)
	if err != nil {
		return newTransportError("upload", fmt.Errorf("failed to create remote file: %w", err), true)
	}
	defer remoteFile.Close()

	bytesWritten, err := copyWithContext(ctx, remoteFile, localFile)
	if err != nil {
		return newTransportError("upload", fmt.Errorf("failed to copy file: %w", err), true)
	}

	log.Debug().
		Str("local", localPath).
		Str("remote", remotePath).
		Int64("bytes", bytesWritten).
		Msg("file uploaded")
	return nil
}

// UploadDirectory recursively uploads a directory to the remote host.
func (c *SSHClient) UploadDirectory(ctx context.Context, localPath string, remotePath string) error {
	log.Debug().
		Str("local", localPath).
		Str("remote", remotePath).
		Msg("uploading directory")

	sftpClient, err := c.getSFTP()
	if err != nil {
		return err
	}

	return filepath.Walk(localPath, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		relPath, err := filepath.Rel(localPath, p)
		if err != nil {
			return err
		}
		targetPath := path.Join(remotePath, filepath.ToSlash(relPath))

		if info.IsDir() {
			if err := sftpClient.MkdirAll(targetPath); err != nil {
				return newTransportError("upload-dir", fmt.Errorf("failed to create directory %s: %w", targetPath, err), false)
			}
			return nil
		}
		log.Info().Str("file", relPath).Str("remote", targetPath).Msg("uploading")
		return c.UploadFile(ctx, p, targetPath)
	})
}

// MkdirAll creates a remote directory and all missing parents.
func (c *SSHClient) MkdirAll(remotePath string) error {
	sftpClient, err := c.getSFTP()
	if err != nil {
		return err
	}
	if err := sftpClient.MkdirAll(remotePath); err != nil {
		return newTransportError("mkdir", err, false)
	}
	return nil
}

// List returns the names of the direct children of dir.
func (c *SSHClient) List(dir string) ([]string, error) {
	sftpClient, err := c.getSFTP()
	if err != nil {
		return nil, err
	}
	infos, err := sftpClient.ReadDir(dir)
	if err != nil {
		return nil, newTransportError("list", err, false)
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name())
	}
	return names, nil
}

// Delete removes a single remote file.
func (c *SSHClient) Delete(remotePath string) error {
	sftpClient, err := c.getSFTP()
	if err != nil {
		return err
	}
	info, err := sftpClient.Lstat(remotePath)
	if err != nil {
		return newTransportError("delete", err, false)
	}
	if info.IsDir() {
		return newTransportError("delete", fmt.Errorf("%s: %w", remotePath, ErrIsDirectory), false)
	}
	if err := sftpClient.Remove(remotePath); err != nil {
		return newTransportError("delete", err, false)
	}
	return nil
}

// RemoveDir removes an empty remote directory.
func (c *SSHClient) RemoveDir(dir string) error {
	sftpClient, err := c.getSFTP()
	if err != nil {
		return err
	}
	if err := sftpClient.RemoveDirectory(dir); err != nil {
		return newTransportError("rmdir", err, false)
	}
	return nil
}

// copyWithContext copies data from src to dst while respecting context cancellation.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64

	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		nr, err := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[0:nr])
			if nw > 0 {
				written += int64(nw)
			}
			if werr != nil {
				return written, werr
			}
			if nr != nw {
				return written, io.ErrShortWrite
			}
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return written, err
		}
	}

	return written, nil
}
