// Package ftp wraps github.com/jlaffaye/ftp with the operations the ftp
// target needs: dated folder creation, tree upload and the retention.Tree
// primitives.
package ftp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rs/zerolog/log"
)

// Config holds FTP connection settings.
type Config struct {
	Host        string
	Port        int
	User        string
	Password    string
	Timeout     time.Duration
	DisableEPSV bool
}

// Address returns host:port, defaulting to port 21.
func (c Config) Address() string {
	port := c.Port
	if port == 0 {
		port = 21
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// Client is a logged-in FTP control connection. Remote paths passed to its
// methods should be absolute.
type Client struct {
	conn   *ftp.ServerConn
	config Config
}

// Dial connects and logs in. An empty user logs in anonymously.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	opts := []ftp.DialOption{ftp.DialWithContext(ctx)}
	if cfg.Timeout > 0 {
		opts = append(opts, ftp.DialWithTimeout(cfg.Timeout))
	}
	if cfg.DisableEPSV {
		opts = append(opts, ftp.DialWithDisabledEPSV(true))
	}

	log.Debug().Str("address", cfg.Address()).Msg("connecting to FTP server")
	conn, err := ftp.Dial(cfg.Address(), opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.Address(), err)
	}

	user := cfg.User
	if user == "" {
		user = "anonymous"
	}
	if err := conn.Login(user, cfg.Password); err != nil {
		_ = conn.Quit()
		return nil, fmt.Errorf("login as %s: %w", user, err)
	}

	log.Info().Str("address", cfg.Address()).Str("user", user).Msg("FTP connection established")
	return &Client{conn: conn, config: cfg}, nil
}

// Close ends the session.
func (c *Client) Close() error {
	return c.conn.Quit()
}

// CurrentDir returns the login directory, or the directory last changed to.
func (c *Client) CurrentDir() (string, error) {
	return c.conn.CurrentDir()
}

// Resolve makes p absolute relative to the current directory.
func (c *Client) Resolve(p string) (string, error) {
	if path.IsAbs(p) {
		return path.Clean(p), nil
	}
	cwd, err := c.conn.CurrentDir()
	if err != nil {
		return "", fmt.Errorf("current directory: %w", err)
	}
	return path.Join(cwd, p), nil
}

// IsPermission reports whether err is a 550 reply, which servers send when
// DELE is used on a directory.
func IsPermission(err error) bool {
	var tp *textproto.Error
	return errors.As(err, &tp) && tp.Code == ftp.StatusFileUnavailable
}

// mkdirIfMissing creates dir unless it already exists.
func (c *Client) mkdirIfMissing(dir string) error {
	if err := c.conn.MakeDir(dir); err != nil {
		if c.conn.ChangeDir(dir) == nil {
			return nil
		}
		return fmt.Errorf("create %s: %w", dir, err)
	}
	log.Debug().Str("dir", dir).Msg("created remote directory")
	return nil
}

// MakeDirAll creates dir and every missing parent.
func (c *Client) MakeDirAll(dir string) error {
	dir = path.Clean(dir)
	if dir == "/" || dir == "." {
		return nil
	}

	current := ""
	if path.IsAbs(dir) {
		current = "/"
	}
	for _, part := range strings.Split(strings.Trim(dir, "/"), "/") {
		current = path.Join(current, part)
		if err := c.mkdirIfMissing(current); err != nil {
			return err
		}
	}
	return nil
}

// List returns the base names of the entries of dir.
func (c *Client) List(dir string) ([]string, error) {
	entries, err := c.conn.NameList(dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, path.Base(e))
	}
	return names, nil
}

// Delete removes a single remote file.
func (c *Client) Delete(p string) error {
	return c.conn.Delete(p)
}

// RemoveDir removes an empty remote directory.
func (c *Client) RemoveDir(dir string) error {
	return c.conn.RemoveDir(dir)
}

// Upload stores one local file at remote.
func (c *Client) Upload(ctx context.Context, local, remote string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := os.Open(local)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := c.conn.Stor(remote, f); err != nil {
		return fmt.Errorf("store %s: %w", remote, err)
	}
	return nil
}

// UploadTree mirrors localDir below remoteDir. In dry-run mode directories
// are still created so the run is a faithful simulation, but no file is
// transferred.
func (c *Client) UploadTree(ctx context.Context, localDir, remoteDir string, dryRun bool) error {
	if err := c.MakeDirAll(remoteDir); err != nil {
		return err
	}

	return filepath.Walk(localDir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		target := path.Join(remoteDir, filepath.ToSlash(rel))

		if info.IsDir() {
			return c.mkdirIfMissing(target)
		}
		if dryRun {
			log.Info().Str("file", rel).Str("remote", target).Msg("dry run: would upload")
			return nil
		}
		log.Info().Str("file", rel).Str("remote", target).Msg("uploading")
		return c.Upload(ctx, p, target)
	})
}
