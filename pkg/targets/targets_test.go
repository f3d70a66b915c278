package targets

import (
	"context"
	"fmt"
	"io"
	"net/textproto"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pickup-backup/pickup/pkg/engine"
	"github.com/pickup-backup/pickup/pkg/retention"
	"github.com/pickup-backup/pickup/pkg/transports/ftp"
	"github.com/pickup-backup/pickup/pkg/transports/ssh"
)

var runTime = time.Date(2024, 3, 15, 10, 0, 0, 0, time.Local)

type pruneCounts struct {
	profile         string
	deleted, failed int
}

type recordingObserver struct {
	calls []pruneCounts
}

func (r *recordingObserver) RecordPruned(profile string, deleted, failed int) {
	r.calls = append(r.calls, pruneCounts{profile, deleted, failed})
}

func testContext(obs retention.Observer) context.Context {
	ctx := zerolog.New(io.Discard).WithContext(context.Background())
	ctx = engine.WithClock(ctx, func() time.Time { return runTime })
	if obs != nil {
		ctx = retention.WithObserver(ctx, obs)
	}
	return ctx
}

func profile(name, id string, cfg map[string]any) engine.ProfileConfig {
	return engine.ProfileConfig{Name: name, Profile: id, Config: cfg}
}

// stagingTree creates a staging root with one generator folder.
func stagingTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "mysql", "db"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "mysql", "db", "shop.sql.gz"), []byte("dump"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "top.txt"), []byte("top"), 0o600))
	return root
}

func mkdirs(t *testing.T, base string, names ...string) {
	t.Helper()
	for _, n := range names {
		require.NoError(t, os.MkdirAll(filepath.Join(base, n, "sub"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(base, n, "sub", "file"), []byte("x"), 0o600))
	}
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func TestTargetsDeclareAPIVersion(t *testing.T) {
	for _, p := range []engine.Plugin{NewDailyFolder(), NewFTP(), NewSFTP()} {
		v, ok := p.(engine.Versioned)
		require.True(t, ok)
		assert.Equal(t, engine.Compatible, v.APIVersion().CompareTo(engine.ExpectedAPIVersion))
	}
}

func TestDailyFolder(t *testing.T) {
	t.Run("folder is dated", func(t *testing.T) {
		base := t.TempDir()
		d := NewDailyFolder().(*DailyFolder)
		require.NoError(t, d.Init(testContext(nil), profile("local", "dailyfolder", map[string]any{"path": base})))
		folder, err := d.Folder()
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(base, "2024-03-15"), folder)
	})

	t.Run("folder before init", func(t *testing.T) {
		_, err := NewDailyFolder().(*DailyFolder).Folder()
		assert.Error(t, err)
	})

	t.Run("copies staging area", func(t *testing.T) {
		base := filepath.Join(t.TempDir(), "backups")
		d := NewDailyFolder()
		require.NoError(t, d.Init(testContext(nil), profile("local", "dailyfolder", map[string]any{"path": base})))
		require.NoError(t, d.Run(testContext(nil), stagingTree(t)))

		data, err := os.ReadFile(filepath.Join(base, "2024-03-15", "mysql", "db", "shop.sql.gz"))
		require.NoError(t, err)
		assert.Equal(t, "dump", string(data))
		assert.FileExists(t, filepath.Join(base, "2024-03-15", "top.txt"))
	})

	t.Run("prunes by mtime", func(t *testing.T) {
		base := t.TempDir()
		mkdirs(t, base, "old", "boundary", "recent")
		threshold := runTime.Add(-7 * 24 * time.Hour)
		require.NoError(t, os.Chtimes(filepath.Join(base, "old"), threshold.Add(-time.Hour), threshold.Add(-time.Hour)))
		require.NoError(t, os.Chtimes(filepath.Join(base, "boundary"), threshold, threshold))
		require.NoError(t, os.Chtimes(filepath.Join(base, "recent"), runTime, runTime))

		obs := &recordingObserver{}
		d := NewDailyFolder()
		require.NoError(t, d.Init(testContext(obs), profile("local", "dailyfolder", map[string]any{
			"path":      base,
			"retention": map[string]any{"days": 7},
		})))
		require.NoError(t, d.Run(testContext(obs), stagingTree(t)))

		assert.Equal(t, []string{"2024-03-15", "boundary", "recent"}, listDir(t, base))
		assert.Equal(t, []pruneCounts{{"local", 1, 0}}, obs.calls)
	})

	t.Run("empty retention keeps everything", func(t *testing.T) {
		base := t.TempDir()
		mkdirs(t, base, "2024-03-14")
		old := runTime.Add(-time.Hour)
		require.NoError(t, os.Chtimes(filepath.Join(base, "2024-03-14"), old, old))

		obs := &recordingObserver{}
		d := NewDailyFolder()
		require.NoError(t, d.Init(testContext(obs), profile("local", "dailyfolder", map[string]any{
			"path":      base,
			"retention": map[string]any{},
		})))
		require.NoError(t, d.Run(testContext(obs), stagingTree(t)))

		assert.Equal(t, []string{"2024-03-14", "2024-03-15"}, listDir(t, base))
		assert.Empty(t, obs.calls)
	})

	t.Run("first target is staging", func(t *testing.T) {
		base := t.TempDir()
		d := NewDailyFolder().(*DailyFolder)
		require.NoError(t, d.Init(testContext(nil), profile("local", "dailyfolder", map[string]any{
			"path":      base,
			"retention": map[string]any{"seconds": 0},
		})))
		folder, err := d.Folder()
		require.NoError(t, err)
		require.NoError(t, os.MkdirAll(folder, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(folder, "generated.txt"), []byte("x"), 0o600))
		old := runTime.Add(-time.Hour)
		require.NoError(t, os.Chtimes(folder, old, old))

		require.NoError(t, d.Run(testContext(nil), folder))
		assert.FileExists(t, filepath.Join(folder, "generated.txt"))
	})

	t.Run("invalid retention", func(t *testing.T) {
		err := NewDailyFolder().Init(testContext(nil), profile("local", "dailyfolder", map[string]any{
			"path":      t.TempDir(),
			"retention": map[string]any{"fortnights": 1},
		}))
		assert.Error(t, err)
	})
}

// dirStore is a remoteStore over a local directory. Absolute remote paths
// are rooted in base.
type dirStore struct {
	base     string
	cwd      string
	uploads  []string
	dirPerms func(error) error
	closed   bool
}

func (s *dirStore) local(p string) string {
	if !filepath.IsAbs(p) {
		p = filepath.Join(s.cwd, p)
	}
	return filepath.Join(s.base, p)
}

func (s *dirStore) Resolve(p string) (string, error) {
	if filepath.IsAbs(p) {
		return filepath.Clean(p), nil
	}
	return filepath.Join(s.cwd, p), nil
}

func (s *dirStore) MakeDirAll(dir string) error { return os.MkdirAll(s.local(dir), 0o755) }

func (s *dirStore) List(dir string) ([]string, error) {
	entries, err := os.ReadDir(s.local(dir))
	if err != nil {
		return nil, err
	}
	names := []string{".", ".."}
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

func (s *dirStore) Delete(p string) error {
	info, err := os.Lstat(s.local(p))
	if err != nil {
		return err
	}
	if info.IsDir() {
		return s.dirPerms(fmt.Errorf("%s is a directory", p))
	}
	return os.Remove(s.local(p))
}

func (s *dirStore) RemoveDir(dir string) error { return os.Remove(s.local(dir)) }

func (s *dirStore) Upload(_ context.Context, localDir, remoteDir string, dryRun bool) error {
	if err := s.MakeDirAll(remoteDir); err != nil {
		return err
	}
	s.uploads = append(s.uploads, remoteDir)
	if dryRun {
		return nil
	}
	return copyTree(context.Background(), localDir, s.local(remoteDir))
}

func (s *dirStore) Close() error {
	s.closed = true
	return nil
}

func ftpPermission(err error) error {
	return &textproto.Error{Code: 550, Msg: err.Error()}
}

func TestFTP(t *testing.T) {
	newFTP := func(t *testing.T, cfg map[string]any, store *dirStore) *FTP {
		t.Helper()
		f := NewFTP().(*FTP)
		f.dial = func(_ context.Context, c ftp.Config) (remoteStore, error) {
			assert.Equal(t, "ftp.example.net:21", c.Address())
			return store, nil
		}
		require.NoError(t, f.Init(testContext(nil), profile("offsite", "ftp", cfg)))
		return f
	}

	t.Run("prunes dated folders and uploads", func(t *testing.T) {
		store := &dirStore{base: t.TempDir(), cwd: "/home/backup", dirPerms: ftpPermission}
		remote := filepath.Join(store.base, "home", "backup", "pickup")
		mkdirs(t, remote, "2024-03-01", "2024-03-08", "2024-03-10", "notes")

		obs := &recordingObserver{}
		f := newFTP(t, map[string]any{
			"host":          "ftp.example.net",
			"remote_folder": "pickup",
			"retention":     map[string]any{"days": 7},
		}, store)
		require.NoError(t, f.Run(testContext(obs), stagingTree(t)))

		assert.Equal(t, []string{"2024-03-10", "2024-03-15", "notes"}, listDir(t, remote))
		assert.FileExists(t, filepath.Join(remote, "2024-03-15", "mysql", "db", "shop.sql.gz"))
		assert.Equal(t, []pruneCounts{{"offsite", 2, 0}}, obs.calls)
		assert.True(t, store.closed)
	})

	t.Run("dry run deletes nothing", func(t *testing.T) {
		store := &dirStore{base: t.TempDir(), cwd: "/", dirPerms: ftpPermission}
		mkdirs(t, filepath.Join(store.base, "backups"), "2020-01-01")

		f := newFTP(t, map[string]any{
			"host":          "ftp.example.net",
			"remote_folder": "/backups",
			"retention":     map[string]any{"weeks": 1},
			"dry_run":       true,
		}, store)
		require.NoError(t, f.Run(testContext(nil), stagingTree(t)))

		assert.Equal(t, []string{"2020-01-01", "2024-03-15"}, listDir(t, filepath.Join(store.base, "backups")))
		assert.Equal(t, []string{"/backups/2024-03-15"}, store.uploads)
		assert.NoFileExists(t, filepath.Join(store.base, "backups", "2024-03-15", "top.txt"))
	})

	t.Run("without retention nothing is listed", func(t *testing.T) {
		store := &dirStore{base: t.TempDir(), cwd: "/", dirPerms: ftpPermission}
		mkdirs(t, store.base, "1999-01-01")
		f := newFTP(t, map[string]any{"host": "ftp.example.net"}, store)
		require.NoError(t, f.Run(testContext(nil), stagingTree(t)))
		assert.Equal(t, []string{"1999-01-01", "2024-03-15"}, listDir(t, store.base))
	})

	t.Run("config", func(t *testing.T) {
		f := NewFTP().(*FTP)
		require.NoError(t, f.Init(testContext(nil), profile("offsite", "ftp", map[string]any{
			"host": "ftp.example.net",
			"port": "2121",
		})))
		assert.Equal(t, 2121, f.cfg.Port)
		assert.Equal(t, 30, f.cfg.Timeout)
		assert.Nil(t, f.policy)

		assert.Error(t, NewFTP().Init(testContext(nil), profile("offsite", "ftp", map[string]any{})))
	})
}

// dirTransport is an ssh.Transport over a local directory.
type dirTransport struct {
	dirStore
	connected bool
}

func (d *dirTransport) Connect(context.Context) error {
	d.connected = true
	return nil
}

func (d *dirTransport) Disconnect() error {
	d.connected = false
	return nil
}

func (d *dirTransport) ExecuteCommand(context.Context, string) (string, string, error) {
	return "", "", nil
}

func (d *dirTransport) DownloadFile(context.Context, string, string) error { return nil }

func (d *dirTransport) UploadDirectory(_ context.Context, local, remote string) error {
	return d.dirStore.Upload(context.Background(), local, remote, false)
}

func (d *dirTransport) MkdirAll(p string) error { return d.MakeDirAll(p) }

var _ ssh.Transport = (*dirTransport)(nil)

func TestSFTP(t *testing.T) {
	newSFTP := func(t *testing.T, cfg map[string]any, tr *dirTransport) *SFTP {
		t.Helper()
		s := NewSFTP().(*SFTP)
		s.dial = func(c *ssh.Config) (ssh.Transport, error) {
			assert.Equal(t, "backup.example.net:22", c.Address())
			return tr, nil
		}
		require.NoError(t, s.Init(testContext(nil), profile("vault", "sftp", cfg)))
		return s
	}
	isDir := func(err error) error { return fmt.Errorf("%w: %v", ssh.ErrIsDirectory, err) }

	t.Run("prunes and uploads", func(t *testing.T) {
		tr := &dirTransport{dirStore: dirStore{base: t.TempDir(), cwd: "/", dirPerms: isDir}}
		mkdirs(t, filepath.Join(tr.base, "srv"), "2024-01-01", "2024-03-14")

		s := newSFTP(t, map[string]any{
			"hostname":      "backup.example.net",
			"username":      "backup",
			"password":      "pw",
			"remote_folder": "/srv",
			"retention":     map[string]any{"days": 30},
		}, tr)
		require.NoError(t, s.Run(testContext(nil), stagingTree(t)))

		assert.Equal(t, []string{"2024-03-14", "2024-03-15"}, listDir(t, filepath.Join(tr.base, "srv")))
		assert.FileExists(t, filepath.Join(tr.base, "srv", "2024-03-15", "top.txt"))
		assert.False(t, tr.connected)
	})

	t.Run("dry run creates folders only", func(t *testing.T) {
		tr := &dirTransport{dirStore: dirStore{base: t.TempDir(), cwd: "/", dirPerms: isDir}}
		s := newSFTP(t, map[string]any{
			"hostname":      "backup.example.net",
			"username":      "backup",
			"remote_folder": "/srv",
			"dry_run":       true,
		}, tr)
		require.NoError(t, s.Run(testContext(nil), stagingTree(t)))

		assert.DirExists(t, filepath.Join(tr.base, "srv", "2024-03-15", "mysql", "db"))
		assert.NoFileExists(t, filepath.Join(tr.base, "srv", "2024-03-15", "top.txt"))
	})

	t.Run("relative remote folder", func(t *testing.T) {
		store := sftpStore{}
		p, err := store.Resolve("")
		require.NoError(t, err)
		assert.Equal(t, ".", p)
		p, err = store.Resolve("backups/")
		require.NoError(t, err)
		assert.Equal(t, "backups", p)
	})
}
