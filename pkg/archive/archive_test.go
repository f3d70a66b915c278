package archive

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCompression(t *testing.T) {
	tests := []struct {
		in   string
		want Compression
		ext  string
	}{
		{"", Gzip, ".gz"},
		{"gzip", Gzip, ".gz"},
		{".gz", Gzip, ".gz"},
		{"ZSTD", Zstd, ".zst"},
		{"zst", Zstd, ".zst"},
		{"none", None, ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			c, err := ParseCompression(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, c)
			assert.Equal(t, tt.ext, c.Extension())
		})
	}

	_, err := ParseCompression("bzip2")
	assert.Error(t, err)
}

func TestCreateRoundTrip(t *testing.T) {
	for _, c := range []Compression{None, Gzip, Zstd} {
		t.Run(string(c), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "dump.sql"+c.Extension())
			f, err := Create(path, c)
			require.NoError(t, err)
			_, err = io.WriteString(f, strings.Repeat("INSERT INTO t VALUES (1);\n", 100))
			require.NoError(t, err)
			require.NoError(t, f.Close())

			raw, err := os.Open(path)
			require.NoError(t, err)
			defer raw.Close()
			r, err := c.NewReader(raw)
			require.NoError(t, err)
			defer r.Close()
			data, err := io.ReadAll(r)
			require.NoError(t, err)
			assert.Equal(t, 100, strings.Count(string(data), "INSERT"))
		})
	}
}

func TestCreateRefusesExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dump.sql.gz")
	require.NoError(t, os.WriteFile(path, []byte("keep"), 0o600))

	_, err := Create(path, Gzip)
	require.Error(t, err)

	data, _ := os.ReadFile(path)
	assert.Equal(t, "keep", string(data))
}

func TestAbortRemovesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.zst")
	f, err := Create(path, Zstd)
	require.NoError(t, err)
	f.Abort()

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestArchiveName(t *testing.T) {
	assert.Equal(t, "home/alice", ArchiveName("/home/alice/"))
	assert.Equal(t, "etc/ssh/sshd_config", ArchiveName("/etc//ssh/sshd_config"))
}

func TestTarAdd(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "docs", "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "docs", "a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "docs", "nested", "b.txt"), []byte("b"), 0o644))
	require.NoError(t, os.Symlink("a.txt", filepath.Join(src, "docs", "link")))

	out := filepath.Join(t.TempDir(), "docs.tar.gz")
	tf, err := CreateTar(out, Gzip)
	require.NoError(t, err)
	require.NoError(t, tf.Add(context.Background(), filepath.Join(src, "docs")))
	require.NoError(t, tf.Close())

	names, err := List(out, Gzip)
	require.NoError(t, err)

	prefix := ArchiveName(filepath.Join(src, "docs"))
	assert.ElementsMatch(t, []string{
		prefix + "/",
		prefix + "/a.txt",
		prefix + "/link",
		prefix + "/nested/",
		prefix + "/nested/b.txt",
	}, names)
}

func TestTarAddCancelled(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "a"), []byte("a"), 0o644))

	tf, err := CreateTar(filepath.Join(t.TempDir(), "x.tar"), None)
	require.NoError(t, err)
	defer tf.Abort()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, tf.Add(ctx, src), context.Canceled)
}
