package staging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "plain", input: "mysql", expected: "mysql"},
		{name: "spaces and punctuation", input: "My home folder!", expected: "My_home_folder"},
		{name: "leading and trailing", input: "  /etc/  ", expected: "etc"},
		{name: "dashes kept", input: "db-prod_1", expected: "db-prod_1"},
		{name: "non ascii", input: "Données", expected: "Donn_es"},
		{name: "nothing left", input: "***", expected: "unnamed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SafeName(tt.input))
		})
	}
}

func TestAllocateRootFresh(t *testing.T) {
	parent := filepath.Join(t.TempDir(), "staging")

	area, err := AllocateRoot(parent, false)
	require.NoError(t, err)

	assert.False(t, area.External())
	assert.DirExists(t, area.Root())
	assert.Equal(t, parent, filepath.Dir(area.Root()))

	require.NoError(t, area.Teardown())
	assert.NoDirExists(t, area.Root())
	assert.DirExists(t, parent)
}

func TestAllocateRootTempDir(t *testing.T) {
	area, err := AllocateRoot("", false)
	require.NoError(t, err)
	defer area.Teardown()

	assert.DirExists(t, area.Root())
}

func TestAllocateRootNotADirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	_, err := AllocateRoot(file, false)
	var notDir *ErrNotADirectory
	require.ErrorAs(t, err, &notDir)
	assert.Equal(t, file, notDir.Path)

	_, err = AllocateRoot(file, true)
	require.ErrorAs(t, err, &notDir)
}

func TestAllocateRootExternalIsKept(t *testing.T) {
	folder := filepath.Join(t.TempDir(), "backups", "2024-01-02")

	area, err := AllocateRoot(folder, true)
	require.NoError(t, err)

	assert.True(t, area.External())
	assert.Equal(t, folder, area.Root())

	require.NoError(t, area.Teardown())
	assert.DirExists(t, folder)
}

func TestAllocateSubfolderCollisions(t *testing.T) {
	area, err := AllocateRoot(t.TempDir(), false)
	require.NoError(t, err)
	defer area.Teardown()

	first, err := area.AllocateSubfolder("folder", "X")
	require.NoError(t, err)
	second, err := area.AllocateSubfolder("folder", "X")
	require.NoError(t, err)
	third, err := area.AllocateSubfolder("folder", "X")
	require.NoError(t, err)

	group := filepath.Join(area.Root(), "folder")
	assert.Equal(t, filepath.Join(group, "X"), first)
	assert.Equal(t, filepath.Join(group, "X-1"), second)
	assert.Equal(t, filepath.Join(group, "X-2"), third)

	for _, p := range []string{first, second, third} {
		assert.DirExists(t, p)
	}
}

func TestAllocateSubfolderNeverRepeats(t *testing.T) {
	area, err := AllocateRoot(t.TempDir(), false)
	require.NoError(t, err)
	defer area.Teardown()

	names := []string{"a b", "a_b", "a?b", "other", "a b"}
	seen := make(map[string]bool)
	for _, n := range names {
		p, err := area.AllocateSubfolder("command", n)
		require.NoError(t, err)
		assert.False(t, seen[p], "path %s returned twice", p)
		seen[p] = true
	}
	assert.Len(t, seen, len(names))
}

func TestAllocateSubfolderSurvivesDiscard(t *testing.T) {
	area, err := AllocateRoot(t.TempDir(), false)
	require.NoError(t, err)
	defer area.Teardown()

	first, err := area.AllocateSubfolder("command", "job")
	require.NoError(t, err)
	require.NoError(t, area.Discard(first))
	assert.NoDirExists(t, first)

	second, err := area.AllocateSubfolder("command", "job")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestDiscardOutsideRoot(t *testing.T) {
	area, err := AllocateRoot(t.TempDir(), false)
	require.NoError(t, err)
	defer area.Teardown()

	assert.Error(t, area.Discard(area.Root()))
	assert.Error(t, area.Discard(filepath.Dir(area.Root())))
}
