package retention

import (
	"context"
	"errors"
	"path"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		name     string
		raw      any
		expected time.Duration
		isNil    bool
		wantErr  bool
	}{
		{name: "nil keeps forever", raw: nil, isNil: true},
		{name: "empty block keeps forever", raw: map[string]any{}, isNil: true},
		{name: "empty yaml mapping keeps forever", raw: map[any]any{}, isNil: true},
		{name: "explicit zero window", raw: map[string]any{"days": 0}, expected: 0},
		{name: "days and hours", raw: map[string]any{"days": 30, "hours": 12}, expected: 30*24*time.Hour + 12*time.Hour},
		{name: "weeks", raw: map[string]any{"weeks": 52}, expected: 52 * 7 * 24 * time.Hour},
		{name: "string numbers", raw: map[string]any{"days": "2"}, expected: 48 * time.Hour},
		{name: "fractional", raw: map[string]any{"hours": 1.5}, expected: 90 * time.Minute},
		{name: "minutes and seconds", raw: map[string]any{"minutes": 1, "seconds": 30}, expected: 90 * time.Second},
		{name: "unknown key", raw: map[string]any{"months": 1}, wantErr: true},
		{name: "negative", raw: map[string]any{"days": -1}, wantErr: true},
		{name: "negative component with positive total", raw: map[string]any{"days": -1, "hours": 48}, wantErr: true},
		{name: "window out of range", raw: map[string]any{"weeks": 1e9}, wantErr: true},
		{name: "not a number", raw: map[string]any{"days": "NaN"}, wantErr: true},
		{name: "wrong type", raw: "forever", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParsePolicy(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.isNil {
				assert.Nil(t, p)
				assert.False(t, p.Enabled())
				return
			}
			assert.Equal(t, tt.expected, p.Duration())
		})
	}
}

func TestThreshold(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	p := &Policy{Days: 1, Hours: 2}
	assert.Equal(t, time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC), p.Threshold(now))
}

func TestPruneBoundary(t *testing.T) {
	threshold := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	entries := []Entry{
		{Name: "older", Timestamp: threshold.Add(-time.Nanosecond)},
		{Name: "exact", Timestamp: threshold},
		{Name: "newer", Timestamp: threshold.Add(time.Hour)},
		{Name: "ancient", Timestamp: threshold.AddDate(-1, 0, 0)},
	}

	var called []string
	res := Prune(entries, threshold, func(name string) error {
		called = append(called, name)
		return nil
	})

	assert.Equal(t, []string{"older", "ancient"}, called)
	assert.Equal(t, []string{"older", "ancient"}, res.Deleted)
	assert.Equal(t, []string{"exact", "newer"}, res.Retained)
	assert.Empty(t, res.Failed)
	assert.NoError(t, res.Err())
}

func TestPrunePartialFailure(t *testing.T) {
	threshold := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	var entries []Entry
	for _, n := range []string{"a", "b", "c", "d", "e"} {
		entries = append(entries, Entry{Name: n, Timestamp: threshold.AddDate(0, 0, -10)})
	}
	boom := errors.New("permission denied")

	res := Prune(entries, threshold, func(name string) error {
		if name == "c" {
			return boom
		}
		return nil
	})

	assert.Equal(t, []string{"a", "b", "d", "e"}, res.Deleted)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "c", res.Failed[0].Name)
	assert.ErrorIs(t, res.Err(), boom)
}

func TestPrunerWithoutPolicy(t *testing.T) {
	p := &Pruner{Now: time.Now(), Logger: zerolog.Nop()}
	res := p.Prune([]Entry{{Name: "x", Timestamp: time.Unix(0, 0)}}, func(string) error {
		t.Fatal("delete must not be called without a policy")
		return nil
	})
	assert.Equal(t, []string{"x"}, res.Retained)
	assert.Empty(t, res.Deleted)
}

func TestPruneNames(t *testing.T) {
	now := time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC)
	p := &Pruner{Policy: &Policy{Days: 7}, Now: now, Logger: zerolog.Nop()}

	names := []string{".", "..", "2024-03-10", "2024-03-03", "2024-03-02", "2023-12-31", "notes.txt", "2024-13-01"}
	var deleted []string
	res := p.PruneNames(names, DateFolderLayout, func(name string) error {
		deleted = append(deleted, name)
		return nil
	})

	// threshold is 2024-03-03 15:00, so 2024-03-03 00:00 is expired
	assert.Equal(t, []string{"2024-03-03", "2024-03-02", "2023-12-31"}, deleted)
	assert.Equal(t, []string{"2024-03-10"}, res.Retained)
	assert.Equal(t, []string{"notes.txt", "2024-13-01"}, res.Skipped)
}

func TestPrunerDryRun(t *testing.T) {
	now := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	p := &Pruner{Policy: &Policy{Days: 1}, Now: now, DryRun: true, Logger: zerolog.Nop()}

	res := p.PruneNames([]string{"2024-01-01"}, DateFolderLayout, func(string) error {
		t.Fatal("delete must not be called in dry run")
		return nil
	})
	assert.Equal(t, []string{"2024-01-01"}, res.Deleted)
}

// fakeTree is an in-memory hierarchy. Deleting a directory with Delete fails
// with errPerm, mirroring FTP's 550 reply.
type fakeTree struct {
	files   map[string]bool
	dirs    map[string]bool
	stuck   map[string]bool
	deleted []string
	removed []string
}

var errPerm = errors.New("550 permission denied")

func newFakeTree(paths ...string) *fakeTree {
	ft := &fakeTree{files: map[string]bool{}, dirs: map[string]bool{}, stuck: map[string]bool{}}
	for _, p := range paths {
		if strings.HasSuffix(p, "/") {
			ft.dirs[strings.TrimSuffix(p, "/")] = true
		} else {
			ft.files[p] = true
		}
	}
	return ft
}

func (f *fakeTree) Delete(p string) error {
	if f.stuck[p] {
		return errors.New("busy")
	}
	if f.files[p] {
		delete(f.files, p)
		f.deleted = append(f.deleted, p)
		return nil
	}
	return errPerm
}

func (f *fakeTree) List(dir string) ([]string, error) {
	if !f.dirs[dir] {
		return nil, errors.New("not a directory")
	}
	var out []string
	for p := range f.files {
		if path.Dir(p) == dir {
			out = append(out, path.Base(p))
		}
	}
	for p := range f.dirs {
		if path.Dir(p) == dir {
			out = append(out, path.Base(p))
		}
	}
	sort.Strings(out)
	return append([]string{".", ".."}, out...), nil
}

func (f *fakeTree) RemoveDir(dir string) error {
	for p := range f.files {
		if strings.HasPrefix(p, dir+"/") {
			return errors.New("directory not empty")
		}
	}
	for p := range f.dirs {
		if strings.HasPrefix(p, dir+"/") {
			return errors.New("directory not empty")
		}
	}
	delete(f.dirs, dir)
	f.removed = append(f.removed, dir)
	return nil
}

func isPerm(err error) bool { return errors.Is(err, errPerm) }

func TestRemoveTreeFile(t *testing.T) {
	ft := newFakeTree("backups/file.tar")
	require.NoError(t, RemoveTree(ft, "backups/file.tar", isPerm))
	assert.Equal(t, []string{"backups/file.tar"}, ft.deleted)
}

func TestRemoveTreeDirectory(t *testing.T) {
	ft := newFakeTree(
		"2024-01-01/",
		"2024-01-01/mysql/",
		"2024-01-01/mysql/db.sql.gz",
		"2024-01-01/folder/",
		"2024-01-01/folder/home.tar.gz",
		"2024-01-01/readme",
	)

	require.NoError(t, RemoveTree(ft, "2024-01-01", isPerm))
	assert.Empty(t, ft.files)
	assert.Empty(t, ft.dirs)
	assert.Contains(t, ft.removed, "2024-01-01")
}

func TestRemoveTreeLeavesStuckEntry(t *testing.T) {
	ft := newFakeTree("2024-01-01/", "2024-01-01/a", "2024-01-01/locked")
	ft.stuck["2024-01-01/locked"] = true

	err := RemoveTree(ft, "2024-01-01", isPerm)
	require.Error(t, err)
	assert.True(t, ft.dirs["2024-01-01"], "directory must be left in place")
	assert.True(t, ft.files["2024-01-01/locked"])
	assert.False(t, ft.files["2024-01-01/a"])
}

func TestRemoveTreeNonPermissionError(t *testing.T) {
	ft := newFakeTree("x")
	ft.stuck["x"] = true
	err := RemoveTree(ft, "x", isPerm)
	require.Error(t, err)
	assert.True(t, ft.files["x"])
}

func TestRemoveTreeUsedAsDeleteFunc(t *testing.T) {
	ft := newFakeTree("2020-01-01/", "2020-01-01/x", "2020-01-02/", "2020-01-02/y")
	ft.stuck["2020-01-01/x"] = true

	p := &Pruner{Policy: &Policy{Days: 1}, Now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Logger: zerolog.Nop()}
	res := p.PruneNames([]string{"2020-01-01", "2020-01-02"}, DateFolderLayout, func(name string) error {
		return RemoveTree(ft, name, isPerm)
	})

	assert.Equal(t, []string{"2020-01-02"}, res.Deleted)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, "2020-01-01", res.Failed[0].Name)
}

type recordingObserver struct {
	profile         string
	deleted, failed int
}

func (r *recordingObserver) RecordPruned(profile string, deleted, failed int) {
	r.profile, r.deleted, r.failed = profile, deleted, failed
}

func TestReport(t *testing.T) {
	res := Result{Deleted: []string{"a", "b"}, Failed: []Failure{{Name: "c", Err: errPerm}}}

	Report(context.Background(), "ftp", res)

	obs := &recordingObserver{}
	Report(WithObserver(context.Background(), obs), "ftp", res)
	assert.Equal(t, &recordingObserver{profile: "ftp", deleted: 2, failed: 1}, obs)
}
