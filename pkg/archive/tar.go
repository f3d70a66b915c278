package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// TarFile is a compressed tarball being written.
type TarFile struct {
	*File
	tw *tar.Writer
}

// CreateTar creates a tarball at path, compressed with c.
func CreateTar(path string, c Compression) (*TarFile, error) {
	f, err := Create(path, c)
	if err != nil {
		return nil, err
	}
	return &TarFile{File: f, tw: tar.NewWriter(f)}, nil
}

// Close finishes the tar stream, the codec and the file.
func (t *TarFile) Close() error {
	return errors.Join(t.tw.Close(), t.File.Close())
}

// ArchiveName is the member name used for p: the cleaned path without its
// volume and leading separator, so /home/alice becomes home/alice.
func ArchiveName(p string) string {
	p = filepath.Clean(p)
	p = strings.TrimPrefix(p, filepath.VolumeName(p))
	return strings.TrimLeft(filepath.ToSlash(p), "/")
}

// Add writes p, and everything below it if p is a directory. Symlinks are
// stored as links and never followed. Entries that are neither regular
// files, directories nor symlinks are skipped.
func (t *TarFile) Add(ctx context.Context, p string) error {
	abs, err := filepath.Abs(p)
	if err != nil {
		return err
	}
	return filepath.Walk(abs, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		return t.addEntry(path, info)
	})
}

func (t *TarFile) addEntry(path string, info os.FileInfo) error {
	var link string
	mode := info.Mode()
	switch {
	case mode&os.ModeSymlink != 0:
		target, err := os.Readlink(path)
		if err != nil {
			return err
		}
		link = target
	case mode.IsDir(), mode.IsRegular():
	default:
		return nil
	}

	hdr, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return fmt.Errorf("header for %s: %w", path, err)
	}
	hdr.Name = ArchiveName(path)
	if info.IsDir() {
		hdr.Name += "/"
	}
	if err := t.tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write header for %s: %w", path, err)
	}
	if !mode.IsRegular() {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(t.tw, f); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// List returns the member names of a tarball written by CreateTar.
func List(path string, c Compression) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r, err := c.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var names []string
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return names, nil
		}
		if err != nil {
			return nil, err
		}
		names = append(names, hdr.Name)
	}
}
