// Package archive writes the files generators leave in the staging area:
// compressed streams for database dumps and tarballs for folders.
package archive

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Compression selects the codec applied to generated files.
type Compression string

const (
	None Compression = "none"
	Gzip Compression = "gzip"
	Zstd Compression = "zstd"
)

// ParseCompression accepts a codec name or its file extension. An empty
// value selects gzip.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimPrefix(s, ".")) {
	case "", "gzip", "gz":
		return Gzip, nil
	case "zstd", "zst":
		return Zstd, nil
	case "none", "off", "false":
		return None, nil
	default:
		return "", fmt.Errorf("unknown compression %q (expected gzip, zstd or none)", s)
	}
}

// Extension is the file suffix for the codec, including the leading dot.
func (c Compression) Extension() string {
	switch c {
	case Gzip:
		return ".gz"
	case Zstd:
		return ".zst"
	default:
		return ""
	}
}

// NewWriter wraps w with the codec. Closing the returned writer flushes the
// codec but does not close w.
func (c Compression) NewWriter(w io.Writer) (io.WriteCloser, error) {
	switch c {
	case Gzip:
		return gzip.NewWriterLevel(w, gzip.DefaultCompression)
	case Zstd:
		return zstd.NewWriter(w)
	case None, "":
		return nopWriteCloser{w}, nil
	default:
		return nil, fmt.Errorf("unknown compression %q", string(c))
	}
}

// NewReader wraps r with the matching decoder.
func (c Compression) NewReader(r io.Reader) (io.ReadCloser, error) {
	switch c {
	case Gzip:
		return gzip.NewReader(r)
	case Zstd:
		d, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return d.IOReadCloser(), nil
	case None, "":
		return io.NopCloser(r), nil
	default:
		return nil, fmt.Errorf("unknown compression %q", string(c))
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// File is a compressed file being written. Close must be called to flush
// the codec and the file.
type File struct {
	io.Writer
	Path  string
	codec io.WriteCloser
	file  *os.File
}

// Create creates path and returns a writer that compresses into it.
func Create(path string, c Compression) (*File, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, err
	}
	codec, err := c.NewWriter(f)
	if err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return nil, err
	}
	return &File{Writer: codec, Path: path, codec: codec, file: f}, nil
}

// Close flushes the codec and closes the file.
func (f *File) Close() error {
	return errors.Join(f.codec.Close(), f.file.Close())
}

// Abort closes and removes a partially written file.
func (f *File) Abort() {
	_ = f.Close()
	_ = os.Remove(f.Path)
}
