// Package image provides the byte sources behind program descriptor entries.
//
// A Source knows its length up front and is opened only when its data is
// streamed to the device, so planning never reads image contents. Android
// sparse images are detected by their magic and expanded on the fly.
package image

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
)

// Source is an image with a known length, opened for streaming on demand.
type Source interface {
	// Name identifies the source in logs and errors
	Name() string

	// Size is the number of bytes Open yields
	Size() int64

	// Open returns a reader positioned at the first byte
	Open() (io.ReadCloser, error)
}

// File is a plain image file, optionally starting Offset bytes into the file.
type File struct {
	Path   string
	Offset int64
	size   int64
}

// NewFile stats path and returns a Source for it starting at offset.
func NewFile(path string, offset int64) (*File, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat image: %w", err)
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("image %s is a directory", path)
	}
	if offset < 0 || offset > fi.Size() {
		return nil, &OffsetError{Path: path, Offset: offset, Size: fi.Size()}
	}
	return &File{Path: path, Offset: offset, size: fi.Size() - offset}, nil
}

func (f *File) Name() string { return f.Path }

func (f *File) Size() int64 { return f.size }

func (f *File) Open() (io.ReadCloser, error) {
	fd, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	if f.Offset > 0 {
		if _, err := fd.Seek(f.Offset, io.SeekStart); err != nil {
			fd.Close()
			return nil, fmt.Errorf("seek image: %w", err)
		}
	}
	return &limitedFile{Reader: io.LimitReader(fd, f.size), Closer: fd}, nil
}

type limitedFile struct {
	io.Reader
	io.Closer
}

// Bytes is an in-memory Source.
type Bytes struct {
	Label string
	Data  []byte
}

func (b *Bytes) Name() string { return b.Label }

func (b *Bytes) Size() int64 { return int64(len(b.Data)) }

func (b *Bytes) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b.Data)), nil
}

// Open returns a Source for path, expanding it when it is a sparse image.
// offset skips the start of a plain file and must be zero for sparse images.
func Open(path string, offset int64) (Source, error) {
	sparse, err := IsSparse(path)
	if err != nil {
		return nil, err
	}
	if !sparse {
		return NewFile(path, offset)
	}
	if offset != 0 {
		return nil, fmt.Errorf("image %s: file offset is not supported for sparse images", path)
	}
	return NewSparse(path)
}

// OffsetError means a file offset points past the end of the image.
type OffsetError struct {
	Path   string
	Offset int64
	Size   int64
}

func (e *OffsetError) Error() string {
	return fmt.Sprintf("image %s: offset %d beyond size %d", e.Path, e.Offset, e.Size)
}

// ErrNotSparse is returned by NewSparse for files without the sparse magic.
var ErrNotSparse = errors.New("not a sparse image")
