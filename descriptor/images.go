package descriptor

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/moffa90/go-qdl/image"
)

// Images finds the files program entries refer to. Include directories are
// searched first, then the directory of the rawprogram file.
type Images struct {
	Include []string
}

// Locate returns the path of filename for a descriptor loaded from descPath.
func (im Images) Locate(filename, descPath string) (string, error) {
	if filepath.IsAbs(filename) {
		if _, err := os.Stat(filename); err != nil {
			return "", &ImageNotFoundError{Filename: filename}
		}
		return filename, nil
	}

	dirs := append([]string(nil), im.Include...)
	if descPath != "" {
		dirs = append(dirs, filepath.Dir(descPath))
	} else {
		dirs = append(dirs, ".")
	}

	for _, dir := range dirs {
		candidate := filepath.Join(dir, filename)
		fi, err := os.Stat(candidate)
		if err == nil && !fi.IsDir() {
			return candidate, nil
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("stat %s: %w", candidate, err)
		}
	}
	return "", &ImageNotFoundError{Filename: filename, Searched: dirs}
}

// Source opens the image of a program entry as a streaming source. Entries
// flagged sparse must be sparse images; other files are detected by magic.
func (im Images) Source(p *Program, e ProgramEntry) (image.Source, error) {
	path, err := im.Locate(e.Filename, p.Path)
	if err != nil {
		return nil, err
	}
	if e.Sparse {
		if e.FileSectorOffset != 0 {
			return nil, fmt.Errorf("image %s: file_sector_offset with a sparse image", path)
		}
		return image.NewSparse(path)
	}
	return image.Open(path, e.FileOffset())
}
