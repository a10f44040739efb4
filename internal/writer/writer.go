package writer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/go-scripts/rayback/internal/types"
)

// TempExt marks files that are still being written
const TempExt = ".raybackdl"

// FileWriter writes resources below an output directory. Every file appears
// at its final path only once it is complete.
type FileWriter struct {
	outputDir string
}

// New creates a FileWriter rooted at outputDir, creating it if needed
func New(outputDir string) (*FileWriter, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("%w: create output directory: %w", types.ErrFilesystem, err)
	}
	return &FileWriter{outputDir: outputDir}, nil
}

// Path maps a slash-separated relative path to its location on disk.
// The result never escapes the output directory.
func (w *FileWriter) Path(rel string) string {
	clean := path.Clean("/" + rel)
	return filepath.Join(w.outputDir, filepath.FromSlash(clean))
}

// Exists reports whether something is already present at rel
func (w *FileWriter) Exists(rel string) (bool, error) {
	_, err := os.Lstat(w.Path(rel))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("%w: stat %s: %w", types.ErrFilesystem, rel, err)
}

// WriteStream copies r to rel and returns the number of bytes written
func (w *FileWriter) WriteStream(rel string, r io.Reader) (int64, error) {
	return WriteAtomic(w.Path(rel), func(f io.Writer) (int64, error) {
		return io.Copy(fsWriter{f}, r)
	})
}

// fsWriter tags write failures as filesystem errors
type fsWriter struct {
	w io.Writer
}

func (fw fsWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	if err != nil {
		err = fmt.Errorf("%w: %w", types.ErrFilesystem, err)
	}
	return n, err
}

// WriteAtomic creates dest through a temporary sibling file that is renamed
// into place after fill succeeds and the data is closed. On failure the
// temporary file is removed and dest is left untouched.
func WriteAtomic(dest string, fill func(io.Writer) (int64, error)) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return 0, fmt.Errorf("%w: create directory for %s: %w", types.ErrFilesystem, dest, err)
	}

	tmpPath := dest + TempExt
	file, err := os.Create(tmpPath)
	if err != nil {
		return 0, fmt.Errorf("%w: create %s: %w", types.ErrFilesystem, tmpPath, err)
	}

	written, err := fill(file)
	if err != nil {
		file.Close()
		os.Remove(tmpPath)
		return written, fmt.Errorf("write %s: %w", dest, err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return written, fmt.Errorf("%w: close %s: %w", types.ErrFilesystem, tmpPath, err)
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return written, fmt.Errorf("%w: rename %s: %w", types.ErrFilesystem, tmpPath, err)
	}

	return written, nil
}
