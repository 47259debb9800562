package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// FileSystem provides an abstraction over file operations using afero
type FileSystem struct {
	fs      afero.Fs
	baseDir string
}

// NewFileSystem creates a FileSystem rooted at baseDir on the host filesystem.
func NewFileSystem(baseDir string) (*FileSystem, error) {
	if baseDir == "" {
		baseDir = "data"
	}

	fs := afero.NewOsFs()
	if err := fs.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", baseDir, err)
	}

	return &FileSystem{
		fs:      fs,
		baseDir: baseDir,
	}, nil
}

// NewWithFs wraps an existing afero.Fs, e.g. a read-only or base-path filesystem
func NewWithFs(fs afero.Fs, baseDir string) *FileSystem {
	return &FileSystem{
		fs:      fs,
		baseDir: baseDir,
	}
}

// NewMemoryFileSystem creates a FileSystem backed by memory (useful for testing)
func NewMemoryFileSystem() *FileSystem {
	return &FileSystem{
		fs:      afero.NewMemMapFs(),
		baseDir: "data",
	}
}

// DataDir returns the base data directory path
func (f *FileSystem) DataDir() string {
	return f.baseDir
}

// Exists checks if a file or directory exists
func (f *FileSystem) Exists(path string) (bool, error) {
	return afero.Exists(f.fs, path)
}

// MkdirAll creates a directory and all parent directories
func (f *FileSystem) MkdirAll(path string) error {
	return f.fs.MkdirAll(path, 0755)
}

// SizeOf returns the size in bytes of a regular file
func (f *FileSystem) SizeOf(path string) (int64, error) {
	info, err := f.fs.Stat(path)
	if err != nil {
		return 0, err
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%s is a directory", path)
	}
	return info.Size(), nil
}

// Remove deletes a file. A file that is already gone is not an error.
func (f *FileSystem) Remove(path string) error {
	if err := f.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// RemoveAll deletes a directory tree
func (f *FileSystem) RemoveAll(path string) error {
	return f.fs.RemoveAll(path)
}

// MoveOrCopy places src at dst. With keepSource the source is copied and left in place,
// otherwise it is renamed, falling back to copy and delete when a rename is not possible.
func (f *FileSystem) MoveOrCopy(src, dst string, keepSource bool) error {
	if err := f.fs.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if !keepSource {
		if err := f.fs.Rename(src, dst); err == nil {
			return nil
		}
	}

	in, err := f.fs.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer in.Close()

	if err := f.WriteAtomic(dst, func(w io.Writer) error {
		_, err := io.Copy(w, in)
		return err
	}); err != nil {
		return err
	}

	if !keepSource {
		if err := f.Remove(src); err != nil {
			return fmt.Errorf("failed to remove source: %w", err)
		}
	}
	return nil
}

// WriteAtomic streams content into a temporary sibling of path and renames it into place,
// so readers never observe a half written file.
func (f *FileSystem) WriteAtomic(path string, write func(w io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := f.fs.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp := filepath.Join(dir, "."+filepath.Base(path)+"."+uuid.NewString()+".tmp")
	file, err := f.fs.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	if err := write(file); err != nil {
		file.Close()
		f.fs.Remove(tmp)
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		f.fs.Remove(tmp)
		return fmt.Errorf("failed to sync file: %w", err)
	}
	if err := file.Close(); err != nil {
		f.fs.Remove(tmp)
		return fmt.Errorf("failed to close file: %w", err)
	}

	if err := f.fs.Rename(tmp, path); err != nil {
		f.fs.Remove(tmp)
		return fmt.Errorf("failed to move file into place: %w", err)
	}
	return nil
}

// WriteFile writes data to a file
func (f *FileSystem) WriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := f.fs.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	return afero.WriteFile(f.fs, path, data, 0644)
}

// ReadFile reads data from a file
func (f *FileSystem) ReadFile(path string) ([]byte, error) {
	return afero.ReadFile(f.fs, path)
}

// Open opens a file for reading
func (f *FileSystem) Open(path string) (afero.File, error) {
	return f.fs.Open(path)
}

// Stat returns file info
func (f *FileSystem) Stat(path string) (os.FileInfo, error) {
	return f.fs.Stat(path)
}

// Walk visits every entry below root
func (f *FileSystem) Walk(root string, fn filepath.WalkFunc) error {
	return afero.Walk(f.fs, root, fn)
}

// Fs returns the underlying afero.Fs for advanced operations
func (f *FileSystem) Fs() afero.Fs {
	return f.fs
}
