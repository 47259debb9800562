package backup

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"picvault/internal/storage"
)

// Entry is a file or directory tree to include in an archive under Name.
type Entry struct {
	Path string
	Name string
}

// Archive writes a tar.gz of entries to w. Directories are added recursively and
// entries that do not exist are skipped.
func Archive(fs *storage.FileSystem, w io.Writer, entries ...Entry) error {
	gzWriter := gzip.NewWriter(w)
	tarWriter := tar.NewWriter(gzWriter)

	addFile := func(p, name string, info os.FileInfo) error {
		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return fmt.Errorf("failed to create tar header: %w", err)
		}
		header.Name = name
		if info.IsDir() {
			header.Name += "/"
		}
		if err := tarWriter.WriteHeader(header); err != nil {
			return fmt.Errorf("failed to write tar header: %w", err)
		}
		if info.IsDir() {
			return nil
		}

		file, err := fs.Open(p)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", p, err)
		}
		defer file.Close()
		if _, err := io.Copy(tarWriter, file); err != nil {
			return fmt.Errorf("failed to copy file data: %w", err)
		}
		return nil
	}

	for _, e := range entries {
		exists, err := fs.Exists(e.Path)
		if err != nil {
			return err
		}
		if !exists {
			continue
		}

		err = fs.Walk(e.Path, func(p string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(e.Path, p)
			if err != nil {
				return err
			}
			name := path.Join(e.Name, filepath.ToSlash(rel))
			return addFile(p, name, info)
		})
		if err != nil {
			return fmt.Errorf("failed to add %s: %w", e.Path, err)
		}
	}

	if err := tarWriter.Close(); err != nil {
		return err
	}
	return gzWriter.Close()
}

// Extract unpacks a tar.gz produced by Archive below dir. Entries that would escape dir are rejected.
func Extract(fs *storage.FileSystem, r io.Reader, dir string) error {
	gzReader, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gzReader.Close()

	tarReader := tar.NewReader(gzReader)
	for {
		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read tar header: %w", err)
		}

		target := filepath.Join(dir, filepath.FromSlash(header.Name))
		if rel, err := filepath.Rel(dir, target); err != nil || strings.HasPrefix(rel, "..") {
			return fmt.Errorf("archive entry %q escapes %s", header.Name, dir)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := fs.MkdirAll(target); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}
		case tar.TypeReg:
			if err := fs.WriteAtomic(target, func(w io.Writer) error {
				_, err := io.Copy(w, tarReader)
				return err
			}); err != nil {
				return err
			}
		}
	}
}
