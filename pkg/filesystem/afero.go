package filesystem

import (
	"fmt"
	"os"

	"github.com/spf13/afero"
)

// AferoFileSystem adapts an afero.Fs to FileSystem.
// Tests use it with afero.NewMemMapFs to copy without touching the disk.
type AferoFileSystem struct {
	fs afero.Fs
}

// NewAferoFileSystem wraps the given afero filesystem.
func NewAferoFileSystem(fs afero.Fs) *AferoFileSystem {
	return &AferoFileSystem{fs: fs}
}

// NewMemFileSystem returns an empty in-memory filesystem.
func NewMemFileSystem() *AferoFileSystem {
	return NewAferoFileSystem(afero.NewMemMapFs())
}

// Fs exposes the underlying afero filesystem (for seeding test fixtures).
func (a *AferoFileSystem) Fs() afero.Fs {
	return a.fs
}

// Create creates a file for writing.
func (a *AferoFileSystem) Create(path string) (File, error) {
	file, err := a.fs.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}

	return file, nil
}

// MkdirAll creates a directory and all necessary parents.
func (a *AferoFileSystem) MkdirAll(path string, perm os.FileMode) error {
	err := a.fs.MkdirAll(path, perm)
	if err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}

	return nil
}

// Open opens a file for reading.
func (a *AferoFileSystem) Open(path string) (File, error) {
	file, err := a.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	return file, nil
}

// Remove removes a file or empty directory.
func (a *AferoFileSystem) Remove(path string) error {
	err := a.fs.Remove(path)
	if err != nil {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}

	return nil
}

// Stat returns file information.
func (a *AferoFileSystem) Stat(path string) (os.FileInfo, error) {
	info, err := a.fs.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	return info, nil
}
