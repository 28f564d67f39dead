// Package filesystem provides the storage abstraction the upload pipeline copies through.
// Sources are read from the local disk; destinations may be local, an SFTP server,
// or an in-memory filesystem in tests.
package filesystem

import (
	"fmt"
	"io"
	"os"
)

// File is an open payload file being hashed, or the archive copy being written.
type File interface {
	io.Reader
	io.Writer
	io.Closer
	Stat() (os.FileInfo, error)
}

// FileSystem is what the copier and validator need from the side they touch:
// payload files are opened and statted on the source, archive copies are
// created and removed on the destination.
type FileSystem interface {
	Open(path string) (File, error)
	Create(path string) (File, error)
	MkdirAll(path string, perm os.FileMode) error
	Remove(path string) error
	Stat(path string) (os.FileInfo, error)
}

// RealFileSystem reads payload files from, and writes archive copies to, the local disk.
type RealFileSystem struct{}

// NewRealFileSystem returns the local-disk filesystem used when no destination URL is configured.
func NewRealFileSystem() *RealFileSystem {
	return &RealFileSystem{}
}

// Create opens an archive copy for writing, truncating what an earlier attempt left behind.
func (fs *RealFileSystem) Create(path string) (File, error) {
	file, err := os.Create(path) // #nosec G304 - file path is controlled by caller
	if err != nil {
		return nil, fmt.Errorf("failed to create archive file %s: %w", path, err)
	}

	return file, nil
}

// MkdirAll creates an upload's archive directory and its parents.
func (fs *RealFileSystem) MkdirAll(path string, perm os.FileMode) error {
	err := os.MkdirAll(path, perm)
	if err != nil {
		return fmt.Errorf("failed to create archive directory %s: %w", path, err)
	}

	return nil
}

// Open opens a payload file for reading.
func (fs *RealFileSystem) Open(path string) (File, error) {
	file, err := os.Open(path) // #nosec G304 - file path is controlled by caller
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	return file, nil
}

// Remove deletes a partial copy or side file.
func (fs *RealFileSystem) Remove(path string) error {
	err := os.Remove(path)
	if err != nil {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}

	return nil
}

// Stat reports a payload file's size and mode.
func (fs *RealFileSystem) Stat(path string) (os.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	return info, nil
}
