package filesystem

import (
	"fmt"
	"os"

	"github.com/pkg/sftp"
)

// SFTPFileSystem implements FileSystem on a remote SFTP server.
// Paths are interpreted by the server; callers pass forward-slash paths.
type SFTPFileSystem struct {
	client *sftp.Client
}

// NewSFTPFileSystem creates a filesystem backed by an established connection.
func NewSFTPFileSystem(conn *SFTPConnection) *SFTPFileSystem {
	return &SFTPFileSystem{client: conn.Client()}
}

// Create creates a remote file for writing, truncating any existing file.
func (fs *SFTPFileSystem) Create(path string) (File, error) {
	file, err := fs.client.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}

	return file, nil
}

// MkdirAll creates a remote directory and all necessary parents.
// The SFTP protocol has no permission argument for MkdirAll; perm is applied with Chmod.
func (fs *SFTPFileSystem) MkdirAll(path string, perm os.FileMode) error {
	err := fs.client.MkdirAll(path)
	if err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}

	err = fs.client.Chmod(path, perm)
	if err != nil {
		return fmt.Errorf("failed to set permissions on %s: %w", path, err)
	}

	return nil
}

// Open opens a remote file for reading.
func (fs *SFTPFileSystem) Open(path string) (File, error) {
	file, err := fs.client.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	return file, nil
}

// Remove removes a remote file or empty directory.
func (fs *SFTPFileSystem) Remove(path string) error {
	err := fs.client.Remove(path)
	if err != nil {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}

	return nil
}

// Stat returns remote file information.
func (fs *SFTPFileSystem) Stat(path string) (os.FileInfo, error) {
	info, err := fs.client.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	return info, nil
}
