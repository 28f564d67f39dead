package filesystem

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const defaultSSHPort = 22

// Location is a destination root: a local path or a directory on an SFTP server.
type Location struct {
	IsRemote bool

	// For local paths
	LocalPath string

	// For SFTP paths
	Host string
	Port int
	User string
	Path string
}

// ParsePath parses a destination string.
// SFTP URLs have the format sftp://user@host[:port]/path; anything else is a local path.
//   - sftp://joe@archive.example.org/uploads   → "uploads" relative to the login directory
//   - sftp://joe@archive.example.org//data/up  → absolute "/data/up"
//   - /allen/aics/uploads                      → local path
func ParsePath(path string) (*Location, error) {
	if strings.HasPrefix(path, "sftp://") {
		return parseSFTPURL(path)
	}

	return &Location{LocalPath: path}, nil
}

// Root returns the path to use with the filesystem for this location.
func (l *Location) Root() string {
	if l.IsRemote {
		return l.Path
	}

	return l.LocalPath
}

func parseSFTPURL(sftpURL string) (*Location, error) {
	u, err := url.Parse(sftpURL) //nolint:varnamelen // u is idiomatic for URL
	if err != nil {
		return nil, fmt.Errorf("invalid SFTP URL: %w", err)
	}

	if u.User == nil || u.User.Username() == "" {
		return nil, errors.New("SFTP URL must include username (sftp://user@host/path)")
	}

	host := u.Hostname()
	if host == "" {
		return nil, errors.New("SFTP URL must include host")
	}

	port := defaultSSHPort
	if portStr := u.Port(); portStr != "" {
		port, err = strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("invalid port number: %w", err)
		}
	}

	// One leading slash is the URL separator; a second one makes the path absolute.
	remotePath := u.Path
	switch {
	case remotePath == "" || remotePath == "/":
		remotePath = "."
	case strings.HasPrefix(remotePath, "//"):
		remotePath = remotePath[1:]
	default:
		remotePath = strings.TrimPrefix(remotePath, "/")
	}

	return &Location{
		IsRemote: true,
		Host:     host,
		Port:     port,
		User:     u.User.Username(),
		Path:     remotePath,
	}, nil
}
