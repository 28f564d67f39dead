package filesystem

import (
	"fmt"
)

// Open resolves a destination string to a FileSystem.
// Returns (filesystem, rootPath, closer, error); closer is nil for local destinations.
func Open(destination string) (FileSystem, string, func(), error) {
	loc, err := ParsePath(destination)
	if err != nil {
		return nil, "", nil, err
	}

	if !loc.IsRemote {
		return NewRealFileSystem(), loc.LocalPath, nil, nil
	}

	conn, err := Connect(loc.Host, loc.Port, loc.User)
	if err != nil {
		return nil, "", nil, fmt.Errorf("failed to connect to %s@%s:%d: %w", loc.User, loc.Host, loc.Port, err)
	}

	closer := func() {
		_ = conn.Close()
	}

	return NewSFTPFileSystem(conn), loc.Path, closer, nil
}
