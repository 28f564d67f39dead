package filesystem

import (
	"fmt"
	"path/filepath"

	"github.com/kr/fs"
)

// Entry is a regular file found while walking a local source tree.
type Entry struct {
	Path         string
	RelativePath string
	Size         int64
}

// Walk lists the regular files under root on the local disk.
// If root is itself a file it is returned as the only entry. include, when non-nil,
// receives the slash-separated path relative to root and decides whether to keep it.
func Walk(root string, include func(relativePath string) bool) ([]Entry, error) {
	var entries []Entry

	walker := fs.Walk(root)
	for walker.Step() {
		if err := walker.Err(); err != nil {
			return nil, fmt.Errorf("walk error at %s: %w", walker.Path(), err)
		}

		info := walker.Stat()
		if info.IsDir() || !info.Mode().IsRegular() {
			continue
		}

		relPath, err := filepath.Rel(root, walker.Path())
		if err != nil {
			return nil, fmt.Errorf("failed to get relative path for %s: %w", walker.Path(), err)
		}

		if relPath == "." {
			relPath = filepath.Base(walker.Path())
		}

		relPath = filepath.ToSlash(relPath)
		if include != nil && !include(relPath) {
			continue
		}

		entries = append(entries, Entry{
			Path:         walker.Path(),
			RelativePath: relPath,
			Size:         info.Size(),
		})
	}

	return entries, nil
}
