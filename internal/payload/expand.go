package payload

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joe/upload-files/pkg/filesystem"
)

// Options describe how FromPaths turns paths into rows.
type Options struct {
	// Pattern filters files found inside directories (doublestar syntax, case-insensitive).
	Pattern     string
	Archive     bool
	Local       bool
	Workflows   []string
	Annotations map[string][]string
}

// FromPaths builds a payload with one row per regular file under paths.
// Directories are walked recursively; explicitly named files are always included.
func FromPaths(paths []string, opts Options) (Payload, error) {
	filter := NewGlobFilter(opts.Pattern)
	if !filter.Valid() {
		return nil, fmt.Errorf("invalid include pattern %q", opts.Pattern)
	}

	out := make(Payload)

	for _, root := range paths {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", root, err)
		}

		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", root, err)
		}

		include := filter.ShouldInclude
		if !info.IsDir() {
			include = nil
		}

		entries, err := filesystem.Walk(abs, include)
		if err != nil {
			return nil, fmt.Errorf("failed to expand %s: %w", root, err)
		}

		for _, entry := range entries {
			record := Record{
				File:              entry.Path,
				ShouldBeInArchive: opts.Archive,
				ShouldBeInLocal:   opts.Local,
				Workflows:         append([]string(nil), opts.Workflows...),
				Annotations:       copyAnnotations(opts.Annotations),
			}

			err := out.Add(record)
			if err != nil {
				return nil, err
			}
		}
	}

	return out, nil
}

func copyAnnotations(in map[string][]string) map[string][]string {
	if len(in) == 0 {
		return nil
	}

	out := make(map[string][]string, len(in))
	for name, values := range in {
		out[name] = append([]string(nil), values...)
	}

	return out
}
