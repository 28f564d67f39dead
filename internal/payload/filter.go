package payload

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// GlobFilter selects files by a case-insensitive doublestar pattern.
type GlobFilter struct {
	normalizedPattern string
	isEmpty           bool
}

// NewGlobFilter creates a filter. An empty pattern matches every file.
func NewGlobFilter(pattern string) *GlobFilter {
	return &GlobFilter{
		normalizedPattern: strings.ToLower(pattern),
		isEmpty:           pattern == "",
	}
}

// Valid reports whether the pattern can be used.
func (f *GlobFilter) Valid() bool {
	return f.isEmpty || doublestar.ValidatePattern(f.normalizedPattern)
}

// ShouldInclude reports whether the slash-separated relative path matches.
func (f *GlobFilter) ShouldInclude(relativePath string) bool {
	if f.isEmpty {
		return true
	}

	matched, err := doublestar.Match(f.normalizedPattern, strings.ToLower(relativePath))
	if err != nil {
		return false
	}

	return matched
}
