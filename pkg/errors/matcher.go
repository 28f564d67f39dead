package errors

import "strings"

// PatternMatcher maps an error message to a category.
type PatternMatcher interface {
	Match(errorMsg string) ErrorCategory
}

type rule struct {
	category ErrorCategory
	patterns []string
}

// NewPatternMatcher creates a matcher with the built-in rules. Rules are checked in
// order, so copy error kinds win over the OS text they wrap.
func NewPatternMatcher() PatternMatcher {
	return &patternMatcher{
		rules: []rule{
			{CategoryCancelled, []string{"cancelled", "canceled"}},
			{CategoryValidation, []string{"invalid upload", "no files selected", "duplicate row"}},
			{CategoryDiskSpace, []string{"disk_full", "no space left on device", "disk full", "quota exceeded"}},
			{CategoryPermission, []string{
				"destination_unwritable", "permission denied", "access denied", "operation not permitted",
			}},
			{CategoryPath, []string{
				"source_unreadable", "no such file or directory", "file not found", "path does not exist",
			}},
			{CategoryNetwork, []string{
				"connection refused", "no such host", "i/o timeout", "connection reset",
				"bad gateway", "service unavailable", "gateway timeout", "ssh: handshake failed",
			}},
			{CategoryCopy, []string{"interrupted", "short write", "input/output error", "i/o error"}},
		},
	}
}

type patternMatcher struct {
	rules []rule
}

// Match returns the category of the first rule with a pattern in errorMsg.
func (m *patternMatcher) Match(errorMsg string) ErrorCategory {
	lowerMsg := strings.ToLower(errorMsg)

	for _, r := range m.rules {
		for _, pattern := range r.patterns {
			if strings.Contains(lowerMsg, pattern) {
				return r.category
			}
		}
	}

	return CategoryUnknown
}
