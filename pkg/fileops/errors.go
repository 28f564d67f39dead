package fileops

import (
	"errors"
	"fmt"
	"strings"
	"syscall"
)

// ErrKind classifies why a copy failed.
type ErrKind string

// Copy failure kinds.
const (
	KindSourceUnreadable      ErrKind = "source_unreadable"
	KindDestinationUnwritable ErrKind = "destination_unwritable"
	KindInterrupted           ErrKind = "interrupted"
	KindDiskFull              ErrKind = "disk_full"
	KindCancelled             ErrKind = "cancelled"
)

// Exported variables.
var (
	ErrCopyCancelled = errors.New("copy cancelled")
)

// CopyError reports a failed copy and the path that caused it.
type CopyError struct {
	Path string
	Kind ErrKind
	Err  error
}

func (e *CopyError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Kind, e.Path, e.Err)
}

func (e *CopyError) Unwrap() error {
	return e.Err
}

// OffendingPath returns the file the failure is attributed to.
func (e *CopyError) OffendingPath() string {
	return e.Path
}

// IsCancelled reports whether err is a cancelled copy.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCopyCancelled)
}

func newCopyError(path string, kind ErrKind, err error) *CopyError {
	return &CopyError{Path: path, Kind: kind, Err: err}
}

// newDestinationError classifies a write-side failure. SFTP servers report ENOSPC
// as a generic failure with a message, so the text is checked as well.
func newDestinationError(path string, err error) *CopyError {
	if errors.Is(err, syscall.ENOSPC) || strings.Contains(strings.ToLower(err.Error()), "no space left") {
		return newCopyError(path, KindDiskFull, err)
	}

	return newCopyError(path, KindDestinationUnwritable, err)
}
