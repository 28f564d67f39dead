package copypool

// Event is the interface implemented by all copy pool events.
type Event interface {
	isEvent()
	SourcePath() string
}

// Progress is emitted, throttled, while a file is being copied.
type Progress struct {
	Source      string
	BytesCopied int64
	TotalBytes  int64
}

func (Progress) isEvent() {}

// SourcePath returns the file the event belongs to.
func (e Progress) SourcePath() string { return e.Source }

// Success is the terminal event of a completed copy.
type Success struct {
	Source     string
	Hash       string
	TotalBytes int64
}

func (Success) isEvent() {}

// SourcePath returns the file the event belongs to.
func (e Success) SourcePath() string { return e.Source }

// Failure is the terminal event of a copy that errored or was cancelled.
type Failure struct {
	Source string
	Err    error
}

func (Failure) isEvent() {}

// SourcePath returns the file the event belongs to.
func (e Failure) SourcePath() string { return e.Source }

// IsTerminal reports whether ev is the last event for its source.
func IsTerminal(ev Event) bool {
	switch ev.(type) {
	case Success, Failure:
		return true
	}

	return false
}
