package copypool

// BatchProgress is the aggregate progress of every file in one upload.
type BatchProgress struct {
	CompletedBytes int64
	TotalBytes     int64
}

// Fraction returns completion in [0, 1]. An empty batch is complete.
func (b BatchProgress) Fraction() float64 {
	if b.TotalBytes <= 0 {
		return 1
	}

	return float64(b.CompletedBytes) / float64(b.TotalBytes)
}

type fileProgress struct {
	copied int64
	total  int64
}

// BatchTracker folds per-file events into a BatchProgress.
// Per-file values and the aggregate total only ever grow. Not safe for concurrent use.
type BatchTracker struct {
	files    map[string]*fileProgress
	progress BatchProgress
}

// NewBatchTracker creates an empty tracker.
func NewBatchTracker() *BatchTracker {
	return &BatchTracker{files: make(map[string]*fileProgress)}
}

// Expect registers a file and its size before any event arrives.
func (b *BatchTracker) Expect(source string, totalBytes int64) {
	b.file(source).grow(b, 0, totalBytes)
}

// Apply records an event and returns the updated aggregate.
func (b *BatchTracker) Apply(ev Event) BatchProgress {
	switch e := ev.(type) {
	case Progress:
		b.file(e.Source).grow(b, e.BytesCopied, e.TotalBytes)
	case Success:
		b.file(e.Source).grow(b, e.TotalBytes, e.TotalBytes)
	case Failure:
	}

	return b.progress
}

// Progress returns the current aggregate.
func (b *BatchTracker) Progress() BatchProgress {
	return b.progress
}

func (b *BatchTracker) file(source string) *fileProgress {
	fp, ok := b.files[source]
	if !ok {
		fp = &fileProgress{}
		b.files[source] = fp
	}

	return fp
}

func (f *fileProgress) grow(b *BatchTracker, copied, total int64) {
	if total > f.total {
		b.progress.TotalBytes += total - f.total
		f.total = total
	}

	if copied > f.total {
		copied = f.total
	}

	if copied > f.copied {
		b.progress.CompletedBytes += copied - f.copied
		f.copied = copied
	}
}
