// Package copypool runs one hashing copy per file on its own goroutine and reports
// typed progress and completion events over a channel.
package copypool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/joe/upload-files/pkg/fileops"
	"github.com/joe/upload-files/pkg/filesystem"
)

// DefaultInterval is the minimum time between progress events for one file.
const DefaultInterval = 2 * time.Second

// Exported variables.
var (
	ErrAlreadyRunning = errors.New("copy already running for source")
	ErrPoolClosed     = errors.New("copy pool closed")
)

// Copier copies one file into a directory and returns its content hash.
type Copier interface {
	Copy(ctx context.Context, src, destDir string, onProgress fileops.ProgressCallback) (string, error)
}

// Options configures a Pool.
type Options struct {
	// Workers bounds how many files copy at once. Zero means no limit.
	Workers int
	// Interval is the progress throttle per file. Zero means DefaultInterval.
	Interval time.Duration
	// EventBuffer is the capacity of the events channel.
	EventBuffer int
	Logger      zerolog.Logger
}

// Handle tracks one submitted copy.
type Handle struct {
	Source string
	// TotalBytes is the size of the source when it was submitted.
	TotalBytes int64

	done chan struct{}
	hash string
	err  error
}

// Done is closed after the terminal event for the copy has been delivered.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Result returns the hash or error once Done is closed.
func (h *Handle) Result() (string, error) {
	<-h.done

	return h.hash, h.err
}

type unit struct {
	handle  *Handle
	destDir string
	cancel  context.CancelFunc
}

// Pool runs copies concurrently and reports on a single events channel.
type Pool struct {
	copier   Copier
	sourceFS filesystem.FileSystem
	interval time.Duration
	sem      chan struct{}
	logger   zerolog.Logger

	units  *xsync.MapOf[string, *unit]
	events chan Event

	ctx       context.Context //nolint:containedctx // Pool lifetime bounds every unit
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

// New creates a pool. sourceFS is used to size each file before it is copied.
func New(copier Copier, sourceFS filesystem.FileSystem, opts Options) *Pool {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	buffer := opts.EventBuffer
	if buffer <= 0 {
		buffer = 64
	}

	var sem chan struct{}
	if opts.Workers > 0 {
		sem = make(chan struct{}, opts.Workers)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		copier:   copier,
		sourceFS: sourceFS,
		interval: interval,
		sem:      sem,
		logger:   opts.Logger,
		units:    xsync.NewMapOf[string, *unit](),
		events:   make(chan Event, buffer),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Events returns the channel every unit reports on. It is closed by Close.
func (p *Pool) Events() <-chan Event {
	return p.events
}

// Submit starts copying source into destDir on its own goroutine.
// A source that is already being copied is rejected with ErrAlreadyRunning.
func (p *Pool) Submit(ctx context.Context, source, destDir string) (*Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPoolClosed
	}

	var total int64

	info, err := p.sourceFS.Stat(source)
	if err == nil {
		total = info.Size()
	}

	unitCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(p.ctx, cancel)

	u := &unit{
		handle:  &Handle{Source: source, TotalBytes: total, done: make(chan struct{})},
		destDir: destDir,
		cancel: func() {
			stop()
			cancel()
		},
	}

	if _, loaded := p.units.LoadOrStore(source, u); loaded {
		u.cancel()

		return nil, fmt.Errorf("%s: %w", source, ErrAlreadyRunning)
	}

	p.wg.Add(1)

	go p.run(unitCtx, u)

	return u.handle, nil
}

// Cancel terminates the copy of source. It reports whether a copy was running.
func (p *Pool) Cancel(source string) bool {
	u, ok := p.units.Load(source)
	if ok {
		u.cancel()
	}

	return ok
}

// CancelAll terminates every running copy.
func (p *Pool) CancelAll() {
	p.units.Range(func(_ string, u *unit) bool {
		u.cancel()

		return true
	})
}

// Running returns the number of copies that have not finished.
func (p *Pool) Running() int {
	return p.units.Size()
}

// Close cancels outstanding copies, waits for them and closes the events channel.
// Terminal events still queued when Close is called may be discarded.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()

		p.cancel()
		p.wg.Wait()
		close(p.events)
	})
}

func (p *Pool) run(ctx context.Context, u *unit) {
	defer p.wg.Done()
	defer u.cancel()

	source := u.handle.Source

	hash, total, err := p.copyFile(ctx, u)
	if err == nil {
		p.logger.Debug().Str("source", source).Str("md5", hash).Msg("copy finished")
	} else {
		p.logger.Debug().Err(err).Str("source", source).Msg("copy failed")
	}

	u.handle.hash = hash
	u.handle.err = err

	p.units.Delete(source)

	if err != nil {
		p.deliver(Failure{Source: source, Err: err})
	} else {
		p.deliver(Success{Source: source, Hash: hash, TotalBytes: total})
	}

	close(u.handle.done)
}

// copyFile runs the copier and returns the hash and the number of bytes copied.
func (p *Pool) copyFile(ctx context.Context, u *unit) (string, int64, error) {
	source := u.handle.Source
	total := u.handle.TotalBytes

	if p.sem != nil {
		select {
		case p.sem <- struct{}{}:
			defer func() { <-p.sem }()
		case <-ctx.Done():
			return "", 0, &fileops.CopyError{
				Path: source,
				Kind: fileops.KindCancelled,
				Err:  fmt.Errorf("%w: %w", fileops.ErrCopyCancelled, ctx.Err()),
			}
		}
	}

	throttle := rate.Sometimes{Interval: p.interval}
	lastSent := int64(-1)

	hash, err := p.copier.Copy(ctx, source, u.destDir, func(bytesCopied int64) {
		if bytesCopied > total {
			total = bytesCopied
		}

		throttle.Do(func() {
			select {
			case p.events <- Progress{Source: source, BytesCopied: bytesCopied, TotalBytes: total}:
				lastSent = bytesCopied
			case <-ctx.Done():
			}
		})
	})
	if err != nil {
		return "", 0, err
	}

	if lastSent != total {
		p.deliver(Progress{Source: source, BytesCopied: total, TotalBytes: total})
	}

	return hash, total, nil
}

// deliver sends an event that must not be dropped while the pool is open.
func (p *Pool) deliver(ev Event) {
	select {
	case p.events <- ev:
	case <-p.ctx.Done():
		p.logger.Warn().Str("source", ev.SourcePath()).Msg("pool closed before event was delivered")
	}
}
