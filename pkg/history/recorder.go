package history

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"
)

// Recorder queues entries and writes them to a Store in batches from a
// background goroutine, so recording never blocks command execution.
type Recorder struct {
	store        Store
	entryChan    chan Entry
	flushChan    chan chan error
	flushTicker  *time.Ticker
	batchSize    int
	flushTimeout time.Duration
	wg           sync.WaitGroup
	done         chan struct{}
	mu           sync.Mutex
	closed       bool
}

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	// Store is the backend for persisting entries.
	Store Store
	// BufferSize is the channel capacity (default: 256).
	BufferSize int
	// BatchSize is the max entries per batch write (default: 32).
	BatchSize int
	// FlushInterval is how often to flush buffered entries (default: 2s).
	FlushInterval time.Duration
}

// NewRecorder creates a recorder and starts its background writer.
func NewRecorder(cfg RecorderConfig) *Recorder {
	if cfg.Store == nil {
		panic("history: Recorder requires a non-nil Store")
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}

	r := &Recorder{
		store:        cfg.Store,
		entryChan:    make(chan Entry, cfg.BufferSize),
		flushChan:    make(chan chan error),
		flushTicker:  time.NewTicker(cfg.FlushInterval),
		batchSize:    cfg.BatchSize,
		flushTimeout: 5 * time.Second,
		done:         make(chan struct{}),
	}

	r.wg.Add(1)
	go r.run()

	return r
}

// Record queues one entry. If the buffer is full the entry is dropped and
// a warning goes to stderr; history loss must never fail a command.
func (r *Recorder) Record(entry Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	select {
	case r.entryChan <- entry:
	default:
		fmt.Fprintf(os.Stderr, "[history] buffer full, dropping entry: %s\n", entry.FullCommand)
	}
}

// Flush blocks until all queued entries are written.
func (r *Recorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	errChan := make(chan error, 1)
	select {
	case r.flushChan <- errChan:
		select {
		case err := <-errChan:
			return err
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.flushTimeout):
			return fmt.Errorf("flush timeout after %v", r.flushTimeout)
		}
	case <-time.After(100 * time.Millisecond):
		// Writer is busy; it will pick up the queued entries on its own.
		return nil
	}
}

// Close drains the queue and shuts the recorder down.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	close(r.done)
	r.flushTicker.Stop()
	r.wg.Wait()
	return nil
}

// run is the background goroutine that batches and writes entries.
func (r *Recorder) run() {
	defer r.wg.Done()

	batch := make([]Entry, 0, r.batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), r.flushTimeout)
		defer cancel()

		err := r.store.AppendBatch(ctx, batch)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[history] failed to write batch of %d entries: %v\n", len(batch), err)
		}
		batch = batch[:0]
		return err
	}

	drain := func() {
		for {
			select {
			case entry := <-r.entryChan:
				batch = append(batch, entry)
				if len(batch) >= r.batchSize {
					flush()
				}
			default:
				flush()
				return
			}
		}
	}

	for {
		select {
		case entry := <-r.entryChan:
			batch = append(batch, entry)
			if len(batch) >= r.batchSize {
				flush()
			}

		case <-r.flushTicker.C:
			flush()

		case errChan := <-r.flushChan:
			// Pull in whatever is queued before reporting.
			queued := true
			for queued {
				select {
				case entry := <-r.entryChan:
					batch = append(batch, entry)
				default:
					queued = false
				}
			}
			errChan <- flush()

		case <-r.done:
			drain()
			return
		}
	}
}
