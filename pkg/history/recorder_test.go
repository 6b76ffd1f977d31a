package history

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureStore struct {
	mu      sync.Mutex
	batches [][]Entry
	err     error
}

func (c *captureStore) AppendBatch(_ context.Context, entries []Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	batch := make([]Entry, len(entries))
	copy(batch, entries)
	c.batches = append(c.batches, batch)
	return nil
}

func (c *captureStore) Recent(context.Context, string, int) ([]Entry, error) { return nil, nil }
func (c *captureStore) Clear(context.Context) error                          { return nil }
func (c *captureStore) Close() error                                         { return nil }

func (c *captureStore) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, b := range c.batches {
		n += len(b)
	}
	return n
}

func TestRecorder_FlushWritesQueuedEntries(t *testing.T) {
	store := &captureStore{}
	rec := NewRecorder(RecorderConfig{Store: store, FlushInterval: time.Hour})
	defer rec.Close()

	rec.Record(Entry{Command: "query", FullCommand: "one"})
	rec.Record(Entry{Command: "query", FullCommand: "two"})

	require.NoError(t, rec.Flush(context.Background()))
	assert.Equal(t, 2, store.total())
}

func TestRecorder_CloseDrains(t *testing.T) {
	store := &captureStore{}
	rec := NewRecorder(RecorderConfig{Store: store, FlushInterval: time.Hour})

	for i := 0; i < 10; i++ {
		rec.Record(Entry{Command: "query", FullCommand: "q"})
	}
	require.NoError(t, rec.Close())
	assert.Equal(t, 10, store.total())
}

func TestRecorder_BatchSizeTriggersWrite(t *testing.T) {
	store := &captureStore{}
	rec := NewRecorder(RecorderConfig{Store: store, BatchSize: 3, FlushInterval: time.Hour})
	defer rec.Close()

	for i := 0; i < 3; i++ {
		rec.Record(Entry{Command: "query", FullCommand: "q"})
	}

	assert.Eventually(t, func() bool { return store.total() == 3 },
		2*time.Second, 10*time.Millisecond)
}

func TestRecorder_RecordAfterCloseIsNoop(t *testing.T) {
	store := &captureStore{}
	rec := NewRecorder(RecorderConfig{Store: store})
	require.NoError(t, rec.Close())

	rec.Record(Entry{Command: "query", FullCommand: "late"})
	assert.Zero(t, store.total())
}

func TestRecorder_StoreFailureDoesNotPanic(t *testing.T) {
	store := &captureStore{err: errors.New("db down")}
	rec := NewRecorder(RecorderConfig{Store: store, FlushInterval: time.Hour})
	defer rec.Close()

	rec.Record(Entry{Command: "query", FullCommand: "q"})
	err := rec.Flush(context.Background())
	assert.Error(t, err)
}
