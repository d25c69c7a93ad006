package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gastos/internal/core"
)

type fakeIndexer struct {
	mu      sync.Mutex
	ids     []int64
	failIDs map[int64]bool
	block   chan struct{}
}

func (f *fakeIndexer) IndexExpense(ctx context.Context, rec core.ExpenseRecord) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failIDs[rec.ID] {
		return errors.New("embedding service down")
	}
	f.ids = append(f.ids, rec.ID)
	return nil
}

func TestIndexWorker_ProcessesInOrderAndDrainsOnClose(t *testing.T) {
	idx := &fakeIndexer{failIDs: map[int64]bool{2: true}}
	w := NewIndexWorker(idx, 8, time.Second)
	w.Start(context.Background())

	for id := int64(1); id <= 4; id++ {
		require.True(t, w.Enqueue(core.ExpenseRecord{ID: id}))
	}
	require.NoError(t, w.Close())

	assert.Equal(t, []int64{1, 3, 4}, idx.ids)
	indexed, failed := w.Stats()
	assert.Equal(t, int64(3), indexed)
	assert.Equal(t, int64(1), failed)

	assert.False(t, w.Enqueue(core.ExpenseRecord{ID: 5}), "closed worker must reject")
	require.NoError(t, w.Close(), "close is idempotent")
}

func TestIndexWorker_DropsWhenFull(t *testing.T) {
	idx := &fakeIndexer{block: make(chan struct{})}
	w := NewIndexWorker(idx, 1, time.Second)

	// Not started yet: the single slot fills up.
	require.True(t, w.Enqueue(core.ExpenseRecord{ID: 1}))
	assert.False(t, w.Enqueue(core.ExpenseRecord{ID: 2}))

	close(idx.block)
	require.NoError(t, w.Close())
	assert.Equal(t, []int64{1}, idx.ids)
}
