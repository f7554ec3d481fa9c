package store_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrsandeep/citefetch/internal/models"
	"github.com/vrsandeep/citefetch/internal/store"
	"github.com/vrsandeep/citefetch/internal/testutil"
)

// steppingClock returns a clock that advances one millisecond per call so
// created_at ordering is deterministic.
func steppingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Millisecond)
		return t
	}
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	return store.New(testutil.SetupTestDB(t), store.WithClock(steppingClock()))
}

func TestEnqueue(t *testing.T) {
	ctx := context.Background()

	t.Run("distinct urls get distinct ids", func(t *testing.T) {
		s := newTestStore(t)
		id1, err := s.Enqueue(ctx, "https://example.org/a.pdf")
		require.NoError(t, err)
		id2, err := s.Enqueue(ctx, "https://example.org/b.pdf")
		require.NoError(t, err)
		assert.NotEqual(t, id1, id2)

		n, err := s.CountAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("duplicate active url is a no-op", func(t *testing.T) {
		s := newTestStore(t)
		id1, err := s.Enqueue(ctx, "https://Example.org/a.pdf#page=2")
		require.NoError(t, err)
		id2, err := s.Enqueue(ctx, "https://example.org:443/a.pdf")
		assert.ErrorIs(t, err, store.ErrAlreadyQueued)
		assert.Equal(t, id1, id2)

		n, err := s.CountAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("in-progress url still counts as active", func(t *testing.T) {
		s := newTestStore(t)
		id1, err := s.Enqueue(ctx, "https://example.org/a.pdf")
		require.NoError(t, err)
		_, err = s.Dequeue(ctx)
		require.NoError(t, err)

		id2, err := s.Enqueue(ctx, "https://example.org/a.pdf")
		assert.ErrorIs(t, err, store.ErrAlreadyQueued)
		assert.Equal(t, id1, id2)
	})

	t.Run("finished url can be queued again", func(t *testing.T) {
		s := newTestStore(t)
		id1, err := s.Enqueue(ctx, "https://example.org/a.pdf")
		require.NoError(t, err)
		item, err := s.Dequeue(ctx)
		require.NoError(t, err)
		require.NoError(t, s.MarkCompleted(ctx, item.ID, "/tmp/a.pdf", item.Metadata))

		id2, err := s.Enqueue(ctx, "https://example.org/a.pdf")
		require.NoError(t, err)
		assert.Greater(t, id2, id1)
	})

	t.Run("invalid url is rejected", func(t *testing.T) {
		s := newTestStore(t)
		_, err := s.Enqueue(ctx, "ftp://example.org/a.pdf")
		assert.Error(t, err)
		_, err = s.Enqueue(ctx, "   ")
		assert.Error(t, err)
	})

	t.Run("metadata round trips", func(t *testing.T) {
		s := newTestStore(t)
		year := 2021
		meta := models.ItemMetadata{Title: "Attention", Authors: []string{"A", "B"}, Year: &year, DOI: "10.1/x"}
		id, err := s.EnqueueWithMetadata(ctx, "https://example.org/p.pdf", models.SourceDOI, meta)
		require.NoError(t, err)

		item, err := s.GetQueueItem(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.SourceDOI, item.SourceType)
		assert.Equal(t, meta, item.Metadata)
		assert.Equal(t, models.StatusPending, item.Status)
		assert.False(t, item.CreatedAt.IsZero())
	})
}

func TestHasActiveURL(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Enqueue(ctx, "https://example.org/a.pdf?utm_source=x")
	require.NoError(t, err)

	ok, err := s.HasActiveURL(ctx, "https://example.org/a.pdf")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.HasActiveURL(ctx, "https://example.org/b.pdf")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDequeueOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	low, err := s.Enqueue(ctx, "https://example.org/1")
	require.NoError(t, err)
	high, err := s.EnqueueWithPriority(ctx, "https://example.org/2", models.SourceDirectURL, models.ItemMetadata{}, 5)
	require.NoError(t, err)
	low2, err := s.Enqueue(ctx, "https://example.org/3")
	require.NoError(t, err)

	var got []int64
	for {
		item, err := s.Dequeue(ctx)
		require.NoError(t, err)
		if item == nil {
			break
		}
		assert.Equal(t, models.StatusInProgress, item.Status)
		assert.Equal(t, 1, item.ClaimCount)
		got = append(got, item.ID)
	}
	assert.Equal(t, []int64{high, low, low2}, got)
}

func TestDequeueEmpty(t *testing.T) {
	s := newTestStore(t)
	item, err := s.Dequeue(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, item)
}

func TestConcurrentDequeueClaimsEachRowOnce(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	const total = 40
	for i := range total {
		_, err := s.Enqueue(ctx, fmt.Sprintf("https://example.org/doc/%d", i))
		require.NoError(t, err)
	}

	var (
		mu      sync.Mutex
		claimed = map[int64]int{}
		wg      sync.WaitGroup
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				item, err := s.Dequeue(ctx)
				if !assert.NoError(t, err) || item == nil {
					return
				}
				mu.Lock()
				claimed[item.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, claimed, total)
	for id, n := range claimed {
		assert.Equal(t, 1, n, "row %d claimed %d times", id, n)
	}
}

func TestMarkTransitionsAreIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Enqueue(ctx, "https://example.org/a.pdf")
	require.NoError(t, err)
	item, err := s.Dequeue(ctx)
	require.NoError(t, err)

	require.NoError(t, s.MarkFailed(ctx, item.ID, "HTTP 404", 2))
	// A late completion must not resurrect a failed row.
	require.NoError(t, s.MarkCompleted(ctx, item.ID, "/tmp/a.pdf", item.Metadata))
	require.NoError(t, s.MarkFailed(ctx, item.ID, "again", 9))

	got, err := s.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	require.NotNil(t, got.LastError)
	assert.Equal(t, "HTTP 404", *got.LastError)
	assert.Equal(t, 2, got.RetryCount)
	assert.Nil(t, got.SavedPath)

	// A failed row is never handed out again.
	next, err := s.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestMarkUnknownID(t *testing.T) {
	s := newTestStore(t)
	err := s.MarkCompleted(context.Background(), 999, "/x", models.ItemMetadata{})
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestMarkCompletedStoresPathAndMetadata(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Enqueue(ctx, "https://example.org/a.pdf")
	require.NoError(t, err)
	item, err := s.Dequeue(ctx)
	require.NoError(t, err)

	meta := models.ItemMetadata{Title: "Found later"}
	require.NoError(t, s.MarkCompleted(ctx, item.ID, "/out/a.pdf", meta))

	got, err := s.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	require.NotNil(t, got.SavedPath)
	assert.Equal(t, "/out/a.pdf", *got.SavedPath)
	assert.Equal(t, "Found later", got.Metadata.Title)
}

func TestUpdateProgressAndRelease(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Enqueue(ctx, "https://example.org/a.pdf")
	require.NoError(t, err)
	item, err := s.Dequeue(ctx)
	require.NoError(t, err)

	length := int64(1000)
	require.NoError(t, s.UpdateProgress(ctx, item.ID, 400, &length))
	require.NoError(t, s.UpdateProgress(ctx, item.ID, 600, nil))
	require.NoError(t, s.Release(ctx, item.ID))

	got, err := s.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, int64(600), got.BytesDownloaded)
	require.NotNil(t, got.ContentLength)
	assert.Equal(t, int64(1000), *got.ContentLength)

	again, err := s.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, 2, again.ClaimCount)
}

func TestResetInProgress(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, u := range []string{"https://a.org/1", "https://a.org/2", "https://a.org/3"} {
		_, err := s.Enqueue(ctx, u)
		require.NoError(t, err)
	}
	for range 2 {
		item, err := s.Dequeue(ctx)
		require.NoError(t, err)
		require.NotNil(t, item)
	}

	n, err := s.ResetInProgress(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, counts[models.StatusPending])
	assert.Equal(t, 0, counts[models.StatusInProgress])

	n, err = s.ResetInProgress(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRetryFailed(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	fail := func(u string) int64 {
		_, err := s.Enqueue(ctx, u)
		require.NoError(t, err)
		item, err := s.Dequeue(ctx)
		require.NoError(t, err)
		require.NoError(t, s.MarkFailed(ctx, item.ID, "boom", 3))
		return item.ID
	}
	fail("https://a.org/1")
	newest := fail("https://a.org/1")
	fail("https://a.org/2")
	// An active row for /2 blocks reviving the failed one.
	_, err := s.Enqueue(ctx, "https://a.org/2")
	require.NoError(t, err)

	n, err := s.RetryFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := s.GetQueueItem(ctx, newest)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Zero(t, got.RetryCount)
	assert.Nil(t, got.LastError)
}

func TestDeleteCompleted(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Enqueue(ctx, "https://a.org/1")
	require.NoError(t, err)
	_, err = s.Enqueue(ctx, "https://a.org/2")
	require.NoError(t, err)
	item, err := s.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, s.MarkCompleted(ctx, item.ID, "/x", item.Metadata))

	n, err := s.DeleteCompleted(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	total, err := s.CountAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestRecordSkipped(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.RecordSkipped(ctx, "Smith et al. (2020) Some paper", "", models.ItemMetadata{}, "no resolver")
	require.NoError(t, err)

	item, err := s.GetQueueItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSkipped, item.Status)
	require.NotNil(t, item.LastError)
	assert.Equal(t, "no resolver", *item.LastError)

	// Skipped rows are never dequeued.
	next, err := s.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestListAndCount(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, u := range []string{"https://a.org/1", "https://a.org/2", "https://a.org/3"} {
		_, err := s.Enqueue(ctx, u)
		require.NoError(t, err)
	}
	_, err := s.Dequeue(ctx)
	require.NoError(t, err)

	pending, err := s.ListByStatus(ctx, models.StatusPending, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	all, err := s.ListByStatus(ctx, "", 2)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[models.QueueStatus]int{
		models.StatusPending:    2,
		models.StatusInProgress: 1,
		models.StatusCompleted:  0,
		models.StatusFailed:     0,
		models.StatusSkipped:    0,
	}, counts)

	_, err = s.GetQueueItem(ctx, 12345)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
