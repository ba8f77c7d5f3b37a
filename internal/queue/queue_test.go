package queue

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sciber-ai/audiosync/internal/sqldb"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func openTestQueue(t *testing.T) (*Queue, *clock) {
	t.Helper()
	ctx := context.Background()
	q, err := Open(ctx, sqldb.Options{
		Dialect: sqldb.SQLite,
		Path:    filepath.Join(t.TempDir(), "queue.db"),
	}, &Config{
		MaxAttempts: 3,
		BackoffBase: time.Second,
		BackoffMax:  4 * time.Second,
		Logger:      log.New(io.Discard, "", 0),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })

	c := &clock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	q.now = c.Now
	return q, c
}

func TestSubmitAndClaim(t *testing.T) {
	q, _ := openTestQueue(t)
	ctx := context.Background()

	id, err := q.Submit(ctx, "enqueue_add_file", Args{"filename": "a.mp3", "size": 42})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	job, err := q.Claim(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, id, job.ID)
	assert.Equal(t, "enqueue_add_file", job.Name)
	assert.Equal(t, StatusRunning, job.Status)
	assert.Equal(t, 1, job.Attempts)

	filename, err := job.Args.String("filename")
	require.NoError(t, err)
	assert.Equal(t, "a.mp3", filename)
	size, err := job.Args.Int64("size")
	require.NoError(t, err)
	assert.Equal(t, int64(42), size)

	_, err = q.Claim(ctx, "w2")
	assert.ErrorIs(t, err, ErrNoJob)

	require.NoError(t, q.Complete(ctx, id, "w1"))
	got, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, got.Status)
}

func TestSubmit_RejectsNonScalarArgs(t *testing.T) {
	q, _ := openTestQueue(t)

	_, err := q.Submit(context.Background(), "x", Args{"list": []string{"a"}})
	assert.Error(t, err)

	_, err = q.Submit(context.Background(), "", nil)
	assert.Error(t, err)
}

func TestClaim_OrderAndDelay(t *testing.T) {
	q, c := openTestQueue(t)
	ctx := context.Background()

	later, err := q.Submit(ctx, "later", nil, WithDelay(10*time.Second))
	require.NoError(t, err)
	c.Advance(time.Millisecond)
	first, err := q.Submit(ctx, "first", nil)
	require.NoError(t, err)
	c.Advance(time.Millisecond)
	second, err := q.Submit(ctx, "second", nil)
	require.NoError(t, err)

	job, err := q.Claim(ctx, "w")
	require.NoError(t, err)
	assert.Equal(t, first, job.ID)

	job, err = q.Claim(ctx, "w")
	require.NoError(t, err)
	assert.Equal(t, second, job.ID)

	_, err = q.Claim(ctx, "w")
	assert.ErrorIs(t, err, ErrNoJob)

	c.Advance(10 * time.Second)
	job, err = q.Claim(ctx, "w")
	require.NoError(t, err)
	assert.Equal(t, later, job.ID)
}

func TestClaim_Concurrent(t *testing.T) {
	q, _ := openTestQueue(t)
	ctx := context.Background()

	const n = 20
	for i := 0; i < n; i++ {
		_, err := q.Submit(ctx, "job", Args{"i": i})
		require.NoError(t, err)
	}

	var (
		mu      sync.Mutex
		claimed = make(map[string]int)
		wg      sync.WaitGroup
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := q.Claim(ctx, "w")
				if errors.Is(err, ErrNoJob) {
					return
				}
				if err != nil {
					t.Errorf("Claim() failed: %v", err)
					return
				}
				mu.Lock()
				claimed[job.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, claimed, n)
	for id, count := range claimed {
		assert.Equal(t, 1, count, "job %s claimed more than once", id)
	}
}

func TestFail_BackoffThenFailed(t *testing.T) {
	q, c := openTestQueue(t)
	ctx := context.Background()

	id, err := q.Submit(ctx, "flaky", nil)
	require.NoError(t, err)

	job, err := q.Claim(ctx, "w")
	require.NoError(t, err)
	retry, err := q.Fail(ctx, job.ID, "w", errors.New("boom"))
	require.NoError(t, err)
	assert.True(t, retry)

	got, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, "boom", got.LastError)
	assert.Equal(t, c.Now().Add(time.Second), got.RunAt)

	_, err = q.Claim(ctx, "w")
	assert.ErrorIs(t, err, ErrNoJob, "job must wait for its backoff")

	c.Advance(time.Second)
	_, err = q.Claim(ctx, "w")
	require.NoError(t, err)
	retry, err = q.Fail(ctx, id, "w", errors.New("boom"))
	require.NoError(t, err)
	assert.True(t, retry)

	got, err = q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, c.Now().Add(2*time.Second), got.RunAt)

	c.Advance(2 * time.Second)
	_, err = q.Claim(ctx, "w")
	require.NoError(t, err)
	retry, err = q.Fail(ctx, id, "w", errors.New("final"))
	require.NoError(t, err)
	assert.False(t, retry)

	got, err = q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, 3, got.Attempts)
	assert.Equal(t, "final", got.LastError)
}

func TestRetryAt_KeepsAttempts(t *testing.T) {
	q, c := openTestQueue(t)
	ctx := context.Background()

	id, err := q.Submit(ctx, "gated", nil, WithMaxAttempts(1))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		job, err := q.Claim(ctx, "w")
		require.NoError(t, err)
		require.NoError(t, q.RetryAt(ctx, job.ID, "w", c.Now().Add(30*time.Second), "low memory"))
		c.Advance(30 * time.Second)
	}

	got, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, 0, got.Attempts)
	assert.Equal(t, "low memory", got.LastError)
}

func TestRecoverStale(t *testing.T) {
	q, c := openTestQueue(t)
	ctx := context.Background()

	id, err := q.Submit(ctx, "crashy", nil)
	require.NoError(t, err)
	_, err = q.Claim(ctx, "dead-worker")
	require.NoError(t, err)

	n, err := q.RecoverStale(ctx, time.Minute)
	require.NoError(t, err)
	assert.Zero(t, n)

	c.Advance(2 * time.Minute)
	n, err = q.RecoverStale(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	job, err := q.Claim(ctx, "w")
	require.NoError(t, err)
	assert.Equal(t, id, job.ID)
	assert.Equal(t, 2, job.Attempts)
}

func TestSettle_RequiresCurrentClaim(t *testing.T) {
	q, c := openTestQueue(t)
	ctx := context.Background()

	id, err := q.Submit(ctx, "slow", nil)
	require.NoError(t, err)
	_, err = q.Claim(ctx, "first")
	require.NoError(t, err)

	c.Advance(2 * time.Minute)
	_, err = q.RecoverStale(ctx, time.Minute)
	require.NoError(t, err)
	_, err = q.Claim(ctx, "second")
	require.NoError(t, err)

	// The first worker finishes late; the job now belongs to the second.
	assert.ErrorIs(t, q.Complete(ctx, id, "first"), ErrLockLost)
	_, err = q.Fail(ctx, id, "first", errors.New("late"))
	assert.ErrorIs(t, err, ErrLockLost)
	assert.ErrorIs(t, q.RetryAt(ctx, id, "first", c.Now(), "late"), ErrLockLost)

	got, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Equal(t, "second", got.LockedBy)

	require.NoError(t, q.Complete(ctx, id, "second"))
	assert.ErrorIs(t, q.Complete(ctx, id, "second"), ErrLockLost, "a finished job cannot be settled twice")
	assert.ErrorIs(t, q.Complete(ctx, "missing", "second"), ErrJobNotFound)
}

func TestSubmit_Unique(t *testing.T) {
	q, _ := openTestQueue(t)
	ctx := context.Background()

	first, err := q.Submit(ctx, "sync", nil, Unique())
	require.NoError(t, err)
	again, err := q.Submit(ctx, "sync", nil, Unique())
	require.NoError(t, err)
	assert.Equal(t, first, again, "a pending job absorbs the duplicate")

	other, err := q.Submit(ctx, "sync", nil)
	require.NoError(t, err)
	assert.NotEqual(t, first, other, "plain submissions are never merged")

	_, err = q.Claim(ctx, "w")
	require.NoError(t, err)
	_, err = q.Claim(ctx, "w")
	require.NoError(t, err)

	// Nothing pending: a running sweep does not block the next one.
	fresh, err := q.Submit(ctx, "sync", nil, Unique())
	require.NoError(t, err)
	assert.NotEqual(t, first, fresh)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats[StatusPending])
	assert.Equal(t, 2, stats[StatusRunning])
}

func TestRedelivered(t *testing.T) {
	q, c := openTestQueue(t)
	ctx := context.Background()

	assert.False(t, Redelivered(ctx))

	_, err := q.Submit(ctx, "crashy", nil)
	require.NoError(t, err)
	job, err := q.Claim(ctx, "w")
	require.NoError(t, err)
	assert.False(t, Redelivered(WithDelivery(ctx, job)))

	c.Advance(time.Hour)
	_, err = q.RecoverStale(ctx, time.Minute)
	require.NoError(t, err)
	job, err = q.Claim(ctx, "w")
	require.NoError(t, err)

	jobCtx := WithDelivery(ctx, job)
	assert.True(t, Redelivered(jobCtx))
	got, ok := Delivery(jobCtx)
	require.True(t, ok)
	assert.Equal(t, job.ID, got.ID)
}

func TestRequeue(t *testing.T) {
	q, _ := openTestQueue(t)
	ctx := context.Background()

	id, err := q.Submit(ctx, "once", nil, WithMaxAttempts(1))
	require.NoError(t, err)

	assert.Error(t, q.Requeue(ctx, id), "pending job cannot be requeued")

	_, err = q.Claim(ctx, "w")
	require.NoError(t, err)
	retry, err := q.Fail(ctx, id, "w", errors.New("nope"))
	require.NoError(t, err)
	require.False(t, retry)

	require.NoError(t, q.Requeue(ctx, id))
	job, err := q.Claim(ctx, "w")
	require.NoError(t, err)
	assert.Equal(t, id, job.ID)
	assert.Equal(t, 1, job.Attempts)

	assert.ErrorIs(t, q.Requeue(ctx, "missing"), ErrJobNotFound)
}

func TestListPurgeStats(t *testing.T) {
	q, c := openTestQueue(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := q.Submit(ctx, "add", Args{"i": i})
		require.NoError(t, err)
		c.Advance(time.Millisecond)
	}
	_, err := q.Submit(ctx, "delete", nil)
	require.NoError(t, err)

	job, err := q.Claim(ctx, "w")
	require.NoError(t, err)
	require.NoError(t, q.Complete(ctx, job.ID, "w"))

	all, err := q.List(ctx, ListOptions{})
	require.NoError(t, err)
	assert.Len(t, all, 4)
	assert.Equal(t, "delete", all[0].Name, "newest first")

	adds, err := q.List(ctx, ListOptions{Name: "add", Status: StatusPending})
	require.NoError(t, err)
	assert.Len(t, adds, 2)

	limited, err := q.List(ctx, ListOptions{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats[StatusPending])
	assert.Equal(t, 1, stats[StatusDone])

	_, err = q.Purge(ctx, StatusPending, time.Time{})
	assert.Error(t, err)

	n, err := q.Purge(ctx, StatusDone, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	stats, err = q.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats[StatusDone])
}

func TestArgs(t *testing.T) {
	args, err := decodeArgs(`{"id": 7, "name": "x", "ratio": 1.5}`)
	require.NoError(t, err)

	id, err := args.Int64("id")
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)

	_, err = args.Int64("ratio")
	assert.Error(t, err)
	_, err = args.Int64("missing")
	assert.Error(t, err)
	_, err = args.String("id")
	assert.Error(t, err)
}
