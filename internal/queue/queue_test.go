package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastBackoff keeps retry delays negligible in tests.
func fastBackoff() Option {
	return WithBackoff(time.Millisecond, 4*time.Millisecond)
}

func testFiles(n int) []File {
	files := make([]File, n)
	for i := range files {
		files[i] = FileFromBytes(fmt.Sprintf("file-%d.bin", i), make([]byte, 1024))
	}
	return files
}

// waitSettled blocks until no task is pending, uploading or retrying.
func waitSettled(t *testing.T, q *Queue) {
	t.Helper()
	require.Eventually(t, func() bool {
		s := q.Stats()
		return s.Pending+s.Uploading+s.Retrying == 0
	}, 5*time.Second, 2*time.Millisecond)
}

func TestEnqueueCompletesAll(t *testing.T) {
	q := New(WithConcurrency(2))
	defer q.Close()

	var current, peak atomic.Int32
	fn := func(ctx context.Context, f File, progress func(int)) error {
		c := current.Add(1)
		defer current.Add(-1)
		for {
			p := peak.Load()
			if c <= p || peak.CompareAndSwap(p, c) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		progress(100)
		return nil
	}

	ids := q.Enqueue(testFiles(5), fn)
	require.Len(t, ids, 5)
	waitSettled(t, q)

	s := q.Stats()
	assert.Equal(t, 5, s.Completed)
	assert.Equal(t, 5, s.Total)
	assert.LessOrEqual(t, peak.Load(), int32(2), "concurrency ceiling exceeded")
}

func TestEnqueueNoop(t *testing.T) {
	q := New()
	defer q.Close()

	assert.Nil(t, q.Enqueue(nil, func(context.Context, File, func(int)) error { return nil }))
	assert.Nil(t, q.Enqueue(testFiles(1), nil))
	assert.Equal(t, 0, q.Stats().Total)
}

func TestRetryThenSucceed(t *testing.T) {
	q := New(WithMaxRetries(3), fastBackoff())
	defer q.Close()

	var attempts atomic.Int32
	fn := func(ctx context.Context, f File, progress func(int)) error {
		if attempts.Add(1) <= 3 {
			return errors.New("connection reset")
		}
		return nil
	}

	ids := q.Enqueue(testFiles(1), fn)
	waitSettled(t, q)

	task := q.Tasks()[0]
	assert.Equal(t, ids[0], task.ID)
	assert.Equal(t, StatusCompleted, task.Status)
	assert.Equal(t, 3, task.RetryCount)
	assert.Empty(t, task.Error)
	assert.Equal(t, 100, task.Progress)
	require.NotNil(t, task.CompletedAt)
}

func TestExhaustsRetries(t *testing.T) {
	q := New(WithMaxRetries(3), fastBackoff())
	defer q.Close()

	var attempts atomic.Int32
	fn := func(ctx context.Context, f File, progress func(int)) error {
		attempts.Add(1)
		return errors.New("always broken")
	}

	q.Enqueue(testFiles(1), fn)
	waitSettled(t, q)

	task := q.Tasks()[0]
	assert.Equal(t, StatusFailed, task.Status)
	assert.Equal(t, 3, task.RetryCount)
	assert.Equal(t, "always broken", task.Error)
	assert.Equal(t, int32(4), attempts.Load(), "initial attempt plus three retries")
	require.NotNil(t, task.CompletedAt)
}

func TestPermanentErrorSkipsRetry(t *testing.T) {
	q := New(WithMaxRetries(3), fastBackoff())
	defer q.Close()

	var attempts atomic.Int32
	fn := func(ctx context.Context, f File, progress func(int)) error {
		attempts.Add(1)
		return backoff.Permanent(errors.New("payload rejected"))
	}

	q.Enqueue(testFiles(1), fn)
	waitSettled(t, q)

	task := q.Tasks()[0]
	assert.Equal(t, StatusFailed, task.Status)
	assert.Equal(t, 0, task.RetryCount)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestCancelPendingNeverUploads(t *testing.T) {
	q := New(WithConcurrency(1))
	defer q.Close()

	release := make(chan struct{})
	var started atomic.Int32
	fn := func(ctx context.Context, f File, progress func(int)) error {
		started.Add(1)
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	ids := q.Enqueue(testFiles(3), fn)

	// First task holds the only slot; the second is still pending.
	require.Eventually(t, func() bool { return started.Load() == 1 }, time.Second, time.Millisecond)
	q.Cancel(ids[1])
	close(release)
	waitSettled(t, q)

	tasks := q.Tasks()
	assert.Equal(t, StatusCompleted, tasks[0].Status)
	assert.Equal(t, StatusCancelled, tasks[1].Status)
	assert.Equal(t, StatusCompleted, tasks[2].Status)
	assert.Equal(t, int32(2), started.Load(), "cancelled task must never start")
	assert.Nil(t, tasks[1].StartedAt)
}

func TestCancelInFlightFreesSlot(t *testing.T) {
	q := New(WithConcurrency(1))
	defer q.Close()

	var started atomic.Int32
	fn := func(ctx context.Context, f File, progress func(int)) error {
		started.Add(1)
		<-ctx.Done()
		return ctx.Err()
	}
	fnInstant := func(ctx context.Context, f File, progress func(int)) error { return nil }

	first := q.Enqueue(testFiles(1), fn)
	require.Eventually(t, func() bool { return started.Load() == 1 }, time.Second, time.Millisecond)
	second := q.Enqueue(testFiles(1), fnInstant)

	q.Cancel(first[0])
	waitSettled(t, q)

	tasks := q.Tasks()
	require.Len(t, tasks, 2)
	assert.Equal(t, first[0], tasks[0].ID)
	assert.Equal(t, StatusCancelled, tasks[0].Status)
	assert.Equal(t, second[0], tasks[1].ID)
	assert.Equal(t, StatusCompleted, tasks[1].Status)
}

func TestLateResultAfterCancelIgnored(t *testing.T) {
	q := New()
	defer q.Close()

	entered := make(chan struct{})
	release := make(chan struct{})
	fn := func(ctx context.Context, f File, progress func(int)) error {
		close(entered)
		<-release
		return nil // "succeeds" even though it was cancelled
	}

	ids := q.Enqueue(testFiles(1), fn)
	<-entered
	q.Cancel(ids[0])
	close(release)

	// Give the late completion a chance to land, then check it was dropped.
	time.Sleep(20 * time.Millisecond)
	task := q.Tasks()[0]
	assert.Equal(t, StatusCancelled, task.Status)
	assert.Equal(t, 0, q.Stats().Completed)
}

func TestCancelRetryingStopsTimer(t *testing.T) {
	q := New(WithMaxRetries(3), WithBackoff(50*time.Millisecond, 100*time.Millisecond))
	defer q.Close()

	var attempts atomic.Int32
	fn := func(ctx context.Context, f File, progress func(int)) error {
		attempts.Add(1)
		return errors.New("flaky")
	}

	ids := q.Enqueue(testFiles(1), fn)
	require.Eventually(t, func() bool {
		return q.Tasks()[0].Status == StatusRetrying
	}, time.Second, time.Millisecond)

	q.Cancel(ids[0])
	time.Sleep(150 * time.Millisecond) // past the backoff delay

	assert.Equal(t, StatusCancelled, q.Tasks()[0].Status)
	assert.Equal(t, int32(1), attempts.Load(), "retry must not fire after cancel")
}

func TestRetryingHoldsNoSlot(t *testing.T) {
	q := New(WithConcurrency(1), WithMaxRetries(1), WithBackoff(100*time.Millisecond, 200*time.Millisecond))
	defer q.Close()

	var firstAttempts atomic.Int32
	flaky := func(ctx context.Context, f File, progress func(int)) error {
		if firstAttempts.Add(1) == 1 {
			return errors.New("blip")
		}
		return nil
	}
	instant := func(ctx context.Context, f File, progress func(int)) error { return nil }

	q.Enqueue(testFiles(1), flaky)
	second := q.Enqueue(testFiles(1), instant)

	// While the first task waits out its backoff, the second must run.
	require.Eventually(t, func() bool {
		for _, task := range q.Tasks() {
			if task.ID == second[0] {
				return task.Status == StatusCompleted
			}
		}
		return false
	}, time.Second, time.Millisecond)

	waitSettled(t, q)
	assert.Equal(t, 2, q.Stats().Completed)
}

func TestClearCompleted(t *testing.T) {
	q := New(fastBackoff())
	defer q.Close()

	ok := func(ctx context.Context, f File, progress func(int)) error { return nil }
	bad := func(ctx context.Context, f File, progress func(int)) error {
		return backoff.Permanent(errors.New("no"))
	}

	q.Enqueue(testFiles(2), ok)
	failIDs := q.Enqueue(testFiles(1), bad)
	waitSettled(t, q)

	q.ClearCompleted()

	tasks := q.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, failIDs[0], tasks[0].ID)
	assert.Equal(t, StatusFailed, tasks[0].Status)

	// No completed tasks left: a second clear mutates nothing.
	var notified atomic.Int32
	defer q.Subscribe(func([]Task) { notified.Add(1) })()
	q.ClearCompleted()
	assert.Equal(t, int32(0), notified.Load())
}

func TestRetryResetsFailedTask(t *testing.T) {
	q := New(WithMaxRetries(1), fastBackoff())
	defer q.Close()

	var fail atomic.Bool
	fail.Store(true)
	fn := func(ctx context.Context, f File, progress func(int)) error {
		if fail.Load() {
			return errors.New("server down")
		}
		return nil
	}

	ids := q.Enqueue(testFiles(1), fn)
	waitSettled(t, q)
	require.Equal(t, StatusFailed, q.Tasks()[0].Status)

	fail.Store(false)
	q.Retry(ids[0])
	waitSettled(t, q)

	task := q.Tasks()[0]
	assert.Equal(t, StatusCompleted, task.Status)
	assert.Equal(t, 0, task.RetryCount)
	assert.Empty(t, task.Error)
}

func TestRetryOnNonFailedIsNoop(t *testing.T) {
	q := New()
	defer q.Close()

	block := make(chan struct{})
	defer close(block)
	fn := func(ctx context.Context, f File, progress func(int)) error {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return nil
	}

	ids := q.Enqueue(testFiles(2), fn)
	require.Eventually(t, func() bool {
		return q.Stats().Uploading == 2
	}, time.Second, time.Millisecond)

	before := q.Tasks()
	q.Retry(ids[0])
	q.Retry("no-such-id")
	after := q.Tasks()

	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].Status, after[i].Status)
		assert.Equal(t, before[i].RetryCount, after[i].RetryCount)
	}
}

func TestRemoveActiveCancelsFirst(t *testing.T) {
	q := New()
	defer q.Close()

	started := make(chan struct{})
	cancelled := make(chan struct{})
	fn := func(ctx context.Context, f File, progress func(int)) error {
		close(started)
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	}

	ids := q.Enqueue(testFiles(1), fn)
	<-started
	q.Remove(ids[0])

	assert.Equal(t, 0, q.Stats().Total)
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("transport was not signalled to abort")
	}
}

func TestSetConcurrencyAdmitsWaiting(t *testing.T) {
	q := New(WithConcurrency(1))
	defer q.Close()

	block := make(chan struct{})
	fn := func(ctx context.Context, f File, progress func(int)) error {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return nil
	}

	q.Enqueue(testFiles(3), fn)
	require.Eventually(t, func() bool { return q.Stats().Uploading == 1 }, time.Second, time.Millisecond)

	q.SetConcurrency(3)
	require.Eventually(t, func() bool { return q.Stats().Uploading == 3 }, time.Second, time.Millisecond)

	close(block)
	waitSettled(t, q)
}

func TestSetConcurrencyFloor(t *testing.T) {
	q := New()
	defer q.Close()

	q.SetConcurrency(0)
	assert.Equal(t, 1, q.Concurrency())
	q.SetConcurrency(-5)
	assert.Equal(t, 1, q.Concurrency())
}

func TestSubscribeOrderAndUnsubscribe(t *testing.T) {
	q := New()
	defer q.Close()

	var mu sync.Mutex
	var order []string
	unsubA := q.Subscribe(func([]Task) {
		mu.Lock()
		order = append(order, "a")
		mu.Unlock()
	})
	defer q.Subscribe(func([]Task) {
		mu.Lock()
		order = append(order, "b")
		mu.Unlock()
	})()

	fn := func(ctx context.Context, f File, progress func(int)) error { return nil }
	q.Enqueue(testFiles(1), fn)
	waitSettled(t, q)
	time.Sleep(10 * time.Millisecond) // let in-flight notifications land

	mu.Lock()
	require.GreaterOrEqual(t, len(order), 2)
	assert.Equal(t, []string{"a", "b"}, order[:2], "registration order")
	seen := len(order)
	mu.Unlock()

	unsubA()
	q.Enqueue(testFiles(1), fn)
	waitSettled(t, q)
	time.Sleep(10 * time.Millisecond)

	mu.Lock()
	for _, who := range order[seen:] {
		assert.Equal(t, "b", who, "unsubscribed listener must not fire")
	}
	mu.Unlock()
}

func TestProgressMonotonePerAttempt(t *testing.T) {
	q := New()
	defer q.Close()

	var observed []int
	var mu sync.Mutex
	defer q.Subscribe(func(tasks []Task) {
		mu.Lock()
		observed = append(observed, tasks[0].Progress)
		mu.Unlock()
	})()

	start := make(chan struct{})
	fn := func(ctx context.Context, f File, progress func(int)) error {
		<-start // keep the enqueue notification strictly first
		progress(50)
		progress(30) // transport misbehaving, must be dropped
		progress(80)
		return nil
	}

	q.Enqueue(testFiles(1), fn)
	close(start)
	waitSettled(t, q)

	mu.Lock()
	defer mu.Unlock()
	last := 0
	for _, p := range observed {
		assert.GreaterOrEqual(t, p, last, "progress went backwards")
		last = p
	}
	assert.Equal(t, 100, last)
}

func TestAttemptTimeout(t *testing.T) {
	q := New(WithAttemptTimeout(20*time.Millisecond), WithMaxRetries(0))
	defer q.Close()

	fn := func(ctx context.Context, f File, progress func(int)) error {
		<-ctx.Done() // hangs until the per-attempt timeout fires
		return ctx.Err()
	}

	q.Enqueue(testFiles(1), fn)
	waitSettled(t, q)

	task := q.Tasks()[0]
	assert.Equal(t, StatusFailed, task.Status)
	assert.NotEmpty(t, task.Error)
}

func TestCloseCancelsEverything(t *testing.T) {
	q := New(WithConcurrency(1))

	fn := func(ctx context.Context, f File, progress func(int)) error {
		<-ctx.Done()
		return ctx.Err()
	}

	q.Enqueue(testFiles(3), fn)
	q.Close()

	for _, task := range q.Tasks() {
		assert.Equal(t, StatusCancelled, task.Status)
	}
	assert.Nil(t, q.Enqueue(testFiles(1), fn), "closed queue rejects enqueues")
	q.Close() // idempotent
}

func TestStatsCounts(t *testing.T) {
	q := New(WithConcurrency(1))
	defer q.Close()

	block := make(chan struct{})
	defer close(block)
	fn := func(ctx context.Context, f File, progress func(int)) error {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return nil
	}

	ids := q.Enqueue(testFiles(3), fn)
	require.Eventually(t, func() bool { return q.Stats().Uploading == 1 }, time.Second, time.Millisecond)
	q.Cancel(ids[2])

	s := q.Stats()
	assert.Equal(t, 1, s.Uploading)
	assert.Equal(t, 1, s.Pending)
	assert.Equal(t, 1, s.Cancelled)
	assert.Equal(t, 3, s.Total)
}

func TestNetworkStatsObservesCompletions(t *testing.T) {
	q := New()
	defer q.Close()

	fn := func(ctx context.Context, f File, progress func(int)) error {
		time.Sleep(5 * time.Millisecond)
		return nil
	}

	q.Enqueue(testFiles(3), fn)
	waitSettled(t, q)

	stats := q.NetworkStats()
	assert.Equal(t, 3, stats.SampleCount)
	assert.Greater(t, stats.EstimatedSpeed, 0.0)
	assert.GreaterOrEqual(t, stats.RecommendedConcurrency, 1)
}
