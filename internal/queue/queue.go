// Package queue implements the upload queue manager: a bounded-concurrency
// scheduler over injected transfer functions, with automatic retry,
// cooperative cancellation and an observable task list.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/labhub/uploadq/internal/netmon"
	"github.com/labhub/uploadq/internal/utils"
)

// Listener receives a snapshot of the full task list after every state
// mutation. Listeners run on the goroutine that performed the mutation and
// may call back into the queue.
type Listener func(tasks []Task)

// Stats is a per-status count of the tasks currently in the queue.
type Stats struct {
	Pending   int
	Uploading int
	Retrying  int
	Completed int
	Failed    int
	Cancelled int
	Total     int
}

type subscriber struct {
	id int
	fn Listener
}

// Queue owns the authoritative task collection. All mutation goes through
// its methods; admission, retry timers and completion handlers funnel back
// through the same mutex, so at no point do more than `concurrency` tasks
// sit in StatusUploading.
type Queue struct {
	mu             sync.Mutex
	tasks          []*Task
	concurrency    int
	maxRetries     int
	backoffBase    time.Duration
	backoffCap     time.Duration
	attemptTimeout time.Duration
	monitorWindow  int
	subs           []subscriber
	nextSubID      int
	monitor        *netmon.Monitor
	closed         bool
}

// New constructs an empty queue. The zero configuration allows three
// simultaneous uploads and three retries with 1s..10s exponential backoff.
func New(opts ...Option) *Queue {
	q := &Queue{
		concurrency: DefaultConcurrency,
		maxRetries:  DefaultMaxRetries,
		backoffBase: DefaultBackoffBase,
		backoffCap:  DefaultBackoffCap,
	}
	for _, opt := range opts {
		opt(q)
	}
	q.monitor = netmon.New(q.monitorWindow)
	return q
}

// Enqueue creates one pending task per file and starts as many as the
// concurrency limit allows. It returns the assigned task IDs in input order.
// An empty file list, a nil transport or a closed queue is a no-op.
func (q *Queue) Enqueue(files []File, fn UploadFunc) []string {
	if len(files) == 0 || fn == nil {
		return nil
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	ids := make([]string, 0, len(files))
	for _, f := range files {
		t := &Task{
			ID:     uuid.NewString(),
			File:   f,
			Status: StatusPending,
			fn:     fn,
		}
		q.tasks = append(q.tasks, t)
		ids = append(ids, t.ID)
	}
	q.scheduleLocked()
	snap := q.snapshotLocked()
	q.mu.Unlock()

	q.notify(snap)
	return ids
}

// Cancel aborts a task. An in-flight transfer is signalled through its
// context; the slot is released immediately without waiting for the
// transport to acknowledge. Terminal or unknown tasks are a no-op.
func (q *Queue) Cancel(id string) {
	q.mu.Lock()
	t := q.findLocked(id)
	if t == nil || t.Status.Terminal() {
		q.mu.Unlock()
		return
	}
	q.cancelLocked(t)
	q.scheduleLocked()
	snap := q.snapshotLocked()
	q.mu.Unlock()

	q.notify(snap)
}

// Remove deletes a task from the collection. An active task is cancelled
// first. Unknown IDs are a no-op.
func (q *Queue) Remove(id string) {
	q.mu.Lock()
	t := q.findLocked(id)
	if t == nil {
		q.mu.Unlock()
		return
	}
	if !t.Status.Terminal() {
		q.cancelLocked(t)
	}
	for i, other := range q.tasks {
		if other.ID == id {
			q.tasks = append(q.tasks[:i], q.tasks[i+1:]...)
			break
		}
	}
	q.scheduleLocked()
	snap := q.snapshotLocked()
	q.mu.Unlock()

	q.notify(snap)
}

// Retry re-queues a failed task from scratch: retry count, progress and
// error are reset and the task competes for a slot as pending again. Calling
// it on a task in any other state is a documented no-op, so the UI can call
// it defensively.
func (q *Queue) Retry(id string) {
	q.mu.Lock()
	t := q.findLocked(id)
	if t == nil || t.Status != StatusFailed || q.closed {
		q.mu.Unlock()
		return
	}
	t.Status = StatusPending
	t.RetryCount = 0
	t.Progress = 0
	t.Error = ""
	t.CompletedAt = nil
	t.delays = nil
	q.scheduleLocked()
	snap := q.snapshotLocked()
	q.mu.Unlock()

	q.notify(snap)
}

// ClearCompleted removes every completed task, preserving the order of the
// rest. Failed and cancelled tasks stay until removed explicitly.
func (q *Queue) ClearCompleted() {
	q.mu.Lock()
	kept := q.tasks[:0]
	removed := 0
	for _, t := range q.tasks {
		if t.Status == StatusCompleted {
			removed++
			continue
		}
		kept = append(kept, t)
	}
	q.tasks = kept
	if removed == 0 {
		q.mu.Unlock()
		return
	}
	snap := q.snapshotLocked()
	q.mu.Unlock()

	q.notify(snap)
}

// SetConcurrency changes the ceiling on simultaneous uploads. Values below 1
// are clamped to 1. Raising it admits waiting tasks immediately; lowering it
// never pre-empts transfers already in flight.
func (q *Queue) SetConcurrency(n int) {
	if n < 1 {
		n = 1
	}
	q.mu.Lock()
	q.concurrency = n
	admitted := q.scheduleLocked()
	var snap []Task
	if admitted > 0 {
		snap = q.snapshotLocked()
	}
	q.mu.Unlock()

	if admitted > 0 {
		q.notify(snap)
	}
}

// Concurrency returns the current upload ceiling.
func (q *Queue) Concurrency() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.concurrency
}

// Subscribe registers a listener and returns the function that removes it.
// Listeners are notified in registration order.
func (q *Queue) Subscribe(fn Listener) (unsubscribe func()) {
	q.mu.Lock()
	id := q.nextSubID
	q.nextSubID++
	q.subs = append(q.subs, subscriber{id: id, fn: fn})
	q.mu.Unlock()

	return func() {
		q.mu.Lock()
		for i, s := range q.subs {
			if s.id == id {
				q.subs = append(q.subs[:i], q.subs[i+1:]...)
				break
			}
		}
		q.mu.Unlock()
	}
}

// Tasks returns a snapshot of the task list in enqueue order.
func (q *Queue) Tasks() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

// Stats counts tasks per status. Computed on demand, consistent with the
// last mutation.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := Stats{Total: len(q.tasks)}
	for _, t := range q.tasks {
		switch t.Status {
		case StatusPending:
			s.Pending++
		case StatusUploading:
			s.Uploading++
		case StatusRetrying:
			s.Retrying++
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		case StatusCancelled:
			s.Cancelled++
		}
	}
	return s
}

// NetworkStats reports the monitor's current throughput estimate and its
// advisory concurrency recommendation. The recommendation is never applied
// automatically; callers opt in via SetConcurrency.
func (q *Queue) NetworkStats() netmon.Stats {
	return q.monitor.Stats()
}

// Close cancels every non-terminal task, stops retry timers and rejects
// further enqueues. Safe to call more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	changed := false
	for _, t := range q.tasks {
		if !t.Status.Terminal() {
			q.cancelLocked(t)
			changed = true
		}
	}
	var snap []Task
	if changed {
		snap = q.snapshotLocked()
	}
	q.mu.Unlock()

	if changed {
		q.notify(snap)
	}
}

// ---- internals, all *Locked methods require q.mu held ----

func (q *Queue) findLocked(id string) *Task {
	for _, t := range q.tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func (q *Queue) snapshotLocked() []Task {
	out := make([]Task, len(q.tasks))
	for i, t := range q.tasks {
		out[i] = t.snapshot()
	}
	return out
}

// cancelLocked moves a non-terminal task to cancelled, aborting the
// transport and stopping any pending retry timer.
func (q *Queue) cancelLocked(t *Task) {
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	if t.retryTimer != nil {
		t.retryTimer.Stop()
		t.retryTimer = nil
	}
	t.Status = StatusCancelled
	now := time.Now()
	t.CompletedAt = &now
	utils.Debug("task %s cancelled", t.ID)
}

// scheduleLocked is the admission pass: while a slot is free, start the
// earliest-enqueued pending task. Returns the number of tasks admitted.
func (q *Queue) scheduleLocked() int {
	if q.closed {
		return 0
	}
	uploading := 0
	for _, t := range q.tasks {
		if t.Status == StatusUploading {
			uploading++
		}
	}
	admitted := 0
	for uploading < q.concurrency {
		var next *Task
		for _, t := range q.tasks {
			if t.Status == StatusPending {
				next = t
				break
			}
		}
		if next == nil {
			break
		}
		q.startLocked(next)
		uploading++
		admitted++
	}
	return admitted
}

// startLocked transitions a pending task to uploading and launches the
// transport attempt on its own goroutine.
func (q *Queue) startLocked(t *Task) {
	t.Status = StatusUploading
	t.Progress = 0
	t.attemptStart = time.Now()
	if t.StartedAt == nil {
		st := t.attemptStart
		t.StartedAt = &st
	}

	ctx := context.Background()
	var cancel context.CancelFunc
	if q.attemptTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, q.attemptTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	t.cancel = cancel

	id := t.ID
	fn := t.fn
	file := t.File
	utils.Debug("task %s attempt %d started (%s, %d bytes)", id, t.RetryCount+1, file.Name, file.Size)
	go func() {
		defer cancel()
		err := fn(ctx, file, func(pct int) { q.setProgress(id, pct) })
		q.finish(id, err)
	}()
}

// setProgress records transport progress. Late or regressing reports are
// dropped so progress stays monotone within an attempt.
func (q *Queue) setProgress(id string, pct int) {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	q.mu.Lock()
	t := q.findLocked(id)
	if t == nil || t.Status != StatusUploading || pct <= t.Progress {
		q.mu.Unlock()
		return
	}
	t.Progress = pct
	snap := q.snapshotLocked()
	q.mu.Unlock()

	q.notify(snap)
}

// finish drives the post-attempt transition. A task that is no longer
// uploading was cancelled while the transport ran; its late result is
// ignored.
func (q *Queue) finish(id string, err error) {
	q.mu.Lock()
	t := q.findLocked(id)
	if t == nil || t.Status != StatusUploading {
		q.mu.Unlock()
		return
	}
	t.cancel = nil
	now := time.Now()

	switch {
	case err == nil:
		t.Status = StatusCompleted
		t.Progress = 100
		t.Error = ""
		t.CompletedAt = &now
		q.monitor.Record(t.File.Size, now.Sub(t.attemptStart))
		utils.Debug("task %s completed in %s", id, now.Sub(t.attemptStart))

	case !isPermanent(err) && t.RetryCount < q.maxRetries && !q.closed:
		t.RetryCount++
		t.Status = StatusRetrying
		t.Error = err.Error()
		delay := t.nextDelay(q.backoffBase, q.backoffCap)
		t.retryTimer = time.AfterFunc(delay, func() { q.requeue(id) })
		utils.Debug("task %s attempt failed (%v), retry %d in %s", id, err, t.RetryCount, delay)

	default:
		t.Status = StatusFailed
		t.Error = err.Error()
		t.CompletedAt = &now
		utils.Debug("task %s failed: %v", id, err)
	}

	q.scheduleLocked()
	snap := q.snapshotLocked()
	q.mu.Unlock()

	q.notify(snap)
}

// requeue fires when a retry backoff elapses: the task re-enters pending and
// competes for a slot through the normal admission pass.
func (q *Queue) requeue(id string) {
	q.mu.Lock()
	t := q.findLocked(id)
	if t == nil || t.Status != StatusRetrying {
		q.mu.Unlock()
		return
	}
	t.retryTimer = nil
	t.Status = StatusPending
	q.scheduleLocked()
	snap := q.snapshotLocked()
	q.mu.Unlock()

	q.notify(snap)
}

// notify calls every subscriber, in registration order, with the snapshot
// captured at mutation time.
func (q *Queue) notify(snap []Task) {
	q.mu.Lock()
	subs := make([]subscriber, len(q.subs))
	copy(subs, q.subs)
	q.mu.Unlock()

	for _, s := range subs {
		s.fn(snap)
	}
}

func isPermanent(err error) bool {
	var perm *backoff.PermanentError
	return errors.As(err, &perm)
}
