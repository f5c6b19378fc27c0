package queue

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Status is the lifecycle state of an upload task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusUploading Status = "uploading"
	StatusRetrying  Status = "retrying"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is a final state. A task in a terminal state
// never mutates again; it can only be removed from the queue.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// File is the immutable payload reference for one upload. Open returns a
// fresh reader over the content so a retry can re-read it from the start.
type File struct {
	Name string
	Size int64
	Open func() (io.ReadCloser, error)
}

// FileFromPath builds a File backed by a file on disk. The file is opened
// lazily, once per upload attempt.
func FileFromPath(path string) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return File{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return File{}, fmt.Errorf("%s is a directory", path)
	}
	return File{
		Name: filepath.Base(path),
		Size: info.Size(),
		Open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}, nil
}

// FileFromBytes builds a File backed by an in-memory buffer.
func FileFromBytes(name string, data []byte) File {
	return File{
		Name: name,
		Size: int64(len(data)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// UploadFunc performs one transfer attempt. It must report monotonically
// increasing progress in [0,100] via progress, return nil on success and a
// descriptive error on failure, and abort best-effort when ctx is cancelled.
// Wrapping the error with backoff.Permanent marks the failure as
// non-retryable; anything else is treated as transient.
type UploadFunc func(ctx context.Context, file File, progress func(pct int)) error

// Task is one file transfer and its tracked lifecycle state. Values handed
// to subscribers and returned from Tasks are snapshots; mutating them has no
// effect on the queue.
type Task struct {
	ID          string
	File        File
	Status      Status
	Progress    int // percent, 0-100
	RetryCount  int
	Error       string // last failure reason, empty after success
	StartedAt   *time.Time
	CompletedAt *time.Time

	fn           UploadFunc
	cancel       context.CancelFunc
	retryTimer   *time.Timer
	delays       *backoff.ExponentialBackOff
	attemptStart time.Time
}

// snapshot returns a detached copy safe to hand outside the queue lock.
func (t *Task) snapshot() Task {
	c := *t
	c.fn = nil
	c.cancel = nil
	c.retryTimer = nil
	c.delays = nil
	if t.StartedAt != nil {
		st := *t.StartedAt
		c.StartedAt = &st
	}
	if t.CompletedAt != nil {
		ct := *t.CompletedAt
		c.CompletedAt = &ct
	}
	return c
}

// nextDelay returns the backoff delay before the next attempt, growing
// exponentially from the configured base up to the cap.
func (t *Task) nextDelay(base, cap time.Duration) time.Duration {
	if t.delays == nil {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = base
		b.Multiplier = 2
		b.MaxInterval = cap
		b.RandomizationFactor = 0
		b.MaxElapsedTime = 0
		b.Reset()
		t.delays = b
	}
	d := t.delays.NextBackOff()
	if d == backoff.Stop || d > cap {
		d = cap
	}
	return d
}
