package queue

import "time"

// Defaults for a freshly constructed Queue.
const (
	DefaultConcurrency = 3
	DefaultMaxRetries  = 3
	DefaultBackoffBase = 1 * time.Second
	DefaultBackoffCap  = 10 * time.Second
)

// Option configures a Queue at construction time.
type Option func(*Queue)

// WithConcurrency sets the initial ceiling on simultaneous uploads.
// Values below 1 are clamped to 1.
func WithConcurrency(n int) Option {
	return func(q *Queue) {
		if n < 1 {
			n = 1
		}
		q.concurrency = n
	}
}

// WithMaxRetries sets how many automatic retries a task gets before it is
// marked failed. Zero disables automatic retries.
func WithMaxRetries(n int) Option {
	return func(q *Queue) {
		if n < 0 {
			n = 0
		}
		q.maxRetries = n
	}
}

// WithBackoff sets the exponential backoff base delay and its cap.
func WithBackoff(base, cap time.Duration) Option {
	return func(q *Queue) {
		if base > 0 {
			q.backoffBase = base
		}
		if cap > 0 {
			q.backoffCap = cap
		}
	}
}

// WithAttemptTimeout bounds each individual transfer attempt. Zero (the
// default) means no per-attempt timeout: a transport that never returns
// holds its slot indefinitely.
func WithAttemptTimeout(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.attemptTimeout = d
		}
	}
}

// WithMonitorWindow sets how many completed transfers the network monitor
// keeps in its rolling speed window.
func WithMonitorWindow(n int) Option {
	return func(q *Queue) {
		q.monitorWindow = n
	}
}
