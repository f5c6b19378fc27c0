// Package netmon estimates link quality from recently completed transfers
// and derives an advisory concurrency level from it. No probe traffic is
// generated; the monitor only observes what the queue already moved.
package netmon

import (
	"sync"
	"time"
)

// Quality is a coarse classification of measured throughput.
type Quality string

const (
	QualityPoor      Quality = "poor"
	QualityFair      Quality = "fair"
	QualityGood      Quality = "good"
	QualityExcellent Quality = "excellent"
)

// Throughput thresholds (bytes/sec) separating the quality buckets.
const (
	fairThreshold      = 100_000
	goodThreshold      = 1_000_000
	excellentThreshold = 5_000_000
)

// DefaultWindow is how many completed transfers the rolling speed estimate
// covers unless configured otherwise.
const DefaultWindow = 8

// Stats is the monitor's current view of the link.
type Stats struct {
	EstimatedSpeed         float64 // bytes/sec over the rolling window
	Quality                Quality
	RecommendedConcurrency int
	SampleCount            int
}

type sample struct {
	bytes    int64
	duration time.Duration
}

// Monitor keeps a rolling window of (bytes, duration) samples from completed
// transfers. Safe for concurrent use.
type Monitor struct {
	mu     sync.Mutex
	window []sample
	size   int
}

// New returns a Monitor keeping the last size samples; size < 1 selects
// DefaultWindow.
func New(size int) *Monitor {
	if size < 1 {
		size = DefaultWindow
	}
	return &Monitor{size: size}
}

// Record adds one completed transfer to the window, evicting the oldest
// sample once full. Non-positive inputs carry no signal and are dropped.
func (m *Monitor) Record(bytes int64, duration time.Duration) {
	if bytes <= 0 || duration <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.window = append(m.window, sample{bytes: bytes, duration: duration})
	if len(m.window) > m.size {
		m.window = m.window[1:]
	}
}

// Reset drops all samples.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.window = nil
}

// Stats computes the current throughput estimate and recommendation. With no
// samples yet the monitor assumes a good link rather than throttling before
// it has evidence.
func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.window) == 0 {
		return Stats{Quality: QualityGood, RecommendedConcurrency: Recommendation(QualityGood)}
	}

	var bytes int64
	var elapsed time.Duration
	for _, s := range m.window {
		bytes += s.bytes
		elapsed += s.duration
	}
	speed := float64(bytes) / elapsed.Seconds()
	quality := Classify(speed)
	return Stats{
		EstimatedSpeed:         speed,
		Quality:                quality,
		RecommendedConcurrency: Recommendation(quality),
		SampleCount:            len(m.window),
	}
}

// Classify maps a throughput in bytes/sec onto a quality bucket.
func Classify(speed float64) Quality {
	switch {
	case speed >= excellentThreshold:
		return QualityExcellent
	case speed >= goodThreshold:
		return QualityGood
	case speed >= fairThreshold:
		return QualityFair
	default:
		return QualityPoor
	}
}

// Recommendation maps a quality bucket onto an upload concurrency level.
func Recommendation(q Quality) int {
	switch q {
	case QualityExcellent:
		return 5
	case QualityGood:
		return 3
	case QualityFair:
		return 2
	default:
		return 1
	}
}
