// Package drift tracks how far behind the live firehose this consumer
// is running. The event loop records one lag sample per handled event
// and a background loop logs the moving average every few seconds.
package drift

import (
	"context"
	"log"
	"sync"
	"time"
)

// windowSize is the number of samples the moving average covers.
const windowSize = 200

// logInterval is how often the current average is logged.
const logInterval = 5 * time.Second

// Meter is a fixed-window moving average over lag samples in
// milliseconds. It is safe for concurrent use; the expected pattern is
// one writer (the event loop) and one reader (the log loop).
type Meter struct {
	mu     sync.Mutex
	window [windowSize]int64
	next   int
	count  int
	sum    int64
}

// NewMeter returns an empty meter.
func NewMeter() *Meter {
	return &Meter{}
}

// Add records one lag sample in milliseconds. Once the window is full
// the oldest sample is evicted.
func (m *Meter) Add(ms int64) {
	m.mu.Lock()
	if m.count < windowSize {
		m.count++
	} else {
		m.sum -= m.window[m.next]
	}
	m.window[m.next] = ms
	m.sum += ms
	m.next = (m.next + 1) % windowSize
	m.mu.Unlock()
}

// Average returns the mean of the samples currently in the window, or
// 0 when nothing has been recorded yet.
func (m *Meter) Average() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.count == 0 {
		return 0
	}
	return float64(m.sum) / float64(m.count)
}

// LogLoop logs the current average on a fixed interval until the
// context is cancelled.
func (m *Meter) LogLoop(ctx context.Context) {
	ticker := time.NewTicker(logInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			log.Printf("Average drift over 5s: %dms", int64(m.Average()))
		}
	}
}
