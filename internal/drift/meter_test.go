package drift

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAverageEmpty(t *testing.T) {
	assert.Zero(t, NewMeter().Average())
}

func TestAveragePartialWindow(t *testing.T) {
	m := NewMeter()
	for _, v := range []int64{10, 20, 30} {
		m.Add(v)
	}
	assert.InDelta(t, 20.0, m.Average(), 1e-9)
}

func TestAverageEvictsOldest(t *testing.T) {
	m := NewMeter()
	for i := 0; i < windowSize; i++ {
		m.Add(0)
	}
	for i := 0; i < windowSize; i++ {
		m.Add(100)
	}
	// The zeros have all rolled out of the window.
	assert.InDelta(t, 100.0, m.Average(), 1e-9)
}

func TestAverageRollingMean(t *testing.T) {
	m := NewMeter()
	for i := int64(1); i <= 250; i++ {
		m.Add(i)
	}
	// Window holds 51..250.
	assert.InDelta(t, float64(51+250)/2, m.Average(), 1e-9)
}

func TestConcurrentAddAndAverage(t *testing.T) {
	m := NewMeter()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := int64(0); i < 5000; i++ {
			m.Add(i % 7)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 5000; i++ {
			avg := m.Average()
			assert.GreaterOrEqual(t, avg, 0.0)
			assert.LessOrEqual(t, avg, 6.0)
		}
	}()
	wg.Wait()
}
