package admission

import (
	"sync"
	"time"
)

// Clock — источник текущего времени. Позволяет тестам управлять временем.
type Clock interface {
	Now() time.Time
}

// SystemClock — Clock на основе time.Now.
type SystemClock struct{}

// Now реализует Clock.
func (SystemClock) Now() time.Time { return time.Now() }

// ManualClock — Clock, который двигается только вручную.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock создаёт ManualClock с начальным временем.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now реализует Clock.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance сдвигает время вперёд.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
