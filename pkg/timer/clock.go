package timer

import (
	"sync"
	"time"
)

// Clock источник текущего времени для списка таймеров
type Clock interface {
	Now() time.Time
}

// SystemClock использует time.Now
type SystemClock struct{}

// Now возвращает текущее время
func (SystemClock) Now() time.Time { return time.Now() }

// ManualClock часы, которые двигаются только вручную (для тестов)
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock создает часы с начальным временем
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now возвращает текущее время часов
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance сдвигает часы вперед
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
