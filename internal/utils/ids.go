package utils

import (
	"sync"
	"time"
)

// IDGenerator mints monotonic, time-derived surrogate ids. Two calls in the
// same millisecond still return distinct, increasing values.
type IDGenerator struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

// NewIDGenerator creates a generator that never returns a value <= floor
func NewIDGenerator(floor int64) *IDGenerator {
	return &IDGenerator{last: floor, now: time.Now}
}

// Next returns the next id
func (g *IDGenerator) Next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := g.now().UnixMilli()
	if id <= g.last {
		id = g.last + 1
	}
	g.last = id
	return id
}
