// Package clock supplies wall-clock time to components whose behaviour
// depends on time windows, so tests can pin and advance it.
package clock

import (
	"sync"
	"time"
)

// Clock reports the current time.
type Clock interface {
	Now() time.Time
}

// System is the real wall clock.
type System struct{}

// Now returns time.Now().
func (System) Now() time.Time { return time.Now() }

// Unix returns c's current time in unix seconds.
func Unix(c Clock) uint64 {
	return uint64(c.Now().Unix())
}

// Manual is a settable clock for tests and simulations.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual returns a clock fixed at unix second sec.
func NewManual(sec uint64) *Manual {
	return &Manual{now: time.Unix(int64(sec), 0)}
}

// Now returns the pinned time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Set pins the clock at unix second sec.
func (m *Manual) Set(sec uint64) {
	m.mu.Lock()
	m.now = time.Unix(int64(sec), 0)
	m.mu.Unlock()
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}
