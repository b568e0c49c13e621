// Package clock supplies wall-clock reads for session timing.
//
// Round deadlines are computed from server-supplied start times, so the local
// clock must share the server's timeline. Skewed corrects the local clock by the
// offset observed in server responses.
package clock

import (
	"sync"
	"time"
)

// Clock reads the current time.
type Clock interface {
	Now() time.Time
}

// System is the process wall clock.
type System struct{}

// Now returns time.Now().
func (System) Now() time.Time { return time.Now() }

// minSkew is the smallest offset worth correcting. HTTP Date headers carry
// whole seconds, so anything below this is resolution noise.
const minSkew = time.Second

// Skewed is a local clock corrected by the last observed server offset.
type Skewed struct {
	base   Clock
	mu     sync.RWMutex
	offset time.Duration
}

// NewSkewed wraps base. A nil base uses the system clock.
func NewSkewed(base Clock) *Skewed {
	if base == nil {
		base = System{}
	}
	return &Skewed{base: base}
}

// Now returns the base time shifted by the current offset.
func (s *Skewed) Now() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.base.Now().Add(s.offset)
}

// Observe records that the server reported serverNow at local time localAt.
// Offsets smaller than one second reset the correction to zero.
func (s *Skewed) Observe(serverNow, localAt time.Time) {
	if serverNow.IsZero() || localAt.IsZero() {
		return
	}
	off := serverNow.Sub(localAt)
	if off > -minSkew && off < minSkew {
		off = 0
	}
	s.mu.Lock()
	s.offset = off
	s.mu.Unlock()
}

// Offset returns the correction currently applied.
func (s *Skewed) Offset() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.offset
}

// Manual is a settable clock for tests.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual returns a Manual clock set to t.
func NewManual(t time.Time) *Manual {
	return &Manual{now: t}
}

// Now returns the manually set time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Set moves the clock to t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}
