package clock

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Clock separates wall time (timestamps, daily-date derivation) from
// monotonic time (interval scheduling). Tests inject a Manual clock.
type Clock interface {
	Now() time.Time
	Mono() time.Duration
}

type realClock struct {
	start time.Time
}

// Real returns the system clock.
func Real() Clock {
	return &realClock{start: time.Now()}
}

func (c *realClock) Now() time.Time { return time.Now() }

func (c *realClock) Mono() time.Duration { return time.Since(c.start) }

// Manual is a hand-advanced clock for tests.
type Manual struct {
	mu   sync.Mutex
	now  time.Time
	mono time.Duration
}

// NewManual creates a Manual clock starting at t.
func NewManual(t time.Time) *Manual {
	return &Manual{now: t}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Mono() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mono
}

// Advance moves both wall and monotonic time forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mono += d
	m.mu.Unlock()
}

// Set jumps wall time to t without touching monotonic time.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

// IDGen mints trade IDs: a random 128-bit UUID paired with a strictly
// increasing per-process sequence number used for ordering ties.
type IDGen struct {
	seq atomic.Uint64
}

// NewIDGen creates an ID generator.
func NewIDGen() *IDGen {
	return &IDGen{}
}

// Next returns a fresh trade ID and its sequence number.
func (g *IDGen) Next() (string, uint64) {
	return uuid.NewString(), g.seq.Add(1)
}

// Seq returns the last issued sequence number.
func (g *IDGen) Seq() uint64 {
	return g.seq.Load()
}
