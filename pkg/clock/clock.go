// Package clock provides the monotonic instants used for cache expiry.
//
// Production code uses Monotonic(); tests inject a Fake and move time with
// Advance so expiry decisions are deterministic.
package clock

import (
	"math"
	"sync"
	"time"
)

// Instant is a point on a monotonic timeline, in nanoseconds since an
// arbitrary per-process origin. Instants from different clocks are not
// comparable.
type Instant int64

const (
	// InfinitePast compares before every other instant. An expiry stored as
	// InfinitePast is always expired.
	InfinitePast Instant = math.MinInt64
	// InfiniteFuture compares after every other instant.
	InfiniteFuture Instant = math.MaxInt64
)

// Add returns i+d, saturating at InfinitePast and InfiniteFuture.
func (i Instant) Add(d time.Duration) Instant {
	if d > 0 && i > InfiniteFuture-Instant(d) {
		return InfiniteFuture
	}
	if d < 0 && i < InfinitePast-Instant(d) {
		return InfinitePast
	}
	return i + Instant(d)
}

// Before reports whether i is strictly earlier than o.
func (i Instant) Before(o Instant) bool { return i < o }

// Sub returns i-o.
func (i Instant) Sub(o Instant) time.Duration { return time.Duration(i - o) }

// Clock reads the current monotonic instant.
type Clock interface {
	Now() Instant
}

type monotonic struct {
	origin time.Time
}

var (
	defaultOnce  sync.Once
	defaultClock *monotonic
)

// Monotonic returns the process-wide clock backed by the runtime's monotonic
// reading.
func Monotonic() Clock {
	defaultOnce.Do(func() {
		defaultClock = &monotonic{origin: time.Now()}
	})
	return defaultClock
}

func (m *monotonic) Now() Instant {
	return Instant(time.Since(m.origin))
}

// Fake is a manually driven Clock. It is safe for concurrent use.
type Fake struct {
	mu  sync.Mutex
	now Instant
}

// NewFake returns a Fake positioned at start.
func NewFake(start Instant) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() Instant {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the clock forward by d. Negative durations are ignored.
func (f *Fake) Advance(d time.Duration) {
	if d <= 0 {
		return
	}
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// Set positions the clock at t.
func (f *Fake) Set(t Instant) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}
