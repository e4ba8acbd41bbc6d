// Package clock provides the monotonic timestamp source and the per-thread
// context used to stamp every captured event.
//
// Timestamps are nanoseconds since the clock's base instant. They come from
// the runtime's monotonic clock, so wall clock adjustments never move them.
package clock

import (
	"errors"
	"time"
)

var (
	// ErrClockUnavailable is returned when the platform has no monotonic clock.
	ErrClockUnavailable = errors.New("monotonic clock unavailable")
	// ErrClockResolution is returned when the monotonic clock is too coarse
	// to time sub-microsecond regions.
	ErrClockResolution = errors.New("monotonic clock resolution too coarse")
)

// MaxResolution is the coarsest clock resolution accepted at startup.
const MaxResolution = time.Microsecond

// TicksPerSecond is the unit of every timestamp produced by this package.
const TicksPerSecond = uint64(time.Second)

// Clock reads a monotonic timestamp in ticks.
type Clock interface {
	Now() uint64
}

// Func adapts a plain function to the Clock interface.
type Func func() uint64

// Now calls f.
func (f Func) Now() uint64 { return f() }

// Calibrated is implemented by clocks that can map ticks back to wall
// clock time. Collectors read both values from the segment header.
type Calibrated interface {
	Clock
	Base() time.Time
	TicksPerSecond() uint64
}

// Monotonic is the production clock.
type Monotonic struct {
	base time.Time
}

// NewMonotonic probes the platform clock and fails instead of silently
// falling back to a lower resolution source.
func NewMonotonic() (*Monotonic, error) {
	if err := probe(); err != nil {
		return nil, err
	}
	return &Monotonic{base: time.Now()}, nil
}

// Now returns nanoseconds elapsed since the clock was created.
func (m *Monotonic) Now() uint64 {
	return uint64(time.Since(m.base))
}

// Base returns the wall clock instant matching tick zero.
func (m *Monotonic) Base() time.Time {
	return m.base
}

// TicksPerSecond returns the tick rate, one tick per nanosecond.
func (m *Monotonic) TicksPerSecond() uint64 {
	return TicksPerSecond
}

// Context identifies the producer of an event. It is computed once when a
// producer handle is registered and cached there.
type Context struct {
	ThreadID uint32
	Fiber    uint32
}
