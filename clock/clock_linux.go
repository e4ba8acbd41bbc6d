//go:build linux

package clock

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// probe checks that CLOCK_MONOTONIC exists and is fine grained enough.
func probe() error {
	var res unix.Timespec
	if err := unix.ClockGetres(unix.CLOCK_MONOTONIC, &res); err != nil {
		return fmt.Errorf("%w: %v", ErrClockUnavailable, err)
	}
	if d := time.Duration(res.Nano()); d <= 0 || d > MaxResolution {
		return fmt.Errorf("%w: %v", ErrClockResolution, d)
	}
	return nil
}

// OSThreadID returns the kernel thread id of the caller. Goroutines migrate
// between threads, so the value is informational only.
func OSThreadID() uint32 {
	return uint32(unix.Gettid())
}
