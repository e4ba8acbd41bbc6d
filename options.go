package lens

import (
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/jnesss/temporal-lens/clock"
	"github.com/jnesss/temporal-lens/session"
	"github.com/jnesss/temporal-lens/shm"
)

// Option configures a Lens.
type Option func(*session.Config)

// WithRoot places the segment under dir using the per-process name
// collectors look for.
func WithRoot(dir string) Option {
	return func(c *session.Config) {
		c.Path = shm.SegmentPath(dir, os.Getpid())
	}
}

// WithPath sets the exact segment path.
func WithPath(path string) Option {
	return func(c *session.Config) {
		c.Path = path
	}
}

// WithAttach maps a segment created by the collector instead of creating one.
func WithAttach() Option {
	return func(c *session.Config) {
		c.Mode = session.ModeAttach
	}
}

// WithRingCapacity sets the data bytes per thread ring (power of two).
func WithRingCapacity(n int) Option {
	return func(c *session.Config) {
		c.Layout.RingCapacity = n
	}
}

// WithMaxThreads sets how many threads may hold a ring at once.
func WithMaxThreads(n int) Option {
	return func(c *session.Config) {
		c.Layout.Rings = n
	}
}

// WithInternCapacity sets how many distinct labels the segment can hold.
func WithInternCapacity(n int) Option {
	return func(c *session.Config) {
		c.Layout.InternCapacity = n
	}
}

// WithHeartbeat sets how often the producer heartbeat is written.
func WithHeartbeat(d time.Duration) Option {
	return func(c *session.Config) {
		c.Heartbeat = d
	}
}

// WithStaleAfter sets how long the collector may stay silent before the
// session is marked degraded.
func WithStaleAfter(d time.Duration) Option {
	return func(c *session.Config) {
		c.StaleAfter = d
	}
}

// WithRetryInterval throttles setup retries after a failure. A negative
// value disables retries until Reset.
func WithRetryInterval(d time.Duration) Option {
	return func(c *session.Config) {
		c.RetryInterval = d
	}
}

// WithClock replaces the monotonic timestamp source.
func WithClock(cl clock.Clock) Option {
	return func(c *session.Config) {
		c.Clock = cl
	}
}

// WithLogger sets the logger for session lifecycle events.
func WithLogger(l *zap.Logger) Option {
	return func(c *session.Config) {
		c.Logger = l
	}
}

func buildConfig(opts []Option) session.Config {
	cfg := session.DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
