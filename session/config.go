package session

import (
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/jnesss/temporal-lens/clock"
	"github.com/jnesss/temporal-lens/shm"
)

// Config holds the session settings.
type Config struct {
	Path   string
	Mode   Mode
	Layout shm.Layout

	// Heartbeat is the period of the monitor loop.
	Heartbeat time.Duration
	// StaleAfter is how old the collector heartbeat may get before the
	// session degrades.
	StaleAfter time.Duration
	// RetryInterval throttles setup attempts after a failure. Negative
	// disables retries until Reset.
	RetryInterval time.Duration

	Clock  clock.Clock
	Logger *zap.Logger
}

// DefaultConfig returns the settings for the current process.
func DefaultConfig() Config {
	return Config{
		Path:          shm.SegmentPath(shm.DefaultRoot(), os.Getpid()),
		Mode:          ModeCreate,
		Layout:        shm.DefaultLayout,
		Heartbeat:     250 * time.Millisecond,
		StaleAfter:    5 * time.Second,
		RetryInterval: 10 * time.Second,
	}
}

func (c *Config) setDefaults() {
	def := DefaultConfig()
	if c.Path == "" {
		c.Path = def.Path
	}
	if c.Layout == (shm.Layout{}) {
		c.Layout = def.Layout
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = def.Heartbeat
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = def.StaleAfter
	}
	if c.RetryInterval == 0 {
		c.RetryInterval = def.RetryInterval
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}
