package collector

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/jnesss/temporal-lens/event"
)

// Sink receives every non-empty batch drained by Run.
type Sink func(events []event.Event)

// Run stamps the collector heartbeat and drains the segment every interval
// until ctx is cancelled. A last drain runs on the way out.
func (r *Reader) Run(ctx context.Context, interval time.Duration, sink Sink) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("Starting segment drain", zap.Duration("interval", interval))

	for {
		r.Heartbeat()
		r.drainTo(sink)

		select {
		case <-ctx.Done():
			r.drainTo(sink)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *Reader) drainTo(sink Sink) {
	events, err := r.Drain(0)
	if err != nil {
		r.logger.Warn("Error draining segment", zap.Error(err))
	}
	if len(events) > 0 && sink != nil {
		sink(events)
	}
}
