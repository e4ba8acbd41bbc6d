package main

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/jnesss/temporal-lens/collector"
	"github.com/jnesss/temporal-lens/event"
)

const (
	openAttempts = 20
	openBackoff  = 50 * time.Millisecond
)

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Drain every segment under the root directory (default)",
		Args:  cobra.NoArgs,
		RunE:  runWatch,
	}
}

func runWatch(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signalContext()
	defer stop()

	w := newWatcher(ctx, logger, viper.GetDuration("interval"))
	err = collector.Watch(ctx, viper.GetString("root"), logger, w.segment)
	w.stopAll()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// watcher runs one drain loop per discovered segment.
type watcher struct {
	ctx      context.Context
	logger   *zap.Logger
	interval time.Duration
	attempts int

	mu     sync.Mutex
	active map[string]*drainLoop
	wg     sync.WaitGroup
}

type drainLoop struct {
	cancel context.CancelFunc
}

func newWatcher(ctx context.Context, logger *zap.Logger, interval time.Duration) *watcher {
	return &watcher{
		ctx:      ctx,
		logger:   logger,
		interval: interval,
		attempts: openAttempts,
		active:   make(map[string]*drainLoop),
	}
}

func (w *watcher) segment(path string, added bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	loop, running := w.active[path]
	if !added {
		if running {
			loop.cancel()
			delete(w.active, path)
		}
		return
	}
	if running {
		return
	}

	ctx, cancel := context.WithCancel(w.ctx)
	loop = &drainLoop{cancel: cancel}
	w.active[path] = loop
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer w.forget(path, loop)
		w.drain(ctx, path)
	}()
}

// forget drops the entry of a finished loop so a later Create event for the
// same path starts a new one.
func (w *watcher) forget(path string, loop *drainLoop) {
	w.mu.Lock()
	defer w.mu.Unlock()
	loop.cancel()
	if w.active[path] == loop {
		delete(w.active, path)
	}
}

func (w *watcher) running() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.active)
}

func (w *watcher) stopAll() {
	w.mu.Lock()
	for path, loop := range w.active {
		loop.cancel()
		delete(w.active, path)
	}
	w.mu.Unlock()
	w.wg.Wait()
}

// drain opens path, retrying while the producer is still laying it out,
// and drains it until ctx is done.
func (w *watcher) drain(ctx context.Context, path string) {
	logger := w.logger.With(zap.String("segment", path))

	var (
		r   *collector.Reader
		err error
	)
	for i := 0; i < w.attempts; i++ {
		if r, err = collector.Open(path, collector.WithLogger(w.logger)); err == nil {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(openBackoff):
		}
	}
	if err != nil {
		logger.Warn("Failed to open segment", zap.Error(err))
		return
	}
	defer r.Close()

	if md, err := r.Metadata(); err == nil {
		logger.Info("Draining segment",
			zap.Int("pid", md.PID),
			zap.Stringer("session", md.SessionID),
			zap.Uint64("generation", md.Generation))
	}

	s := newSummary(r, logger)
	if err := r.Run(ctx, w.interval, s.add); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("Drain loop stopped", zap.Error(err))
	}
	s.finish()
}

// summary assembles spans from drained batches and logs what it sees.
type summary struct {
	reader    *collector.Reader
	logger    *zap.Logger
	assembler *collector.Assembler
	session   uuid.UUID
	events    int
	spans     int
	anomalies int
}

func newSummary(r *collector.Reader, logger *zap.Logger) *summary {
	return &summary{
		reader:    r,
		logger:    logger,
		assembler: collector.NewAssembler(),
		session:   r.SessionID(),
	}
}

func (s *summary) add(events []event.Event) {
	// A new producer reuses thread ids, so spans left open by the previous
	// one must not match its ends.
	if id := s.reader.SessionID(); id != s.session {
		s.report(s.assembler.Flush())
		s.session = id
	}

	spans, anomalies := s.assembler.Feed(events)
	s.events += len(events)
	s.spans += len(spans)
	s.report(anomalies)

	if ce := s.logger.Check(zap.DebugLevel, "Drained batch"); ce != nil {
		ce.Write(zap.Int("events", len(events)), zap.Int("spans", len(spans)))
	}
}

func (s *summary) report(anomalies []collector.Anomaly) {
	s.anomalies += len(anomalies)
	for _, a := range anomalies {
		s.logger.Warn("Span anomaly",
			zap.Stringer("kind", a.Kind),
			zap.Uint32("thread", a.Thread),
			zap.String("label", s.reader.Labels().Name(a.Label)),
			zap.Uint64("timestamp", a.Timestamp))
	}
}

func (s *summary) finish() {
	s.report(s.assembler.Flush())

	fields := []zap.Field{
		zap.Int("events", s.events),
		zap.Int("spans", s.spans),
		zap.Int("anomalies", s.anomalies),
	}
	if md, err := s.reader.Metadata(); err == nil {
		fields = append(fields,
			zap.Uint64("dropped", md.Dropped),
			zap.Uint64("label_overflow", md.LabelOverflow))
	}
	s.logger.Info("Segment drained", fields...)
}
