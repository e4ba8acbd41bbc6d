package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jnesss/temporal-lens/collector"
	"github.com/jnesss/temporal-lens/event"
	"github.com/jnesss/temporal-lens/session"
	"github.com/jnesss/temporal-lens/shm"
)

func TestWatcherForgetsSegmentItCannotOpen(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := newWatcher(ctx, zaptest.NewLogger(t), time.Millisecond)
	w.attempts = 1
	defer w.stopAll()

	path := filepath.Join(t.TempDir(), "temporal-lens.1")
	w.segment(path, true)
	require.Eventually(t, func() bool { return w.running() == 0 }, 5*time.Second, time.Millisecond)

	// A later Create for the same path starts a new loop.
	w.segment(path, true)
	assert.Equal(t, 1, w.running())
}

func attachProducer(t *testing.T, path string) *session.Session {
	t.Helper()
	s := session.New(session.Config{
		Path:       path,
		Mode:       session.ModeAttach,
		Heartbeat:  5 * time.Millisecond,
		StaleAfter: time.Hour,
		Logger:     zaptest.NewLogger(t),
	})
	require.NoError(t, s.Activate())
	return s
}

func writeSpanEvent(t *testing.T, s *session.Session, kind event.Kind, ts uint64) {
	t.Helper()
	_, rg, err := s.ClaimRing(1, 0)
	require.NoError(t, err)
	var buf [event.MaxRecordSize]byte
	n := event.Encode(buf[:], &event.Event{Timestamp: ts, ThreadID: 1, Label: 1, Kind: kind})
	require.True(t, rg.TryWrite(buf[:n]))
}

func TestSummaryFlushesOnProducerChange(t *testing.T) {
	path := shm.SegmentPath(t.TempDir(), os.Getpid())
	r, err := collector.Create(path, shm.Layout{Rings: 1, RingCapacity: 1024, InternCapacity: 4})
	require.NoError(t, err)
	defer r.Close()
	s := newSummary(r, zaptest.NewLogger(t))

	first := attachProducer(t, path)
	writeSpanEvent(t, first, event.KindSpanStart, 10)
	events, err := r.Drain(0)
	require.NoError(t, err)
	s.add(events)
	require.NoError(t, first.Close())

	// The restarted producer reuses thread id 1.
	second := attachProducer(t, path)
	defer second.Close()
	writeSpanEvent(t, second, event.KindSpanEnd, 5)
	events, err = r.Drain(0)
	require.NoError(t, err)
	s.add(events)

	assert.Equal(t, second.ID(), s.session)
	assert.Zero(t, s.spans)
	// The open span is reported unclosed and the new end is unmatched.
	assert.Equal(t, 2, s.anomalies)
	assert.Zero(t, s.assembler.Open())
}
