package collector

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jnesss/temporal-lens/event"
	"github.com/jnesss/temporal-lens/intern"
	"github.com/jnesss/temporal-lens/ring"
	"github.com/jnesss/temporal-lens/session"
	"github.com/jnesss/temporal-lens/shm"
)

var testLayout = shm.Layout{Rings: 4, RingCapacity: 4096, InternCapacity: 64}

// fakeProducer formats a segment the way a session does and writes into
// it directly.
type fakeProducer struct {
	seg    *shm.Segment
	rings  []*ring.Ring
	labels *intern.Table
}

func newFakeProducer(t *testing.T) *fakeProducer {
	t.Helper()
	path := shm.SegmentPath(t.TempDir(), os.Getpid())
	seg, err := shm.Create(path, testLayout, uuid.New())
	require.NoError(t, err)
	t.Cleanup(func() { seg.Close() })

	p := &fakeProducer{seg: seg}
	for i := 0; i < testLayout.Rings; i++ {
		r, err := ring.Init(seg.RingRegion(i))
		require.NoError(t, err)
		p.rings = append(p.rings, r)
	}
	p.labels, err = intern.Init(seg.InternRegion(), testLayout.InternCapacity)
	require.NoError(t, err)
	return p
}

func (p *fakeProducer) claim(slot int, thread uint32) {
	p.seg.PublishSlot(shm.SlotInfo{Index: slot, ThreadID: thread})
}

func (p *fakeProducer) write(t *testing.T, slot int, e event.Event) {
	t.Helper()
	var buf [event.MaxRecordSize]byte
	n := event.Encode(buf[:], &e)
	require.True(t, p.rings[slot].TryWrite(buf[:n]))
}

func openReader(t *testing.T, path string) *Reader {
	t.Helper()
	r, err := Open(path, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func timestamps(events []event.Event) []uint64 {
	out := make([]uint64, len(events))
	for i, e := range events {
		out[i] = e.Timestamp
	}
	return out
}

func TestDrainMergesByTimestamp(t *testing.T) {
	p := newFakeProducer(t)
	p.claim(0, 1)
	p.claim(1, 2)
	for _, ts := range []uint64{10, 30, 50} {
		p.write(t, 0, event.Event{Timestamp: ts, ThreadID: 1, Kind: event.KindMarker})
	}
	for _, ts := range []uint64{20, 30, 40} {
		p.write(t, 1, event.Event{Timestamp: ts, ThreadID: 2, Kind: event.KindMarker})
	}

	r := openReader(t, p.seg.Path())
	events, err := r.Drain(0)
	require.NoError(t, err)
	assert.Equal(t, []uint64{10, 20, 30, 30, 40, 50}, timestamps(events))
	// Equal timestamps keep ring order.
	assert.Equal(t, uint32(1), events[2].ThreadID)
	assert.Equal(t, uint32(2), events[3].ThreadID)

	events, err = r.Drain(0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestDrainMaxPerRing(t *testing.T) {
	p := newFakeProducer(t)
	p.claim(0, 1)
	for ts := uint64(1); ts <= 5; ts++ {
		p.write(t, 0, event.Event{Timestamp: ts, ThreadID: 1, Kind: event.KindCounter, Payload: ts})
	}

	r := openReader(t, p.seg.Path())
	events, err := r.Drain(2)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, timestamps(events))

	events, err = r.Drain(0)
	require.NoError(t, err)
	assert.Equal(t, []uint64{3, 4, 5}, timestamps(events))
}

func TestDrainIgnoresFreeSlots(t *testing.T) {
	p := newFakeProducer(t)
	p.claim(1, 7)
	p.write(t, 1, event.Event{Timestamp: 1, ThreadID: 7, Kind: event.KindFrame, Payload: 1})

	r := openReader(t, p.seg.Path())
	events, err := r.Drain(0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, event.KindFrame, events[0].Kind)
}

func TestDrainReportsCorruptRing(t *testing.T) {
	p := newFakeProducer(t)
	p.claim(0, 1)
	p.claim(1, 2)
	p.write(t, 1, event.Event{Timestamp: 5, ThreadID: 2, Kind: event.KindMarker})

	region := p.seg.RingRegion(0)
	region[0] = 0xff // write cursor far beyond the read cursor

	r := openReader(t, p.seg.Path())
	events, err := r.Drain(0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ring.ErrCorrupt))
	require.Len(t, events, 1)
	assert.Equal(t, uint32(2), events[0].ThreadID)
}

func TestLabelsResolve(t *testing.T) {
	p := newFakeProducer(t)
	id := p.labels.Intern("draw")

	r := openReader(t, p.seg.Path())
	text, ok := r.Labels().Lookup(id)
	require.True(t, ok)
	assert.Equal(t, "draw", text)
	assert.Equal(t, 1, r.Labels().Len())

	assert.Equal(t, "draw", r.Labels().Name(id))
	assert.Equal(t, "<unlabeled>", r.Labels().Name(0))
	assert.Equal(t, "#42", r.Labels().Name(42))

	// Labels published after open resolve too.
	later := p.labels.Intern("update")
	assert.Equal(t, "update", r.Labels().Name(later))
}

func TestGenerationChangeRefreshesLabels(t *testing.T) {
	p := newFakeProducer(t)
	id := p.labels.Intern("old")

	r := openReader(t, p.seg.Path())
	assert.Equal(t, "old", r.Labels().Name(id))

	// A new writer reformats the table and reuses ids.
	var err error
	p.labels, err = intern.Init(p.seg.InternRegion(), testLayout.InternCapacity)
	require.NoError(t, err)
	assert.Equal(t, id, p.labels.Intern("new"))
	p.seg.BumpGeneration()

	_, err = r.Drain(0)
	require.NoError(t, err)
	assert.Equal(t, "new", r.Labels().Name(id))
}

func TestMetadata(t *testing.T) {
	p := newFakeProducer(t)
	p.seg.SetState(uint32(session.StateActive))
	p.claim(0, 3)
	p.labels.Intern("a")
	p.labels.Intern("b")

	r := openReader(t, p.seg.Path())
	md, err := r.Metadata()
	require.NoError(t, err)
	assert.Equal(t, p.seg.SessionID(), md.SessionID)
	assert.Equal(t, os.Getpid(), md.PID)
	assert.Equal(t, session.StateActive, md.State)
	assert.Equal(t, uint64(1), md.Generation)
	assert.Equal(t, 2, md.Labels)
	require.Len(t, md.Threads, 1)
	assert.Equal(t, uint32(3), md.Threads[0].ThreadID)
	assert.Equal(t, uint64(0), md.Dropped)

	require.NoError(t, r.Close())
	_, err = r.Metadata()
	assert.ErrorIs(t, err, ErrClosed)
	_, err = r.Drain(0)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestHeartbeat(t *testing.T) {
	p := newFakeProducer(t)
	r := openReader(t, p.seg.Path())

	before := uint64(time.Now().UnixNano())
	r.Heartbeat()
	assert.GreaterOrEqual(t, p.seg.CollectorHeartbeat(), before)
}

func TestCreateForAttachingProducer(t *testing.T) {
	path := shm.SegmentPath(t.TempDir(), os.Getpid())
	r, err := Create(path, testLayout, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	assert.NotZero(t, shmHeartbeat(t, path))

	s := session.New(session.Config{
		Path:       path,
		Mode:       session.ModeAttach,
		Heartbeat:  5 * time.Millisecond,
		StaleAfter: time.Hour,
		Logger:     zaptest.NewLogger(t),
	})
	hostID := r.SessionID()
	require.NoError(t, s.Activate())
	id := s.Labels().Intern("tick")
	slot, rg, err := s.ClaimRing(1, 0)
	require.NoError(t, err)

	var buf [event.MaxRecordSize]byte
	n := event.Encode(buf[:], &event.Event{Timestamp: 9, ThreadID: 1, Label: id, Kind: event.KindMarker})
	require.True(t, rg.TryWrite(buf[:n]))

	events, err := r.Drain(0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "tick", r.Labels().Name(events[0].Label))
	assert.Equal(t, s.ID(), r.SessionID())
	assert.NotEqual(t, hostID, r.SessionID())

	s.ReleaseRing(slot)
	require.NoError(t, s.Close())
	assert.FileExists(t, path)

	require.NoError(t, r.Close())
	assert.NoFileExists(t, path)
	assert.NoError(t, r.Close())
}

func shmHeartbeat(t *testing.T, path string) uint64 {
	t.Helper()
	seg, err := shm.Open(path)
	require.NoError(t, err)
	defer seg.Close()
	return seg.CollectorHeartbeat()
}

func TestRunDrainsUntilCancelled(t *testing.T) {
	p := newFakeProducer(t)
	p.claim(0, 1)
	r := openReader(t, p.seg.Path())

	var (
		mu  sync.Mutex
		got []event.Event
	)
	sink := func(events []event.Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, events...)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- r.Run(ctx, 5*time.Millisecond, sink) }()

	for ts := uint64(1); ts <= 3; ts++ {
		p.write(t, 0, event.Event{Timestamp: ts, ThreadID: 1, Kind: event.KindMarker})
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, time.Second, time.Millisecond)
	assert.NotZero(t, p.seg.CollectorHeartbeat())

	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
}
