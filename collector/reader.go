// Package collector reads the shared memory segments written by
// instrumented processes: it drains their rings, keeps their collector
// heartbeat fresh and turns the raw event stream into spans.
package collector

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/jnesss/temporal-lens/event"
	"github.com/jnesss/temporal-lens/intern"
	"github.com/jnesss/temporal-lens/ring"
	"github.com/jnesss/temporal-lens/session"
	"github.com/jnesss/temporal-lens/shm"
)

var ErrClosed = errors.New("reader closed")

// Option configures a Reader.
type Option func(*options)

type options struct {
	logger    *zap.Logger
	cacheSize int
}

// WithLogger sets the logger for lifecycle and drain errors.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithLabelCacheSize sets how many resolved labels are cached.
func WithLabelCacheSize(n int) Option {
	return func(o *options) {
		o.cacheSize = n
	}
}

// Reader drains one segment. Its methods are safe for concurrent use, but
// only one Reader may drain a given segment.
type Reader struct {
	mu         sync.Mutex
	seg        *shm.Segment
	rings      []*ring.Ring
	labels     *Labels
	logger     *zap.Logger
	generation uint64
	session    uuid.UUID
	owned      bool
}

// Open maps the segment at path for reading.
func Open(path string, opts ...Option) (*Reader, error) {
	seg, err := shm.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open segment %s: %w", path, err)
	}
	r, err := newReader(seg, opts)
	if err != nil {
		seg.Close()
		return nil, err
	}
	return r, nil
}

// Create makes a segment at path for a producer running in attach mode.
// The file is removed again on Close.
func Create(path string, layout shm.Layout, opts ...Option) (*Reader, error) {
	seg, err := shm.Create(path, layout, uuid.New())
	if err != nil {
		return nil, fmt.Errorf("failed to create segment %s: %w", path, err)
	}
	for i := 0; i < layout.Rings; i++ {
		if _, err := ring.Init(seg.RingRegion(i)); err != nil {
			seg.Remove()
			seg.Close()
			return nil, err
		}
	}
	if _, err := intern.Init(seg.InternRegion(), layout.InternCapacity); err != nil {
		seg.Remove()
		seg.Close()
		return nil, err
	}

	r, err := newReader(seg, opts)
	if err != nil {
		seg.Remove()
		seg.Close()
		return nil, err
	}
	r.owned = true
	r.Heartbeat()
	return r, nil
}

func newReader(seg *shm.Segment, opts []Option) (*Reader, error) {
	o := options{logger: zap.NewNop(), cacheSize: DefaultLabelCacheSize}
	for _, opt := range opts {
		opt(&o)
	}

	labels, err := NewLabels(o.cacheSize)
	if err != nil {
		return nil, err
	}
	layout := seg.Layout()
	rings := make([]*ring.Ring, layout.Rings)
	for i := range rings {
		if rings[i], err = ring.Attach(seg.RingRegion(i)); err != nil {
			return nil, fmt.Errorf("failed to attach ring %d: %w", i, err)
		}
	}

	r := &Reader{
		seg:        seg,
		rings:      rings,
		labels:     labels,
		logger:     o.logger.With(zap.String("segment", seg.Path())),
		generation: seg.Generation(),
		session:    seg.SessionID(),
	}
	r.refreshLabels()
	return r, nil
}

// refreshLabels points the resolver at the interning table, which a
// producer may format only after the header is published.
func (r *Reader) refreshLabels() {
	t, err := intern.Attach(r.seg.InternRegion())
	if err != nil || t.Capacity() != r.seg.Layout().InternCapacity {
		r.labels.setTable(nil)
		return
	}
	r.labels.setTable(t)
}

// Path returns the segment path.
func (r *Reader) Path() string {
	return r.seg.Path()
}

// Labels returns the label resolver.
func (r *Reader) Labels() *Labels {
	return r.labels
}

// SessionID returns the identity of the producer that wrote the events of
// the last Drain. It changes when a new producer attaches to the segment,
// whose thread ids restart from one.
func (r *Reader) SessionID() uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}

// Heartbeat tells the producer the collector is alive.
func (r *Reader) Heartbeat() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seg != nil {
		r.seg.SetCollectorHeartbeat(uint64(time.Now().UnixNano()))
	}
}

// Drain takes up to max records from every registered ring (all pending
// records when max <= 0) and returns them ordered by timestamp. Events of
// one thread keep their ring order. A corrupt ring is reported in the error
// while the other rings are still drained.
func (r *Reader) Drain(max int) ([]event.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seg == nil {
		return nil, ErrClosed
	}

	if id := r.seg.SessionID(); id != r.session {
		r.logger.Info("Segment producer changed",
			zap.Stringer("from", r.session),
			zap.Stringer("to", id),
			zap.Int("pid", r.seg.PID()))
		r.session = id
	}
	if gen := r.seg.Generation(); gen != r.generation {
		r.logger.Info("Segment generation changed",
			zap.Uint64("from", r.generation),
			zap.Uint64("to", gen))
		r.generation = gen
		r.refreshLabels()
	} else if r.labels.current() == nil {
		r.refreshLabels()
	}

	var (
		events []event.Event
		result *multierror.Error
	)
	for i, n := 0, min(r.seg.Registered(), len(r.rings)); i < n; i++ {
		if r.seg.Slot(i).State == shm.SlotFree {
			continue
		}
		recs, err := r.rings[i].Drain(max)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("ring %d: %w", i, err))
		}
		for _, rec := range recs {
			e, _, err := event.Decode(rec)
			if err != nil {
				result = multierror.Append(result, fmt.Errorf("ring %d: %w", i, err))
				continue
			}
			events = append(events, e)
		}
	}

	slices.SortStableFunc(events, func(a, b event.Event) int {
		return cmp.Compare(a.Timestamp, b.Timestamp)
	})
	return events, result.ErrorOrNil()
}

// Metadata is a snapshot of a segment header.
type Metadata struct {
	Path           string
	SessionID      uuid.UUID
	PID            int
	State          session.State
	Generation     uint64
	Started        time.Time
	TicksPerSecond uint64
	ProducerBeat   uint64
	Labels         int
	LabelOverflow  uint64
	Dropped        uint64
	Threads        []shm.SlotInfo
}

// Metadata returns the current header snapshot.
func (r *Reader) Metadata() (Metadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seg == nil {
		return Metadata{}, ErrClosed
	}

	md := Metadata{
		Path:           r.seg.Path(),
		SessionID:      r.seg.SessionID(),
		PID:            r.seg.PID(),
		State:          session.State(r.seg.State()),
		Generation:     r.seg.Generation(),
		Started:        r.seg.StartTime(),
		TicksPerSecond: r.seg.TicksPerSecond(),
		ProducerBeat:   r.seg.ProducerHeartbeat(),
	}
	if t := r.labels.current(); t != nil {
		md.Labels = t.Len()
		md.LabelOverflow = t.Overflow()
	}
	for i, n := 0, min(r.seg.Registered(), len(r.rings)); i < n; i++ {
		slot := r.seg.Slot(i)
		if slot.State == shm.SlotFree {
			continue
		}
		md.Dropped += r.rings[i].Dropped()
		md.Threads = append(md.Threads, slot)
	}
	return md, nil
}

// Close unmaps the segment, removing it when the reader created it.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seg == nil {
		return nil
	}

	var result *multierror.Error
	if r.owned {
		if err := r.seg.Remove(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := r.seg.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	r.seg = nil
	r.rings = nil
	r.labels.setTable(nil)
	return result.ErrorOrNil()
}
