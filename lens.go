//go:build !lens_disabled

package lens

import (
	"math"
	"runtime"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/jnesss/temporal-lens/clock"
	"github.com/jnesss/temporal-lens/event"
	"github.com/jnesss/temporal-lens/intern"
	"github.com/jnesss/temporal-lens/ring"
	"github.com/jnesss/temporal-lens/session"
)

// Enabled reports whether this build captures events.
const Enabled = true

// maxDepth bounds the span nesting tracked per thread for implicit closing.
const maxDepth = 64

// bindBackoff spaces ring claim attempts of a thread that found no free ring.
const bindBackoff = 100 * time.Millisecond

// Lens is the process-scoped telemetry context.
type Lens struct {
	sess    *session.Session
	logger  *zap.Logger
	threads *threadMap
	nextID  atomic.Uint32
	closing atomic.Bool
	interns atomic.Int32 // Label calls in flight
}

// New returns a Lens. The segment is set up lazily on the first event.
func New(opts ...Option) *Lens {
	cfg := buildConfig(opts)
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Lens{
		sess:    session.New(cfg),
		logger:  cfg.Logger,
		threads: newThreadMap(),
	}
}

// Thread registers a producer handle. A Thread must only be used from one
// goroutine at a time.
func (l *Lens) Thread(name string) *Thread {
	t := &Thread{
		lens: l,
		id:   l.nextID.Add(1),
		name: name,
		slot: -1,
	}
	l.threads.Add(t)
	return t
}

// Label interns text once so later events carry only its id.
func (l *Lens) Label(text string) Label {
	lb := Label{text: text}
	l.interns.Add(1)
	defer l.interns.Add(-1)
	if l.closing.Load() || l.sess.Activate() != nil && !l.sess.Mapped() {
		return lb
	}
	if tbl := l.sess.Labels(); tbl != nil {
		lb.id = tbl.Intern(text)
	}
	return lb
}

// Status reports the session state, setup error and drop accounting.
func (l *Lens) Status() Status {
	info := l.sess.Info()
	return Status{
		Enabled:       true,
		State:         info.State,
		Err:           l.sess.Err(),
		Path:          info.Path,
		Generation:    info.Generation,
		Threads:       l.threads.Len(),
		Dropped:       info.Dropped,
		LabelOverflow: info.LabelOverflow,
	}
}

// Reset leaves the degraded state, retrying setup if needed.
func (l *Lens) Reset() error {
	return l.sess.Reset()
}

// Close stops all capture, closes spans left open with implicit ends and
// releases the segment. Threads used after Close do nothing.
func (l *Lens) Close() error {
	if l.closing.Swap(true) {
		return nil
	}

	threads := l.threads.List()
	for _, t := range threads {
		for t.busy.Load() != 0 {
			runtime.Gosched()
		}
	}
	for l.interns.Load() != 0 {
		runtime.Gosched()
	}
	// Every producer is fenced out now, so writing on their behalf keeps
	// each ring single-writer.
	implicit := 0
	for _, t := range threads {
		implicit += t.depth
		t.finish()
	}
	if implicit > 0 {
		l.logger.Warn("Closed spans left open at shutdown", zap.Int("spans", implicit))
	}
	return l.sess.Close()
}

// Thread is a producer handle owning one ring.
type Thread struct {
	lens  *Lens
	id    uint32
	name  string
	fiber atomic.Uint32

	busy atomic.Uint32

	// Owned by the producer goroutine, read by Lens.Close once fenced.
	slot     int
	ring     *ring.Ring
	clock    clock.Clock
	labels   *intern.Table
	done     bool
	nextBind time.Time
	depth    int
	stack    [maxDepth]uint32
	frame    uint64
	scratch  [event.MaxRecordSize]byte
}

// Context returns the cached identity stamped on this thread's events.
func (t *Thread) Context() clock.Context {
	return clock.Context{ThreadID: t.id, Fiber: t.fiber.Load()}
}

// SetFiber tags following events with a fiber or job id.
func (t *Thread) SetFiber(id uint32) {
	t.fiber.Store(id)
}

// Span is an open timed region. End emits the matching SpanEnd; deferring
// it guarantees emission on every exit path, panics included.
type Span struct {
	t     *Thread
	label uint32
}

// End closes the span.
func (s Span) End() {
	if s.t != nil {
		s.t.end(s.label)
	}
}

// Begin opens a span labeled with text.
func (t *Thread) Begin(label string) Span {
	return t.begin(0, label, 0)
}

// BeginLabel opens a span with a pre-interned label.
func (t *Thread) BeginLabel(l Label) Span {
	return t.begin(l.id, l.text, 0)
}

// BeginColor opens a span with a pre-interned label and a display colour
// as 0xRRGGBB. Zero means no colour.
func (t *Thread) BeginColor(l Label, rgb uint32) Span {
	return t.begin(l.id, l.text, rgb)
}

// SpanStart payloads carry the nesting depth in the low 32 bits and the
// colour in the high 32 bits.
func (t *Thread) begin(id uint32, text string, rgb uint32) Span {
	if !t.enter() {
		return Span{}
	}
	if id == 0 && text != "" {
		id = t.labels.Intern(text)
	}
	t.write(event.KindSpanStart, 0, id, uint64(rgb)<<32|uint64(uint32(t.depth)), "", 0)
	if t.depth < maxDepth {
		t.stack[t.depth] = id
	}
	t.depth++
	t.leave()
	return Span{t: t, label: id}
}

func (t *Thread) end(id uint32) {
	if !t.enter() {
		return
	}
	if t.depth > 0 {
		t.depth--
	}
	t.write(event.KindSpanEnd, 0, id, uint64(t.depth), "", 0)
	t.leave()
}

// Marker records an instantaneous event.
func (t *Thread) Marker(label string) {
	t.emit(event.KindMarker, 0, 0, label, 0, "", 0)
}

// MarkerLabel records an instantaneous event with a pre-interned label and
// a user value, such as a display colour.
func (t *Thread) MarkerLabel(l Label, value uint64) {
	t.emit(event.KindMarker, 0, l.id, l.text, value, "", 0)
}

// Counter records an integer sample.
func (t *Thread) Counter(label string, v int64) {
	t.emit(event.KindCounter, 0, 0, label, uint64(v), "", 0)
}

// CounterLabel records an integer sample with a pre-interned label.
func (t *Thread) CounterLabel(l Label, v int64) {
	t.emit(event.KindCounter, 0, l.id, l.text, uint64(v), "", 0)
}

// CounterFloat records a floating point sample.
func (t *Thread) CounterFloat(label string, v float64) {
	t.emit(event.KindCounter, event.FlagFloat, 0, label, math.Float64bits(v), "", 0)
}

// Frame marks a frame boundary and returns the frame number.
func (t *Thread) Frame() uint64 {
	t.frame++
	t.emit(event.KindFrame, 0, 0, "", t.frame, "", 0)
	return t.frame
}

// Log records a short message inline. Text beyond 128 bytes is cut.
func (t *Thread) Log(msg string) {
	t.emit(event.KindLog, event.FlagInline, 0, "", 0, msg, 0)
}

// Close ends spans left open with implicit ends and releases the ring.
func (t *Thread) Close() {
	t.busy.Store(1)
	if !t.lens.closing.Load() {
		t.finish()
	}
	t.busy.Store(0)
	t.lens.threads.Remove(t.id)
}

// finish must run with the thread fenced from concurrent writes.
func (t *Thread) finish() {
	if t.done {
		return
	}
	t.done = true
	if t.ring == nil {
		return
	}
	for t.depth > 0 {
		t.depth--
		var id uint32
		if t.depth < maxDepth {
			id = t.stack[t.depth]
		}
		t.write(event.KindSpanEnd, event.FlagImplicit, id, uint64(t.depth), "", 0)
	}
	t.lens.sess.ReleaseRing(t.slot)
	t.ring = nil
}

// enter fences the thread against Lens.Close and binds a ring on first
// use. It reports whether the caller may write; on true the caller must
// call leave.
func (t *Thread) enter() bool {
	t.busy.Store(1)
	// Read closing before done: once closing is set, done belongs to Lens.Close.
	if t.lens.closing.Load() || t.done || (t.ring == nil && !t.bind()) {
		t.busy.Store(0)
		return false
	}
	return true
}

func (t *Thread) leave() {
	t.busy.Store(0)
}

// emit writes one record, interning labelText when no id is given.
func (t *Thread) emit(kind event.Kind, flags event.Flags, label uint32, labelText string, payload uint64, text string, addr uint64) {
	if !t.enter() {
		return
	}
	if label == 0 && labelText != "" {
		label = t.labels.Intern(labelText)
	}
	t.write(kind, flags, label, payload, text, addr)
	t.leave()
}

func (t *Thread) write(kind event.Kind, flags event.Flags, label uint32, payload uint64, text string, addr uint64) {
	e := event.Event{
		Timestamp: t.clock.Now(),
		Payload:   payload,
		Address:   addr,
		ThreadID:  t.id,
		Label:     label,
		Fiber:     t.fiber.Load(),
		Kind:      kind,
		Flags:     flags,
		Text:      text,
	}
	n := event.Encode(t.scratch[:], &e)
	t.ring.TryWrite(t.scratch[:n])
}

// bind claims a ring for the thread, activating the session on first use.
func (t *Thread) bind() bool {
	sess := t.lens.sess
	if err := sess.Activate(); err != nil && !sess.Mapped() {
		return false
	}
	if !t.nextBind.IsZero() && time.Now().Before(t.nextBind) {
		return false
	}

	labels := sess.Labels()
	if labels == nil {
		return false
	}
	slot, r, err := sess.ClaimRing(t.id, labels.Intern(t.name))
	if err != nil {
		t.nextBind = time.Now().Add(bindBackoff)
		t.lens.logger.Debug("No ring for thread", zap.String("thread", t.name), zap.Error(err))
		return false
	}
	t.slot = slot
	t.ring = r
	t.clock = sess.Clock()
	t.labels = labels
	return true
}
