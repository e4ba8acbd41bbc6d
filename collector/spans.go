package collector

import "github.com/jnesss/temporal-lens/event"

// Span is a matched SpanStart/SpanEnd pair of one thread.
type Span struct {
	Thread   uint32
	Fiber    uint32
	Label    uint32
	Start    uint64
	End      uint64
	Depth    int
	Color    uint32 // 0xRRGGBB, zero when unset
	Implicit bool   // closed at shutdown rather than by the producer
}

// Duration returns the span length in clock ticks.
func (s Span) Duration() uint64 {
	return s.End - s.Start
}

// AnomalyKind classifies an irregularity found while assembling spans.
type AnomalyKind int

const (
	// AnomalyUnmatchedEnd is a SpanEnd with no open span on its thread,
	// usually because the SpanStart was dropped.
	AnomalyUnmatchedEnd AnomalyKind = iota + 1
	// AnomalyUnclosed is a span still open when the stream was flushed.
	AnomalyUnclosed
	// AnomalyOutOfOrder is an event older than its predecessor on the
	// same thread.
	AnomalyOutOfOrder
)

func (k AnomalyKind) String() string {
	switch k {
	case AnomalyUnmatchedEnd:
		return "unmatched_end"
	case AnomalyUnclosed:
		return "unclosed"
	case AnomalyOutOfOrder:
		return "out_of_order"
	default:
		return "unknown"
	}
}

// Anomaly reports one irregular event.
type Anomaly struct {
	Kind      AnomalyKind
	Thread    uint32
	Label     uint32
	Timestamp uint64
}

type threadState struct {
	last uint64
	open []event.Event
}

// Assembler rebuilds spans from drained events. It keeps per-thread state
// across calls, so spans may straddle drains.
type Assembler struct {
	threads map[uint32]*threadState
}

func NewAssembler() *Assembler {
	return &Assembler{threads: make(map[uint32]*threadState)}
}

// Feed consumes events and returns the spans they complete together with
// any anomalies. Events other than span boundaries only advance ordering.
func (a *Assembler) Feed(events []event.Event) ([]Span, []Anomaly) {
	var (
		spans     []Span
		anomalies []Anomaly
	)
	for _, e := range events {
		ts := a.threads[e.ThreadID]
		if ts == nil {
			ts = &threadState{}
			a.threads[e.ThreadID] = ts
		}
		if e.Timestamp < ts.last {
			anomalies = append(anomalies, Anomaly{
				Kind:      AnomalyOutOfOrder,
				Thread:    e.ThreadID,
				Label:     e.Label,
				Timestamp: e.Timestamp,
			})
		} else {
			ts.last = e.Timestamp
		}

		switch e.Kind {
		case event.KindSpanStart:
			ts.open = append(ts.open, e)
		case event.KindSpanEnd:
			if len(ts.open) == 0 {
				anomalies = append(anomalies, Anomaly{
					Kind:      AnomalyUnmatchedEnd,
					Thread:    e.ThreadID,
					Label:     e.Label,
					Timestamp: e.Timestamp,
				})
				continue
			}
			start := ts.open[len(ts.open)-1]
			ts.open = ts.open[:len(ts.open)-1]
			spans = append(spans, Span{
				Thread:   e.ThreadID,
				Fiber:    start.Fiber,
				Label:    start.Label,
				Start:    start.Timestamp,
				End:      e.Timestamp,
				Depth:    len(ts.open),
				Color:    uint32(start.Payload >> 32),
				Implicit: e.Flags.Has(event.FlagImplicit),
			})
		}
	}
	return spans, anomalies
}

// Open returns how many spans are waiting for their end.
func (a *Assembler) Open() int {
	n := 0
	for _, ts := range a.threads {
		n += len(ts.open)
	}
	return n
}

// Flush reports every span still open and forgets all thread state.
func (a *Assembler) Flush() []Anomaly {
	var anomalies []Anomaly
	for id, ts := range a.threads {
		for _, e := range ts.open {
			anomalies = append(anomalies, Anomaly{
				Kind:      AnomalyUnclosed,
				Thread:    id,
				Label:     e.Label,
				Timestamp: e.Timestamp,
			})
		}
	}
	a.threads = make(map[uint32]*threadState)
	return anomalies
}
