//go:build lens_disabled

package lens

import "github.com/jnesss/temporal-lens/clock"

const Enabled = false

type Lens struct{}

func New(opts ...Option) *Lens { return &Lens{} }

func (l *Lens) Thread(name string) *Thread { return &Thread{} }

func (l *Lens) Label(text string) Label { return Label{text: text} }

func (l *Lens) Status() Status { return Status{State: "disabled"} }

func (l *Lens) Reset() error { return nil }

func (l *Lens) Close() error { return nil }

type Thread struct{}

type Span struct{}

func (s Span) End() {}

func (t *Thread) Context() clock.Context { return clock.Context{} }

func (t *Thread) SetFiber(id uint32) {}

func (t *Thread) Begin(label string) Span { return Span{} }

func (t *Thread) BeginLabel(l Label) Span { return Span{} }

func (t *Thread) BeginColor(l Label, rgb uint32) Span { return Span{} }

func (t *Thread) Marker(label string) {}

func (t *Thread) MarkerLabel(l Label, value uint64) {}

func (t *Thread) Counter(label string, v int64) {}

func (t *Thread) CounterLabel(l Label, v int64) {}

func (t *Thread) CounterFloat(label string, v float64) {}

func (t *Thread) Frame() uint64 { return 0 }

func (t *Thread) Log(msg string) {}

func (t *Thread) TrackAlloc(addr uintptr, size uint64, tag Label) {}

func (t *Thread) TrackFree(addr uintptr, size uint64, tag Label) {}

func (t *Thread) Close() {}
