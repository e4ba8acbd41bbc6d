package main

import (
	"bytes"
	"math"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnesss/temporal-lens/collector"
	"github.com/jnesss/temporal-lens/event"
	"github.com/jnesss/temporal-lens/shm"
)

func TestValue(t *testing.T) {
	tests := []struct {
		name string
		e    event.Event
		want string
	}{
		{"log", event.Event{Kind: event.KindLog, Text: "hi"}, `"hi"`},
		{"int counter", event.Event{Kind: event.KindCounter, Payload: ^uint64(4)}, "-5"},
		{"float counter", event.Event{Kind: event.KindCounter, Flags: event.FlagFloat, Payload: math.Float64bits(2.5)}, "2.5"},
		{"alloc", event.Event{Kind: event.KindAlloc, Payload: 64, Address: 0x10}, "alloc 64 @0x10"},
		{"free", event.Event{Kind: event.KindAlloc, Flags: event.FlagFree, Payload: 64, Address: 0x10}, "free 64 @0x10"},
		{"implicit end", event.Event{Kind: event.KindSpanEnd, Flags: event.FlagImplicit}, "implicit"},
		{"frame", event.Event{Kind: event.KindFrame, Payload: 7}, "7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, value(tt.e))
		})
	}
}

func TestPrintSpans(t *testing.T) {
	path := shm.SegmentPath(t.TempDir(), os.Getpid())
	r, err := collector.Create(path, shm.Layout{Rings: 1, RingCapacity: 1024, InternCapacity: 4})
	require.NoError(t, err)
	defer r.Close()

	events := []event.Event{
		{Kind: event.KindSpanStart, ThreadID: 1, Timestamp: 10},
		{Kind: event.KindSpanStart, ThreadID: 1, Timestamp: 11},
		{Kind: event.KindSpanEnd, ThreadID: 1, Timestamp: 15, Flags: event.FlagImplicit},
		{Kind: event.KindSpanEnd, ThreadID: 2, Timestamp: 16},
	}
	var out bytes.Buffer
	require.NoError(t, printSpans(&out, r, events))

	text := out.String()
	assert.Contains(t, text, "  <unlabeled> (implicit)")
	assert.Contains(t, text, "anomaly: unmatched_end thread=2")
}
