package event

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		event Event
	}{
		{
			name:  "span start",
			event: Event{Kind: KindSpanStart, Timestamp: 12345, ThreadID: 3, Label: 7, Payload: 2},
		},
		{
			name:  "span end",
			event: Event{Kind: KindSpanEnd, Timestamp: math.MaxUint64, ThreadID: math.MaxUint32, Label: 7},
		},
		{
			name:  "counter int",
			event: Event{Kind: KindCounter, Timestamp: 1, ThreadID: 1, Label: 2, Payload: ^uint64(41)},
		},
		{
			name:  "counter float",
			event: Event{Kind: KindCounter, Timestamp: 1, ThreadID: 1, Label: 2, Flags: FlagFloat, Payload: math.Float64bits(3.25)},
		},
		{
			name:  "alloc",
			event: Event{Kind: KindAlloc, Timestamp: 9, ThreadID: 4, Label: 1, Payload: 4096, Address: 0xdeadbeef},
		},
		{
			name:  "free",
			event: Event{Kind: KindAlloc, Timestamp: 10, ThreadID: 4, Flags: FlagFree, Payload: 4096, Address: 0xdeadbeef},
		},
		{
			name:  "frame",
			event: Event{Kind: KindFrame, Timestamp: 11, ThreadID: 1, Payload: 600},
		},
		{
			name:  "marker with fiber",
			event: Event{Kind: KindMarker, Timestamp: 12, ThreadID: 1, Label: 3, Fiber: 99, Payload: 0x00ff00},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf [MaxRecordSize]byte
			n := Encode(buf[:], &tt.event)
			assert.Equal(t, Size(&tt.event), n)
			assert.Zero(t, n%Align)

			got, m, err := Decode(buf[:n])
			require.NoError(t, err)
			assert.Equal(t, n, m)
			assert.Equal(t, tt.event, got)
		})
	}
}

func TestRoundTripInlineText(t *testing.T) {
	var buf [MaxRecordSize]byte
	in := Event{Kind: KindLog, Timestamp: 77, ThreadID: 2, Text: "loading level 3"}
	n := Encode(buf[:], &in)
	assert.Equal(t, HeaderSize+16, n)

	got, m, err := Decode(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, n, m)
	assert.Equal(t, "loading level 3", got.Text)
	assert.True(t, got.Flags.Has(FlagInline))
	assert.False(t, got.Flags.Has(FlagTruncated))
	assert.Equal(t, uint64(len(in.Text)), got.Payload)
}

func TestEncodeTruncatesOnRuneBoundary(t *testing.T) {
	var buf [MaxRecordSize]byte
	text := strings.Repeat("a", MaxText-1) + "é" + "tail"
	in := Event{Kind: KindMarker, Text: text}
	n := Encode(buf[:], &in)
	assert.LessOrEqual(t, n, MaxRecordSize)

	got, _, err := Decode(buf[:n])
	require.NoError(t, err)
	assert.True(t, got.Flags.Has(FlagTruncated))
	assert.Equal(t, strings.Repeat("a", MaxText-1), got.Text)
}

func TestDecodeSequence(t *testing.T) {
	var stream []byte
	var buf [MaxRecordSize]byte
	events := []Event{
		{Kind: KindSpanStart, Timestamp: 1, ThreadID: 1, Label: 1},
		{Kind: KindLog, Timestamp: 2, ThreadID: 1, Text: "hi"},
		{Kind: KindAlloc, Timestamp: 3, ThreadID: 1, Payload: 16, Address: 0x10},
		{Kind: KindSpanEnd, Timestamp: 4, ThreadID: 1, Label: 1},
	}
	for i := range events {
		n := Encode(buf[:], &events[i])
		stream = append(stream, buf[:n]...)
	}

	var got []Event
	for len(stream) > 0 {
		e, n, err := Decode(stream)
		require.NoError(t, err)
		got = append(got, e)
		stream = stream[n:]
	}
	require.Len(t, got, len(events))
	for i := range events {
		assert.Equal(t, events[i].Kind, got[i].Kind)
		assert.Equal(t, events[i].Timestamp, got[i].Timestamp)
	}
}

func TestDecodeErrors(t *testing.T) {
	var buf [MaxRecordSize]byte
	n := Encode(buf[:], &Event{Kind: KindMarker, Label: 1})

	_, _, err := Decode(buf[:HeaderSize-1])
	assert.ErrorIs(t, err, ErrShortRecord)

	bad := buf
	bad[0] = 33
	_, _, err = Decode(bad[:])
	assert.ErrorIs(t, err, ErrBadSize)

	bad = buf
	bad[2] = 42
	_, _, err = Decode(bad[:n])
	assert.ErrorIs(t, err, ErrUnknownKind)

	var skip [16]byte
	EncodeSkip(skip[:])
	size, kind := Peek(skip[:])
	assert.Equal(t, 16, size)
	assert.Equal(t, KindSkip, kind)
	_, _, err = Decode(skip[:])
	assert.Error(t, err)
}

func TestEncodeDoesNotAllocate(t *testing.T) {
	var buf [MaxRecordSize]byte
	e := Event{Kind: KindSpanStart, Timestamp: 1, ThreadID: 1, Label: 3}
	allocs := testing.AllocsPerRun(1000, func() {
		Encode(buf[:], &e)
	})
	assert.Zero(t, allocs)
}
