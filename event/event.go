// Package event defines the binary record format shared by producers and
// collectors.
//
// Every record starts with a fixed 32 byte little endian header:
//
//	off size field
//	0   2    record size in bytes, header and trailer included, multiple of 8
//	2   1    kind
//	3   1    flags
//	4   4    thread id
//	8   8    timestamp (ticks)
//	16  4    label id (0 = none)
//	20  4    fiber id
//	24  8    payload
//	32  ...  trailer
//
// Alloc records carry the address as an 8 byte trailer. Records flagged
// FlagInline carry text bytes, padded to 8, and store the text length in the
// payload. A decoder needs nothing beyond the interning table to walk a
// sequence of records.
package event

import (
	"encoding/binary"
	"errors"
	"math"
	"unicode/utf8"
)

const (
	// HeaderSize is the fixed part of every record.
	HeaderSize = 32
	// MaxText bounds inline text and interned labels.
	MaxText = 128
	// MaxRecordSize is the largest record Encode can produce.
	MaxRecordSize = HeaderSize + MaxText
	// Align is the record alignment inside a ring.
	Align = 8
)

var (
	ErrShortRecord = errors.New("record shorter than its header")
	ErrBadSize     = errors.New("record size field invalid")
	ErrUnknownKind = errors.New("unknown record kind")
)

// Event is one captured record.
type Event struct {
	// 8-byte aligned fields
	Timestamp uint64
	Payload   uint64
	Address   uint64 // Alloc only

	// 4-byte aligned fields
	ThreadID uint32
	Label    uint32
	Fiber    uint32

	Kind  Kind
	Flags Flags

	// Text is the inline message for Log and unlabeled Marker records.
	Text string
}

// Int returns the payload as a signed value.
func (e *Event) Int() int64 {
	return int64(e.Payload)
}

// Float returns the payload as a float64. Only meaningful with FlagFloat.
func (e *Event) Float() float64 {
	return math.Float64frombits(e.Payload)
}

// Size returns the encoded size of e.
func Size(e *Event) int {
	switch {
	case e.Kind == KindAlloc:
		return HeaderSize + 8
	case e.Flags.Has(FlagInline) || e.Text != "":
		return HeaderSize + pad(len(Clip(e.Text)))
	default:
		return HeaderSize
	}
}

// Encode writes e into dst and returns the number of bytes used. dst must
// hold at least MaxRecordSize bytes. Encode does not allocate.
func Encode(dst []byte, e *Event) int {
	flags := e.Flags
	payload := e.Payload
	n := HeaderSize

	var text string
	if e.Kind != KindAlloc && (flags.Has(FlagInline) || e.Text != "") {
		text = Clip(e.Text)
		if len(text) < len(e.Text) {
			flags |= FlagTruncated
		}
		flags |= FlagInline
		payload = uint64(len(text))
		end := HeaderSize + copy(dst[HeaderSize:], text)
		n = HeaderSize + pad(len(text))
		clear(dst[end:n])
	}
	if e.Kind == KindAlloc {
		binary.LittleEndian.PutUint64(dst[HeaderSize:], e.Address)
		n = HeaderSize + 8
	}

	binary.LittleEndian.PutUint16(dst[0:], uint16(n))
	dst[2] = byte(e.Kind)
	dst[3] = byte(flags)
	binary.LittleEndian.PutUint32(dst[4:], e.ThreadID)
	binary.LittleEndian.PutUint64(dst[8:], e.Timestamp)
	binary.LittleEndian.PutUint32(dst[16:], e.Label)
	binary.LittleEndian.PutUint32(dst[20:], e.Fiber)
	binary.LittleEndian.PutUint64(dst[24:], payload)
	return n
}

// EncodeSkip fills dst with a single skip sentinel covering all of it.
// len(dst) must be a non-zero multiple of Align.
func EncodeSkip(dst []byte) {
	binary.LittleEndian.PutUint16(dst[0:], uint16(len(dst)))
	dst[2] = byte(KindSkip)
	dst[3] = 0
}

// Peek returns the size and kind of the record at the start of src without
// validating the rest.
func Peek(src []byte) (int, Kind) {
	if len(src) < 4 {
		return 0, 0
	}
	return int(binary.LittleEndian.Uint16(src[0:])), Kind(src[2])
}

// Decode parses the record at the start of src and returns it with its size.
func Decode(src []byte) (Event, int, error) {
	var e Event
	if len(src) < HeaderSize {
		return e, 0, ErrShortRecord
	}
	n := int(binary.LittleEndian.Uint16(src[0:]))
	if n < HeaderSize || n%Align != 0 || n > len(src) || n > MaxRecordSize {
		return e, 0, ErrBadSize
	}

	e.Kind = Kind(src[2])
	if !e.Kind.Valid() {
		return e, 0, ErrUnknownKind
	}
	e.Flags = Flags(src[3])
	e.ThreadID = binary.LittleEndian.Uint32(src[4:])
	e.Timestamp = binary.LittleEndian.Uint64(src[8:])
	e.Label = binary.LittleEndian.Uint32(src[16:])
	e.Fiber = binary.LittleEndian.Uint32(src[20:])
	e.Payload = binary.LittleEndian.Uint64(src[24:])

	switch {
	case e.Kind == KindAlloc:
		if n != HeaderSize+8 {
			return e, 0, ErrBadSize
		}
		e.Address = binary.LittleEndian.Uint64(src[HeaderSize:])
	case e.Flags.Has(FlagInline):
		l := int(e.Payload)
		if l > MaxText || HeaderSize+pad(l) != n {
			return e, 0, ErrBadSize
		}
		e.Text = string(src[HeaderSize : HeaderSize+l])
	default:
		if n != HeaderSize {
			return e, 0, ErrBadSize
		}
	}
	return e, n, nil
}

// Clip cuts s to MaxText bytes without splitting a rune.
func Clip(s string) string {
	if len(s) <= MaxText {
		return s
	}
	i := MaxText
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return s[:i]
}

func pad(n int) int {
	return (n + Align - 1) &^ (Align - 1)
}
