package event

// Kind identifies the record type.
type Kind uint8

// Event kinds
const (
	KindSpanStart Kind = 1 // Start of a timed region
	KindSpanEnd   Kind = 2 // End of a timed region
	KindMarker    Kind = 3 // Instantaneous event
	KindCounter   Kind = 4 // Counter sample
	KindAlloc     Kind = 5 // Heap allocation or free
	KindFrame     Kind = 6 // Frame boundary
	KindLog       Kind = 7 // Inline text message

	// KindSkip pads the tail of a ring when a record does not fit before the
	// wrap point. It never surfaces as an event.
	KindSkip Kind = 0xFF
)

func (k Kind) String() string {
	switch k {
	case KindSpanStart:
		return "span_start"
	case KindSpanEnd:
		return "span_end"
	case KindMarker:
		return "marker"
	case KindCounter:
		return "counter"
	case KindAlloc:
		return "alloc"
	case KindFrame:
		return "frame"
	case KindLog:
		return "log"
	case KindSkip:
		return "skip"
	default:
		return "unknown"
	}
}

// Valid reports whether k is an event kind a decoder understands.
func (k Kind) Valid() bool {
	return k >= KindSpanStart && k <= KindLog
}

// Flags qualify a record.
type Flags uint8

const (
	FlagFloat     Flags = 1 << iota // Counter payload holds float64 bits
	FlagInline                      // Text trailer present
	FlagFree                        // Alloc record is a deallocation
	FlagImplicit                    // SpanEnd synthesized at thread close or teardown
	FlagTruncated                   // Inline text was cut to MaxText
)

// Has reports whether all bits of f2 are set.
func (f Flags) Has(f2 Flags) bool {
	return f&f2 == f2
}
