package shm

import (
	"errors"
	"fmt"

	"github.com/jnesss/temporal-lens/intern"
	"github.com/jnesss/temporal-lens/ring"
)

// Header field offsets. The header occupies one page; the ring directory
// starts at DirectoryOffset.
const (
	offMagic              = 0
	offVersion            = 4
	offWordSize           = 8
	offState              = 12
	offGeneration         = 16
	offProducerHeartbeat  = 24
	offCollectorHeartbeat = 32
	offPID                = 40
	offRings              = 44
	offRingCapacity       = 48
	offRegistered         = 52
	offInternCapacity     = 56
	offSessionID          = 64
	offStartUnixNano      = 80
	offTicksPerSecond     = 88

	DirectoryOffset = 256
	SlotSize        = 32
	HeaderSize      = 4096

	// MaxRings is how many directory slots fit in the header page.
	MaxRings = (HeaderSize - DirectoryOffset) / SlotSize
)

const (
	Magic           uint32 = 0x1DC45EF1
	ProtocolVersion uint32 = 0x00_02_0000 // major_minor_patch
)

var ErrLayout = errors.New("invalid segment layout")

// Layout sizes the regions of a segment.
type Layout struct {
	Rings          int // Ring directory slots
	RingCapacity   int // Data bytes per ring, power of two
	InternCapacity int // Label entries
}

// DefaultLayout is sized for a handful of busy threads.
var DefaultLayout = Layout{
	Rings:          32,
	RingCapacity:   64 << 10,
	InternCapacity: 1024,
}

// Validate checks the layout against the format limits.
func (l Layout) Validate() error {
	switch {
	case l.Rings <= 0 || l.Rings > MaxRings:
		return fmt.Errorf("%w: ring count %d outside 1..%d", ErrLayout, l.Rings, MaxRings)
	case !ring.ValidCapacity(l.RingCapacity):
		return fmt.Errorf("%w: ring capacity %d", ErrLayout, l.RingCapacity)
	case l.InternCapacity <= 0:
		return fmt.Errorf("%w: intern capacity %d", ErrLayout, l.InternCapacity)
	}
	return nil
}

// RingOffset returns the offset of ring i.
func (l Layout) RingOffset(i int) int {
	return HeaderSize + i*ring.RegionSize(l.RingCapacity)
}

// InternOffset returns the offset of the interning region.
func (l Layout) InternOffset() int {
	return l.RingOffset(l.Rings)
}

// Size returns the total segment size in bytes.
func (l Layout) Size() int {
	return l.InternOffset() + intern.RegionSize(l.InternCapacity)
}
