// Package ring implements the bounded byte ring that carries encoded events
// from one producer thread to the collector.
//
// A ring lives inside a shared memory region and is addressed purely through
// offsets. The producer owns the write cursor and the dropped counter; the
// collector owns the read cursor. Each side only loads the other's cursor.
// Cursors are byte offsets that grow forever; the position inside the data
// area is cursor & (capacity-1).
package ring

import (
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/jnesss/temporal-lens/event"
)

// Control block layout. The read cursor sits on its own cache line so the
// collector's stores never bounce the producer's line.
const (
	offWrite    = 0
	offDropped  = 8
	offRead     = 64
	ControlSize = 128
)

// MinCapacity is the smallest accepted data area.
const MinCapacity = 256

var (
	ErrCapacity   = errors.New("ring capacity must be a power of two >= 256")
	ErrMisaligned = errors.New("ring region is not 8-byte aligned")
	ErrCorrupt    = errors.New("ring contents corrupt")
)

// Ring is a view over a region. It holds no memory of its own.
type Ring struct {
	write   *uint64
	dropped *uint64
	read    *uint64
	data    []byte
	size    uint64
	mask    uint64
}

// RegionSize returns the bytes a ring with the given data capacity occupies.
func RegionSize(capacity int) int {
	return ControlSize + capacity
}

// ValidCapacity reports whether capacity can back a ring.
func ValidCapacity(capacity int) bool {
	return capacity >= MinCapacity && capacity&(capacity-1) == 0 && capacity <= 1<<30
}

// Init zeroes the control block of region and returns a ring over it.
func Init(region []byte) (*Ring, error) {
	if len(region) < ControlSize {
		return nil, ErrCapacity
	}
	clear(region[:ControlSize])
	return Attach(region)
}

// Attach returns a ring over an already initialized region.
func Attach(region []byte) (*Ring, error) {
	capacity := len(region) - ControlSize
	if !ValidCapacity(capacity) {
		return nil, fmt.Errorf("%w: got %d", ErrCapacity, capacity)
	}
	if uintptr(unsafe.Pointer(&region[0]))%8 != 0 {
		return nil, ErrMisaligned
	}
	return &Ring{
		write:   (*uint64)(unsafe.Pointer(&region[offWrite])),
		dropped: (*uint64)(unsafe.Pointer(&region[offDropped])),
		read:    (*uint64)(unsafe.Pointer(&region[offRead])),
		data:    region[ControlSize:],
		size:    uint64(capacity),
		mask:    uint64(capacity - 1),
	}, nil
}

// Capacity returns the size of the data area in bytes.
func (r *Ring) Capacity() int {
	return int(r.size)
}

// TryWrite copies rec into the ring and publishes it with a single store of
// the write cursor. It never blocks: when the record does not fit it is
// dropped, the dropped counter is incremented and false is returned.
// len(rec) must be a non-zero multiple of event.Align. Producer only.
func (r *Ring) TryWrite(rec []byte) bool {
	n := uint64(len(rec))
	w := atomic.LoadUint64(r.write)
	rd := atomic.LoadUint64(r.read)

	pos := w & r.mask
	tail := r.size - pos
	need := n
	if n > tail {
		need += tail
	}
	if w+need-rd > r.size {
		atomic.AddUint64(r.dropped, 1)
		return false
	}

	if n > tail {
		event.EncodeSkip(r.data[pos:])
		w += tail
		pos = 0
	}
	copy(r.data[pos:pos+n], rec)
	atomic.StoreUint64(r.write, w+n)
	return true
}

// Drain copies up to max whole records (all of them when max <= 0) written
// since the last drain, then advances the read cursor once. Skip sentinels
// are consumed silently. Collector only.
func (r *Ring) Drain(max int) ([][]byte, error) {
	w := atomic.LoadUint64(r.write)
	rd := atomic.LoadUint64(r.read)
	if w-rd > r.size {
		return nil, fmt.Errorf("%w: %d bytes pending in %d byte ring", ErrCorrupt, w-rd, r.size)
	}

	var out [][]byte
	for rd < w && (max <= 0 || len(out) < max) {
		pos := rd & r.mask
		size, kind := event.Peek(r.data[pos:])
		n := uint64(size)
		if size < event.Align || size%event.Align != 0 || n > r.size-pos || rd+n > w {
			atomic.StoreUint64(r.read, rd)
			return out, fmt.Errorf("%w: record size %d at offset %d", ErrCorrupt, size, pos)
		}
		if kind != event.KindSkip {
			rec := make([]byte, size)
			copy(rec, r.data[pos:pos+n])
			out = append(out, rec)
		}
		rd += n
	}
	atomic.StoreUint64(r.read, rd)
	return out, nil
}

// Pending returns the bytes written but not yet drained.
func (r *Ring) Pending() uint64 {
	return atomic.LoadUint64(r.write) - atomic.LoadUint64(r.read)
}

// Dropped returns how many records were refused for lack of space.
func (r *Ring) Dropped() uint64 {
	return atomic.LoadUint64(r.dropped)
}

// Written returns the write cursor.
func (r *Ring) Written() uint64 {
	return atomic.LoadUint64(r.write)
}
