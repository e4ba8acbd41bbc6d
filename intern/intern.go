// Package intern maps label text to small integer ids stored in the shared
// segment, so events carry a 4 byte id instead of the text.
package intern

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/jnesss/temporal-lens/event"
)

// Region layout: a 64 byte control block followed by fixed size entries.
// Entry i holds the text of id i+1.
const (
	offCount    = 0
	offCapacity = 4
	offOverflow = 8
	ControlSize = 64

	EntrySize = 8 + event.MaxText
)

var (
	ErrRegion     = errors.New("intern region too small")
	ErrMisaligned = errors.New("intern region is not 8-byte aligned")
)

// RegionSize returns the bytes a table of capacity entries occupies.
func RegionSize(capacity int) int {
	return ControlSize + capacity*EntrySize
}

// Table is a view over an intern region.
type Table struct {
	count    *uint32
	overflow *uint64
	capacity int
	entries  []byte

	mu  sync.Mutex
	ids sync.Map // string -> uint32, producer side only
}

// Init formats region as an empty table of capacity entries.
func Init(region []byte, capacity int) (*Table, error) {
	if len(region) < RegionSize(capacity) {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrRegion, RegionSize(capacity), len(region))
	}
	clear(region[:ControlSize])
	binary.LittleEndian.PutUint32(region[offCapacity:], uint32(capacity))
	return Attach(region)
}

// Attach returns a table over an initialized region.
func Attach(region []byte) (*Table, error) {
	if len(region) < ControlSize {
		return nil, ErrRegion
	}
	if uintptr(unsafe.Pointer(&region[0]))%8 != 0 {
		return nil, ErrMisaligned
	}
	capacity := int(binary.LittleEndian.Uint32(region[offCapacity:]))
	if len(region) < RegionSize(capacity) {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrRegion, RegionSize(capacity), len(region))
	}
	return &Table{
		count:    (*uint32)(unsafe.Pointer(&region[offCount])),
		overflow: (*uint64)(unsafe.Pointer(&region[offOverflow])),
		capacity: capacity,
		entries:  region[ControlSize:RegionSize(capacity)],
	}, nil
}

// Intern returns the id of label, adding it on first use. Text beyond
// event.MaxText is cut. When the table is full Intern returns 0 and counts
// an overflow; the label stays unresolved for the rest of the session.
func (t *Table) Intern(label string) uint32 {
	if v, ok := t.ids.Load(label); ok {
		return v.(uint32)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if v, ok := t.ids.Load(label); ok {
		return v.(uint32)
	}

	n := atomic.LoadUint32(t.count)
	if int(n) >= t.capacity {
		atomic.AddUint64(t.overflow, 1)
		t.ids.Store(label, uint32(0))
		return 0
	}

	text := event.Clip(label)
	entry := t.entries[int(n)*EntrySize : int(n+1)*EntrySize]
	binary.LittleEndian.PutUint32(entry[0:], uint32(len(text)))
	copy(entry[8:], text)

	// Entry bytes must be visible before the count that publishes them.
	atomic.StoreUint32(t.count, n+1)
	id := n + 1
	t.ids.Store(label, id)
	return id
}

// Lookup returns the text for id.
func (t *Table) Lookup(id uint32) (string, bool) {
	if id == 0 || int(id) > t.capacity || id > atomic.LoadUint32(t.count) {
		return "", false
	}
	entry := t.entries[int(id-1)*EntrySize : int(id)*EntrySize]
	l := int(binary.LittleEndian.Uint32(entry[0:]))
	if l > event.MaxText {
		return "", false
	}
	return string(entry[8 : 8+l]), true
}

// Len returns the number of published entries.
func (t *Table) Len() int {
	return int(atomic.LoadUint32(t.count))
}

// Capacity returns the maximum number of entries.
func (t *Table) Capacity() int {
	return t.capacity
}

// Overflow returns how many distinct labels were refused.
func (t *Table) Overflow() uint64 {
	return atomic.LoadUint64(t.overflow)
}
