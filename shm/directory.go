package shm

import (
	"encoding/binary"
	"sync/atomic"
)

// Directory slot layout.
const (
	slotThreadID   = 0
	slotState      = 4
	slotName       = 8
	slotOSThread   = 12
	slotRegistered = 16
)

// Slot states.
const (
	SlotFree     uint32 = 0
	SlotActive   uint32 = 1
	SlotReleased uint32 = 2
)

// SlotInfo is a snapshot of one directory entry.
type SlotInfo struct {
	Index      int
	ThreadID   uint32
	State      uint32
	NameLabel  uint32
	OSThreadID uint32
	Registered uint64 // ticks
}

// PublishSlot fills slot i and marks it active. The state store publishes
// the other fields, so a collector that observes SlotActive sees them all.
func (s *Segment) PublishSlot(info SlotInfo) {
	off := DirectoryOffset + info.Index*SlotSize
	atomic.StoreUint32(s.u32(off+slotThreadID), info.ThreadID)
	binary.LittleEndian.PutUint32(s.data[off+slotName:], info.NameLabel)
	binary.LittleEndian.PutUint32(s.data[off+slotOSThread:], info.OSThreadID)
	binary.LittleEndian.PutUint64(s.data[off+slotRegistered:], info.Registered)
	atomic.StoreUint32(s.u32(off+slotState), SlotActive)

	// Raise the high water mark so collectors scan this slot.
	for {
		n := atomic.LoadUint32(s.u32(offRegistered))
		if int(n) > info.Index || atomic.CompareAndSwapUint32(s.u32(offRegistered), n, uint32(info.Index+1)) {
			return
		}
	}
}

// ReleaseSlot marks slot i released. Its ring keeps any undrained records.
func (s *Segment) ReleaseSlot(i int) {
	atomic.StoreUint32(s.u32(DirectoryOffset+i*SlotSize+slotState), SlotReleased)
}

// Slot returns a snapshot of slot i.
func (s *Segment) Slot(i int) SlotInfo {
	off := DirectoryOffset + i*SlotSize
	info := SlotInfo{Index: i, State: atomic.LoadUint32(s.u32(off + slotState))}
	if info.State == SlotFree {
		return info
	}
	info.ThreadID = atomic.LoadUint32(s.u32(off + slotThreadID))
	info.NameLabel = binary.LittleEndian.Uint32(s.data[off+slotName:])
	info.OSThreadID = binary.LittleEndian.Uint32(s.data[off+slotOSThread:])
	info.Registered = binary.LittleEndian.Uint64(s.data[off+slotRegistered:])
	return info
}
