// Package shm owns the bit-exact layout of the shared memory segment and its
// mapping into the process.
//
// A segment is a header page (compatibility fields, session metadata and the
// ring directory), followed by one region per ring, followed by the label
// interning region. Mutable header fields are only touched through atomics.
package shm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/google/uuid"

	"github.com/jnesss/temporal-lens/clock"
)

// Prefix starts the name of every segment so collectors can find them.
const Prefix = "temporal-lens."

var (
	ErrBadMagic         = errors.New("segment magic mismatch")
	ErrProtocolMismatch = errors.New("segment protocol version mismatch")
	ErrPlatformMismatch = errors.New("segment word size mismatch")
	ErrTruncated        = errors.New("segment smaller than its layout")
	ErrUnsupported      = errors.New("shared memory not supported on this platform")
)

var wordSize = uint32(unsafe.Sizeof(uintptr(0)))

// DefaultRoot is the directory where segments are created.
func DefaultRoot() string {
	if runtime.GOOS == "linux" {
		return "/dev/shm"
	}
	return os.TempDir()
}

// SegmentPath returns the well known segment path for a process.
func SegmentPath(root string, pid int) string {
	return filepath.Join(root, Prefix+strconv.Itoa(pid))
}

// ParseName extracts the process id from a segment file name.
func ParseName(name string) (int, bool) {
	base := filepath.Base(name)
	if !strings.HasPrefix(base, Prefix) {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimPrefix(base, Prefix))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// Segment is one mapped shared memory segment.
type Segment struct {
	path   string
	data   []byte
	layout Layout
}

// Create makes a fresh segment at path. A segment left behind at the same
// path is unlinked first and its generation carried forward, so collectors
// still mapping the old file never see its data reused.
func Create(path string, layout Layout, id uuid.UUID) (*Segment, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}

	generation := previousGeneration(path) + 1
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to remove stale segment: %w", err)
	}

	data, err := mapFile(path, layout.Size(), true)
	if err != nil {
		return nil, err
	}

	s := &Segment{path: path, data: data, layout: layout}
	s.putUint32(offVersion, ProtocolVersion)
	s.putUint32(offWordSize, wordSize)
	s.putUint32(offPID, uint32(os.Getpid()))
	s.putUint32(offRings, uint32(layout.Rings))
	s.putUint32(offRingCapacity, uint32(layout.RingCapacity))
	s.putUint32(offInternCapacity, uint32(layout.InternCapacity))
	copy(data[offSessionID:offSessionID+16], id[:])
	binary.LittleEndian.PutUint64(data[offStartUnixNano:], uint64(time.Now().UnixNano()))
	binary.LittleEndian.PutUint64(data[offTicksPerSecond:], clock.TicksPerSecond)
	atomic.StoreUint64(s.u64(offGeneration), generation)

	// Magic last: a collector racing the setup rejects the segment until
	// every other field is in place.
	atomic.StoreUint32(s.u32(offMagic), Magic)
	return s, nil
}

// Open maps an existing segment after checking it was written by a
// compatible producer.
func Open(path string) (*Segment, error) {
	data, err := mapFile(path, 0, false)
	if err != nil {
		return nil, err
	}
	s := &Segment{path: path, data: data}

	if err := s.check(); err != nil {
		unmap(data)
		return nil, err
	}
	return s, nil
}

func (s *Segment) check() error {
	if len(s.data) < HeaderSize {
		return ErrTruncated
	}
	switch {
	case atomic.LoadUint32(s.u32(offMagic)) != Magic:
		return ErrBadMagic
	case s.uint32(offVersion) != ProtocolVersion:
		return ErrProtocolMismatch
	case s.uint32(offWordSize) != wordSize:
		return ErrPlatformMismatch
	}

	s.layout = Layout{
		Rings:          int(s.uint32(offRings)),
		RingCapacity:   int(s.uint32(offRingCapacity)),
		InternCapacity: int(s.uint32(offInternCapacity)),
	}
	if err := s.layout.Validate(); err != nil {
		return err
	}
	if len(s.data) < s.layout.Size() {
		return ErrTruncated
	}
	return nil
}

// Close unmaps the segment. The file stays in place.
func (s *Segment) Close() error {
	if s.data == nil {
		return nil
	}
	err := unmap(s.data)
	s.data = nil
	return err
}

// Remove unlinks the segment file. Existing mappings stay valid.
func (s *Segment) Remove() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove segment: %w", err)
	}
	return nil
}

func (s *Segment) Path() string   { return s.path }
func (s *Segment) Layout() Layout { return s.layout }

// RingRegion returns the bytes of ring i.
func (s *Segment) RingRegion(i int) []byte {
	off := s.layout.RingOffset(i)
	return s.data[off:s.layout.RingOffset(i+1)]
}

// InternRegion returns the bytes of the interning region.
func (s *Segment) InternRegion() []byte {
	return s.data[s.layout.InternOffset():s.layout.Size()]
}

func (s *Segment) PID() int { return int(atomic.LoadUint32(s.u32(offPID))) }

// SessionID returns the identity of the producer instance.
func (s *Segment) SessionID() uuid.UUID {
	var id uuid.UUID
	binary.LittleEndian.PutUint64(id[0:], atomic.LoadUint64(s.u64(offSessionID)))
	binary.LittleEndian.PutUint64(id[8:], atomic.LoadUint64(s.u64(offSessionID+8)))
	return id
}

// SetSessionID records the producer instance now writing the segment.
func (s *Segment) SetSessionID(id uuid.UUID) {
	atomic.StoreUint64(s.u64(offSessionID), binary.LittleEndian.Uint64(id[0:]))
	atomic.StoreUint64(s.u64(offSessionID+8), binary.LittleEndian.Uint64(id[8:]))
}

// StartTime returns the wall clock instant of tick zero.
func (s *Segment) StartTime() time.Time {
	return time.Unix(0, int64(atomic.LoadUint64(s.u64(offStartUnixNano))))
}

// TicksPerSecond returns the timestamp unit. Zero means the producer's
// clock did not declare one.
func (s *Segment) TicksPerSecond() uint64 {
	return atomic.LoadUint64(s.u64(offTicksPerSecond))
}

// SetTiming records the wall clock instant of tick zero and the tick rate
// of the producer's clock.
func (s *Segment) SetTiming(start time.Time, ticksPerSecond uint64) {
	atomic.StoreUint64(s.u64(offStartUnixNano), uint64(start.UnixNano()))
	atomic.StoreUint64(s.u64(offTicksPerSecond), ticksPerSecond)
}

func (s *Segment) State() uint32         { return atomic.LoadUint32(s.u32(offState)) }
func (s *Segment) SetState(state uint32) { atomic.StoreUint32(s.u32(offState), state) }

func (s *Segment) Generation() uint64 { return atomic.LoadUint64(s.u64(offGeneration)) }

// BumpGeneration increments the generation and returns the new value.
func (s *Segment) BumpGeneration() uint64 { return atomic.AddUint64(s.u64(offGeneration), 1) }

func (s *Segment) ProducerHeartbeat() uint64 { return atomic.LoadUint64(s.u64(offProducerHeartbeat)) }
func (s *Segment) SetProducerHeartbeat(ticks uint64) {
	atomic.StoreUint64(s.u64(offProducerHeartbeat), ticks)
}

// CollectorHeartbeat is the one header field written by the collector. It
// holds the collector's wall clock in unix nanoseconds; zero means no
// collector ever attached.
func (s *Segment) CollectorHeartbeat() uint64 { return atomic.LoadUint64(s.u64(offCollectorHeartbeat)) }
func (s *Segment) SetCollectorHeartbeat(unixNano uint64) {
	atomic.StoreUint64(s.u64(offCollectorHeartbeat), unixNano)
}

// Registered returns how many directory slots were ever claimed.
func (s *Segment) Registered() int { return int(atomic.LoadUint32(s.u32(offRegistered))) }

func (s *Segment) uint32(off int) uint32 {
	return binary.LittleEndian.Uint32(s.data[off:])
}

func (s *Segment) putUint32(off int, v uint32) {
	binary.LittleEndian.PutUint32(s.data[off:], v)
}

func (s *Segment) u32(off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&s.data[off]))
}

func (s *Segment) u64(off int) *uint64 {
	return (*uint64)(unsafe.Pointer(&s.data[off]))
}

// previousGeneration reads the generation of a segment left at path, or 0.
func previousGeneration(path string) uint64 {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()

	var hdr [offGeneration + 8]byte
	if _, err := f.ReadAt(hdr[:], 0); err != nil {
		return 0
	}
	if binary.LittleEndian.Uint32(hdr[offMagic:]) != Magic {
		return 0
	}
	return binary.LittleEndian.Uint64(hdr[offGeneration:])
}

// SetPID records the process currently writing the segment.
func (s *Segment) SetPID(pid int) { atomic.StoreUint32(s.u32(offPID), uint32(pid)) }

// ResetDirectory frees every directory slot.
func (s *Segment) ResetDirectory() {
	atomic.StoreUint32(s.u32(offRegistered), 0)
	for i := 0; i < s.layout.Rings; i++ {
		atomic.StoreUint32(s.u32(DirectoryOffset+i*SlotSize+slotState), SlotFree)
	}
}
