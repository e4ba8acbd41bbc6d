// Package session manages the lifecycle of the shared memory segment that
// links an instrumented process to its collector.
//
// The state machine is Uninitialized -> Creating|Attaching -> Active ->
// Degraded -> Closed. Setup is the only step touching the OS and the only
// one that may block. A setup failure leaves the session Degraded with no
// mapping, so producers fall back to no-ops. A stale collector heartbeat
// also degrades the session, but the mapping stays and producers keep
// writing. Nothing renegotiates until Reset.
package session

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/jnesss/temporal-lens/clock"
	"github.com/jnesss/temporal-lens/intern"
	"github.com/jnesss/temporal-lens/ring"
	"github.com/jnesss/temporal-lens/shm"
)

var (
	ErrClosed   = errors.New("session closed")
	ErrInactive = errors.New("session has no segment")
	ErrBusy     = errors.New("segment in use by another live producer")
	ErrNoRing   = errors.New("no free ring")
)

// Session owns one shared memory segment.
type Session struct {
	cfg     Config
	id      uuid.UUID
	state   atomic.Uint32
	mapped  atomic.Bool
	retryAt atomic.Int64 // unix nanos of the next allowed setup attempt

	mu          sync.Mutex // guards setup and teardown
	seg         *shm.Segment
	labels      *intern.Table
	rings       []*ring.Ring
	err         error
	lastAttempt time.Time
	since       atomic.Int64 // unix nanos, start of the current staleness window

	claimMu sync.Mutex
	inUse   []bool

	stop chan struct{}
	done chan struct{}
}

// New returns an uninitialized session. Nothing is mapped until Activate.
func New(cfg Config) *Session {
	cfg.setDefaults()
	return &Session{cfg: cfg, id: uuid.New()}
}

// State returns the current state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// ID returns the identity written into the segment header.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Err returns the setup error behind a Degraded state, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Mapped reports whether a segment is mapped.
func (s *Session) Mapped() bool {
	return s.mapped.Load()
}

// Activate maps the segment on first use. Later calls return immediately,
// except after a setup failure where a new attempt is made once
// RetryInterval has passed.
func (s *Session) Activate() error {
	switch s.State() {
	case StateActive:
		return nil
	case StateClosed:
		return ErrClosed
	case StateDegraded:
		if s.mapped.Load() {
			return nil
		}
		if time.Now().UnixNano() < s.retryAt.Load() {
			return ErrInactive
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activateLocked(false)
}

func (s *Session) activateLocked(force bool) error {
	switch s.State() {
	case StateClosed:
		return ErrClosed
	case StateActive:
		return nil
	case StateDegraded:
		if s.seg != nil {
			return nil
		}
		if !force && (s.cfg.RetryInterval < 0 || time.Since(s.lastAttempt) < s.cfg.RetryInterval) {
			return s.err
		}
	}

	s.lastAttempt = time.Now()
	if err := s.setup(); err != nil {
		s.err = err
		if s.cfg.RetryInterval < 0 {
			s.retryAt.Store(math.MaxInt64)
		} else {
			s.retryAt.Store(s.lastAttempt.Add(s.cfg.RetryInterval).UnixNano())
		}
		s.state.Store(uint32(StateDegraded))
		s.cfg.Logger.Warn("Telemetry session unavailable, instrumentation disabled",
			zap.String("path", s.cfg.Path),
			zap.Stringer("mode", s.cfg.Mode),
			zap.Error(err))
		return err
	}

	s.err = nil
	s.since.Store(time.Now().UnixNano())
	s.seg.SetState(uint32(StateActive))
	s.mapped.Store(true)
	s.state.Store(uint32(StateActive))

	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.monitor(s.seg, s.stop, s.done)

	s.cfg.Logger.Info("Telemetry session active",
		zap.String("path", s.cfg.Path),
		zap.Stringer("session", s.id),
		zap.Uint64("generation", s.seg.Generation()),
		zap.Int("rings", s.cfg.Layout.Rings),
		zap.Int("ring_capacity", s.cfg.Layout.RingCapacity))
	return nil
}

func (s *Session) setup() error {
	if s.cfg.Clock == nil {
		c, err := clock.NewMonotonic()
		if err != nil {
			return err
		}
		s.cfg.Clock = c
	}

	var (
		seg *shm.Segment
		err error
	)
	if s.cfg.Mode == ModeAttach {
		s.state.Store(uint32(StateAttaching))
		seg, err = s.attach()
	} else {
		s.state.Store(uint32(StateCreating))
		seg, err = shm.Create(s.cfg.Path, s.cfg.Layout, s.id)
	}
	if err != nil {
		return err
	}
	seg.SetTiming(timing(s.cfg.Clock))

	layout := seg.Layout()
	rings := make([]*ring.Ring, layout.Rings)
	for i := range rings {
		if rings[i], err = ring.Init(seg.RingRegion(i)); err != nil {
			seg.Close()
			return fmt.Errorf("failed to init ring %d: %w", i, err)
		}
	}
	labels, err := intern.Init(seg.InternRegion(), layout.InternCapacity)
	if err != nil {
		seg.Close()
		return fmt.Errorf("failed to init intern table: %w", err)
	}

	s.claimMu.Lock()
	s.cfg.Layout = layout
	s.seg = seg
	s.rings = rings
	s.labels = labels
	s.inUse = make([]bool, layout.Rings)
	s.claimMu.Unlock()
	return nil
}

// timing returns the header timing fields for c. A clock that does not
// declare its calibration is recorded as starting now with an unknown rate.
func timing(c clock.Clock) (time.Time, uint64) {
	if cc, ok := c.(clock.Calibrated); ok {
		return cc.Base(), cc.TicksPerSecond()
	}
	return time.Now(), 0
}

// attach takes over a segment created by a collector. The generation bump
// tells the collector a new writer owns it.
func (s *Session) attach() (*shm.Segment, error) {
	seg, err := shm.Open(s.cfg.Path)
	if err != nil {
		return nil, err
	}
	if State(seg.State()) == StateActive && seg.PID() != os.Getpid() && processAlive(seg.PID()) {
		seg.Close()
		return nil, fmt.Errorf("%w: pid %d", ErrBusy, seg.PID())
	}
	seg.SetPID(os.Getpid())
	seg.SetSessionID(s.id)
	seg.ResetDirectory()
	seg.BumpGeneration()
	return seg, nil
}

// monitor stamps the producer heartbeat and watches the collector's.
func (s *Session) monitor(seg *shm.Segment, stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.cfg.Heartbeat)
	defer ticker.Stop()

	for {
		seg.SetProducerHeartbeat(s.cfg.Clock.Now())
		if s.State() == StateActive && s.collectorStale(seg) {
			if s.state.CompareAndSwap(uint32(StateActive), uint32(StateDegraded)) {
				seg.SetState(uint32(StateDegraded))
				s.cfg.Logger.Warn("Collector heartbeat stale, session degraded",
					zap.String("path", s.cfg.Path),
					zap.Duration("stale_after", s.cfg.StaleAfter))
			}
		}

		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

func (s *Session) collectorStale(seg *shm.Segment) bool {
	last := s.since.Load()
	if hb := int64(seg.CollectorHeartbeat()); hb > last {
		last = hb
	}
	return time.Since(time.Unix(0, last)) > s.cfg.StaleAfter
}

// Reset leaves the Degraded state. Without a mapping it retries setup right
// away; with one it bumps the generation and restarts staleness tracking.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.State() {
	case StateClosed:
		return ErrClosed
	case StateUninitialized:
		return s.activateLocked(true)
	}
	if s.seg == nil {
		return s.activateLocked(true)
	}

	gen := s.seg.BumpGeneration()
	s.since.Store(time.Now().UnixNano())
	s.seg.SetState(uint32(StateActive))
	s.state.Store(uint32(StateActive))
	s.cfg.Logger.Info("Telemetry session reset", zap.Uint64("generation", gen))
	return nil
}

// ClaimRing assigns a free ring to a producer thread. A released ring is
// reused only once the collector has drained it.
func (s *Session) ClaimRing(threadID, nameLabel uint32) (int, *ring.Ring, error) {
	if !s.Mapped() {
		return -1, nil, ErrInactive
	}

	s.claimMu.Lock()
	defer s.claimMu.Unlock()
	if s.seg == nil {
		return -1, nil, ErrInactive
	}
	for i, used := range s.inUse {
		if used {
			continue
		}
		st := s.seg.Slot(i).State
		if st == shm.SlotActive || (st == shm.SlotReleased && s.rings[i].Pending() != 0) {
			continue
		}
		s.inUse[i] = true
		s.seg.PublishSlot(shm.SlotInfo{
			Index:      i,
			ThreadID:   threadID,
			NameLabel:  nameLabel,
			OSThreadID: clock.OSThreadID(),
			Registered: s.cfg.Clock.Now(),
		})
		return i, s.rings[i], nil
	}
	return -1, nil, ErrNoRing
}

// ReleaseRing returns a ring claimed with ClaimRing.
func (s *Session) ReleaseRing(slot int) {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()
	if s.seg == nil || slot < 0 || slot >= len(s.inUse) || !s.inUse[slot] {
		return
	}
	s.seg.ReleaseSlot(slot)
	s.inUse[slot] = false
}

// Labels returns the interning table, or nil without a mapping.
func (s *Session) Labels() *intern.Table {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.labels
}

// Clock returns the timestamp source, which may be nil before activation.
func (s *Session) Clock() clock.Clock {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Clock
}

// Info returns a snapshot of the session metadata.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := Info{
		SessionID: s.id.String(),
		Path:      s.cfg.Path,
		Mode:      s.cfg.Mode.String(),
		State:     s.State().String(),
		PID:       os.Getpid(),
	}
	if s.err != nil {
		info.Error = s.err.Error()
	}
	if s.seg == nil {
		return info
	}

	info.Generation = s.seg.Generation()
	info.RingCapacity = s.cfg.Layout.RingCapacity
	info.Labels = s.labels.Len()
	info.LabelOverflow = s.labels.Overflow()
	for i, r := range s.rings {
		slot := s.seg.Slot(i)
		if slot.State == shm.SlotFree {
			continue
		}
		info.Rings = append(info.Rings, RingInfo{
			Index:    i,
			ThreadID: slot.ThreadID,
			Active:   slot.State == shm.SlotActive,
			Pending:  r.Pending(),
			Dropped:  r.Dropped(),
		})
		info.Dropped += r.Dropped()
	}
	return info
}

// Close marks the segment closed, bumps its generation so a later process
// reusing the name is not mistaken for this one, and releases it. Callers
// must make sure no producer writes into a ring after Close starts.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() == StateClosed {
		return nil
	}
	s.state.Store(uint32(StateClosed))
	s.mapped.Store(false)

	if s.stop != nil {
		close(s.stop)
		<-s.done
		s.stop = nil
	}
	if s.seg == nil {
		return nil
	}

	s.seg.SetState(uint32(StateClosed))
	gen := s.seg.BumpGeneration()

	var result *multierror.Error
	if s.cfg.Mode == ModeCreate {
		if err := s.seg.Remove(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := s.seg.Close(); err != nil {
		result = multierror.Append(result, err)
	}

	s.claimMu.Lock()
	s.seg = nil
	s.rings = nil
	s.labels = nil
	s.inUse = nil
	s.claimMu.Unlock()

	s.cfg.Logger.Info("Telemetry session closed",
		zap.String("path", s.cfg.Path),
		zap.Uint64("generation", gen))
	return result.ErrorOrNil()
}
