// Package lens records timing and contextual events from a latency
// sensitive process into shared memory, where an out-of-process collector
// drains them.
//
// A Lens is the process-scoped context: it owns the transport session, the
// label interning table and the registry of producer threads. Each goroutine
// that records events takes its own Thread, which owns one ring in the
// segment, so the write path never contends with other producers:
//
//	l := lens.New()
//	defer l.Close()
//
//	t := l.Thread("render")
//	defer t.Close()
//
//	func draw(t *lens.Thread) {
//		defer t.Begin("draw").End()
//		...
//	}
//
// Nothing touches the OS until the first event. If the segment cannot be
// set up, every call becomes a cheap no-op and Status reports why.
//
// Building with the lens_disabled tag swaps in an implementation of the same
// API whose methods are empty, so call sites read no clock and write no
// memory. The lens_trackheap tag enables TrackAlloc and TrackFree; the
// lens_servermode tag exposes session metadata serialization.
package lens
