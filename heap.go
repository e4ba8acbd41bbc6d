//go:build lens_trackheap && !lens_disabled

package lens

import "github.com/jnesss/temporal-lens/event"

// TrackAlloc records a heap allocation of size bytes at addr.
func (t *Thread) TrackAlloc(addr uintptr, size uint64, tag Label) {
	t.emit(event.KindAlloc, 0, tag.id, tag.text, size, "", uint64(addr))
}

// TrackFree records the release of an allocation made at addr.
func (t *Thread) TrackFree(addr uintptr, size uint64, tag Label) {
	t.emit(event.KindAlloc, event.FlagFree, tag.id, tag.text, size, "", uint64(addr))
}
