//go:build !lens_trackheap && !lens_disabled

package lens

func (t *Thread) TrackAlloc(addr uintptr, size uint64, tag Label) {}

func (t *Thread) TrackFree(addr uintptr, size uint64, tag Label) {}
