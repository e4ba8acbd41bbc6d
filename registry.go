//go:build !lens_disabled

package lens

import "sync"

// threadMap is a thread-safe map of live producer threads
type threadMap struct {
	threads map[uint32]*Thread
	mu      sync.RWMutex
}

func newThreadMap() *threadMap {
	return &threadMap{
		threads: make(map[uint32]*Thread),
	}
}

func (m *threadMap) Add(t *Thread) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threads[t.id] = t
}

func (m *threadMap) Remove(id uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.threads, id)
}

func (m *threadMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.threads)
}

// List returns all threads in the map
func (m *threadMap) List() []*Thread {
	m.mu.RLock()
	defer m.mu.RUnlock()
	threads := make([]*Thread, 0, len(m.threads))
	for _, t := range m.threads {
		threads = append(threads, t)
	}
	return threads
}
