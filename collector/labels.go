package collector

import (
	"strconv"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"github.com/jnesss/temporal-lens/intern"
)

// DefaultLabelCacheSize is the number of resolved labels kept per reader.
const DefaultLabelCacheSize = 4096

// Labels resolves label ids through a segment's interning table, keeping
// recently used texts in an LRU cache.
type Labels struct {
	mu    sync.RWMutex
	table *intern.Table
	cache *lru.Cache
}

// NewLabels creates a resolver with LRU eviction.
func NewLabels(size int) (*Labels, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &Labels{cache: cache}, nil
}

func (l *Labels) setTable(t *intern.Table) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.table = t
	l.cache.Purge()
}

func (l *Labels) current() *intern.Table {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.table
}

// Lookup returns the text for id. Ids that are not published yet, or were
// refused on overflow, report false.
func (l *Labels) Lookup(id uint32) (string, bool) {
	if v, ok := l.cache.Get(id); ok {
		return v.(string), true
	}

	t := l.current()
	if t == nil {
		return "", false
	}
	text, ok := t.Lookup(id)
	if ok {
		l.cache.Add(id, text)
	}
	return text, ok
}

// Name returns the text for id, or a placeholder naming the id.
func (l *Labels) Name(id uint32) string {
	if text, ok := l.Lookup(id); ok {
		return text
	}
	if id == 0 {
		return "<unlabeled>"
	}
	return "#" + strconv.FormatUint(uint64(id), 10)
}

// Purge drops every cached entry.
func (l *Labels) Purge() {
	l.cache.Purge()
}

// Len returns the number of cached entries.
func (l *Labels) Len() int {
	return l.cache.Len()
}
