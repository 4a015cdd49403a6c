package relay

import (
	"sync"
	"time"
)

// waiting is a connection parked in the table until its partner arrives.
// Whoever removes it from the table owns the stream afterwards.
type waiting struct {
	id      string
	stream  Stream
	since   time.Time
	claimed chan struct{} // closed when a partner takes the entry
}

// table maps session ids to at most one waiting connection. Every operation
// is a single critical section without I/O.
type table struct {
	mu      sync.Mutex
	waiting map[string]*waiting
}

func newTable() *table {
	return &table{waiting: make(map[string]*waiting)}
}

// Pair takes the entry waiting under id if there is one. Otherwise it parks
// s under id and returns the new entry. Exactly one of two racing callers
// with the same id gets the partner.
func (t *table) Pair(id string, s Stream, now time.Time) (partner *waiting, parked *waiting) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if w, ok := t.waiting[id]; ok {
		delete(t.waiting, id)
		close(w.claimed)
		return w, nil
	}
	w := &waiting{id: id, stream: s, since: now, claimed: make(chan struct{})}
	t.waiting[id] = w
	return nil, w
}

// Remove deletes w if it is still the entry stored under its id. It returns
// false when a partner already took it or it was removed before, so a second
// removal is a no-op and never evicts a newer entry with the same id.
func (t *table) Remove(w *waiting) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.waiting[w.id]; ok && cur == w {
		delete(t.waiting, w.id)
		return true
	}
	return false
}

// Len returns the number of waiting connections.
func (t *table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.waiting)
}
