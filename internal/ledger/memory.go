package ledger

import (
	"context"
	"sync"
	"time"
)

// Memory is the single instance Store.
type Memory struct {
	mu      sync.Mutex
	waiting map[string]time.Time
	paired  int64
	expired int64
	closed  map[string]int64
	closing bool
	ready   bool
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{waiting: make(map[string]time.Time), closed: make(map[string]int64)}
}

func (m *Memory) Waiting(_ context.Context, id string) {
	m.mu.Lock()
	m.waiting[id] = time.Now()
	m.mu.Unlock()
}

func (m *Memory) Paired(_ context.Context, id string) {
	m.mu.Lock()
	delete(m.waiting, id)
	m.paired++
	m.mu.Unlock()
}

func (m *Memory) Expired(_ context.Context, id string) {
	m.mu.Lock()
	delete(m.waiting, id)
	m.expired++
	m.mu.Unlock()
}

func (m *Memory) Closed(_ context.Context, _ string, outcome string, _ time.Duration) {
	m.mu.Lock()
	m.closed[outcome]++
	m.mu.Unlock()
}

func (m *Memory) Snapshot(context.Context) Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	closed := make(map[string]int64, len(m.closed))
	for k, v := range m.closed {
		closed[k] = v
	}
	return Snapshot{
		Waiting: len(m.waiting),
		Paired:  m.paired,
		Expired: m.expired,
		Closed:  closed,
		Now:     time.Now().UTC().Format(time.RFC3339),
	}
}

func (m *Memory) SetClosing(closing bool) { m.mu.Lock(); m.closing = closing; m.mu.Unlock() }
func (m *Memory) SetReady(ready bool)     { m.mu.Lock(); m.ready = ready; m.mu.Unlock() }
func (m *Memory) IsClosing() bool         { m.mu.Lock(); defer m.mu.Unlock(); return m.closing }
func (m *Memory) IsReady() bool           { m.mu.Lock(); defer m.mu.Unlock(); return m.ready }
func (m *Memory) Close() error            { return nil }
