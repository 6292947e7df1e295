package storage

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

const watchBuffer = 16

// Memory is an in-process device store. The zero value is not usable; call
// [NewMemory].
type Memory struct {
	mu       sync.RWMutex
	data     map[string]string
	watchers map[uint64]*memWatcher
	nextID   uint64
}

type memWatcher struct {
	ctx    context.Context
	key    string
	origin string

	mu     sync.Mutex
	closed bool
	ch     chan Change
}

// NewMemory returns an empty device store.
func NewMemory() *Memory {
	return &Memory{
		data:     make(map[string]string),
		watchers: make(map[uint64]*memWatcher),
	}
}

// Tab returns a view of the store acting as one tab. Writes through the view
// are delivered to every other tab's watchers.
func (m *Memory) Tab() *MemoryTab {
	return &MemoryTab{m: m, origin: uuid.NewString()}
}

// Get reads key without a tab identity.
func (m *Memory) Get(ctx context.Context, key string) (string, bool, error) {
	return m.get(key)
}

// Set writes key as an external writer; every tab observes the change.
func (m *Memory) Set(ctx context.Context, key, value string) error {
	m.write(Change{Key: key, Value: value})
	return nil
}

// Remove deletes key as an external writer.
func (m *Memory) Remove(ctx context.Context, key string) error {
	m.write(Change{Key: key, Removed: true})
	return nil
}

// Len returns the number of stored keys.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

func (m *Memory) get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *Memory) write(c Change) {
	m.mu.Lock()
	if c.Removed {
		if _, ok := m.data[c.Key]; !ok {
			m.mu.Unlock()
			return
		}
		delete(m.data, c.Key)
	} else {
		if old, ok := m.data[c.Key]; ok && old == c.Value {
			m.mu.Unlock()
			return
		}
		m.data[c.Key] = c.Value
	}
	targets := make([]*memWatcher, 0, len(m.watchers))
	for _, w := range m.watchers {
		if w.origin != "" && w.origin == c.Origin {
			continue
		}
		if w.key != "" && w.key != c.Key {
			continue
		}
		targets = append(targets, w)
	}
	m.mu.Unlock()

	for _, w := range targets {
		w.deliver(c)
	}
}

func (m *Memory) watch(ctx context.Context, key, origin string) (<-chan Change, error) {
	w := &memWatcher{ctx: ctx, key: key, origin: origin, ch: make(chan Change, watchBuffer)}

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.watchers[id] = w
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.watchers, id)
		m.mu.Unlock()

		w.mu.Lock()
		w.closed = true
		close(w.ch)
		w.mu.Unlock()
	}()

	return w.ch, nil
}

func (w *memWatcher) deliver(c Change) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	select {
	case w.ch <- c:
	case <-w.ctx.Done():
	}
}

// Watch streams every change to key.
func (m *Memory) Watch(ctx context.Context, key string) (<-chan Change, error) {
	return m.watch(ctx, key, "")
}

// MemoryTab is one tab's view of a [Memory] store.
type MemoryTab struct {
	m      *Memory
	origin string
}

// Origin returns the tab identity stamped on its writes.
func (t *MemoryTab) Origin() string {
	return t.origin
}

// Get reads key from the shared device.
func (t *MemoryTab) Get(ctx context.Context, key string) (string, bool, error) {
	return t.m.get(key)
}

// Set writes key and notifies the other tabs watching it.
func (t *MemoryTab) Set(ctx context.Context, key, value string) error {
	t.m.write(Change{Key: key, Value: value, Origin: t.origin})
	return nil
}

// Remove deletes key and notifies the other tabs watching it.
func (t *MemoryTab) Remove(ctx context.Context, key string) error {
	t.m.write(Change{Key: key, Removed: true, Origin: t.origin})
	return nil
}

// Watch streams changes to key made by other tabs.
func (t *MemoryTab) Watch(ctx context.Context, key string) (<-chan Change, error) {
	return t.m.watch(ctx, key, t.origin)
}
