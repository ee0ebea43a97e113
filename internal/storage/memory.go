package storage

import (
	"context"
	"sync"
	"time"
)

const watchBuffer = 64

// MemoryStore is an in-process key-value store. Each View acts as one origin;
// a store with a single view behaves like a tab-scoped tier.
type MemoryStore struct {
	mu       sync.RWMutex
	data     map[string]string
	watchers map[int]*memoryWatcher
	nextID   int
}

type memoryWatcher struct {
	origin string
	ch     chan ChangeEvent
	done   chan struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:     make(map[string]string),
		watchers: make(map[int]*memoryWatcher),
	}
}

// View returns a tier over the store whose writes are attributed to origin
func (m *MemoryStore) View(origin string) *MemoryView {
	return &MemoryView{store: m, origin: origin}
}

// Len returns the number of stored keys
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

func (m *MemoryStore) notify(ev ChangeEvent) {
	m.mu.RLock()
	targets := make([]*memoryWatcher, 0, len(m.watchers))
	for _, w := range m.watchers {
		if w.origin != ev.Origin {
			targets = append(targets, w)
		}
	}
	m.mu.RUnlock()

	for _, w := range targets {
		select {
		case w.ch <- ev:
		case <-w.done:
		}
	}
}

// MemoryView is one origin's handle on a MemoryStore
type MemoryView struct {
	store  *MemoryStore
	origin string
}

var (
	_ Tier      = (*MemoryView)(nil)
	_ Watchable = (*MemoryView)(nil)
)

func (v *MemoryView) Origin() string {
	return v.origin
}

func (v *MemoryView) Get(ctx context.Context, key string) (string, bool, error) {
	v.store.mu.RLock()
	defer v.store.mu.RUnlock()
	value, ok := v.store.data[key]
	return value, ok, nil
}

func (v *MemoryView) Set(ctx context.Context, key, value string) error {
	v.store.mu.Lock()
	v.store.data[key] = value
	v.store.mu.Unlock()

	v.store.notify(ChangeEvent{Key: key, Origin: v.origin, At: time.Now()})
	return nil
}

func (v *MemoryView) Remove(ctx context.Context, key string) error {
	v.store.mu.Lock()
	_, existed := v.store.data[key]
	delete(v.store.data, key)
	v.store.mu.Unlock()

	if existed {
		v.store.notify(ChangeEvent{Key: key, Origin: v.origin, Removed: true, At: time.Now()})
	}
	return nil
}

// Watch delivers writes made through other views of the same store
func (v *MemoryView) Watch(ctx context.Context, fn func(ChangeEvent)) (func(), error) {
	w := &memoryWatcher{
		origin: v.origin,
		ch:     make(chan ChangeEvent, watchBuffer),
		done:   make(chan struct{}),
	}

	v.store.mu.Lock()
	id := v.store.nextID
	v.store.nextID++
	v.store.watchers[id] = w
	v.store.mu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			v.store.mu.Lock()
			delete(v.store.watchers, id)
			v.store.mu.Unlock()
			close(w.done)
		})
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				stop()
				return
			case <-w.done:
				return
			case ev := <-w.ch:
				fn(ev)
			}
		}
	}()

	return stop, nil
}
