package store

import (
	"context"
	"slices"
	"sync"
)

// MemoryBackend keeps documents in process. Every watcher gets its own
// unbounded queue so a slow subscriber never blocks a writer.
type MemoryBackend struct {
	mu   sync.Mutex
	docs map[string][]byte
	subs map[*memorySub]struct{}
}

type memorySub struct {
	origin string

	mu    sync.Mutex
	queue []Change
	wake  chan struct{}
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		docs: make(map[string][]byte),
		subs: make(map[*memorySub]struct{}),
	}
}

func (m *MemoryBackend) Load(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.docs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(v), nil
}

func (m *MemoryBackend) Save(_ context.Context, key, origin string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.docs[key] = slices.Clone(value)
	for sub := range m.subs {
		if sub.origin == origin {
			continue
		}
		sub.push(Change{Key: key, Origin: origin, Value: slices.Clone(value)})
	}
	return nil
}

func (m *MemoryBackend) Watch(ctx context.Context, origin string) (<-chan Change, error) {
	sub := &memorySub{origin: origin, wake: make(chan struct{}, 1)}

	m.mu.Lock()
	m.subs[sub] = struct{}{}
	m.mu.Unlock()

	out := make(chan Change)
	go func() {
		defer close(out)
		defer func() {
			m.mu.Lock()
			delete(m.subs, sub)
			m.mu.Unlock()
		}()

		for {
			for _, c := range sub.drain() {
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-sub.wake:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (m *MemoryBackend) Ping(context.Context) error { return nil }

func (m *MemoryBackend) Close() error { return nil }

func (s *memorySub) push(c Change) {
	s.mu.Lock()
	s.queue = append(s.queue, c)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *memorySub) drain() []Change {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queue
	s.queue = nil
	return q
}
