package ownership

import (
	"context"
	"sync"
)

// MemoryStore is a process-local stand-in for the Redis keyspace. Each
// Node shares it the way relay nodes share Redis. Claims never expire;
// Expire simulates a TTL running out.
type MemoryStore struct {
	mu     sync.Mutex
	owners map[string]string
	nodes  []*MemoryRegistry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{owners: make(map[string]string)}
}

// Node returns a registry that claims rooms as self.
func (s *MemoryStore) Node(self string) *MemoryRegistry {
	n := &MemoryRegistry{store: s, self: self, held: make(map[string]chan struct{})}
	s.mu.Lock()
	s.nodes = append(s.nodes, n)
	s.mu.Unlock()
	return n
}

// Expire drops the claim on roomID and tells its holder.
func (s *MemoryStore) Expire(roomID string) {
	s.mu.Lock()
	delete(s.owners, roomID)
	nodes := append([]*MemoryRegistry(nil), s.nodes...)
	s.mu.Unlock()

	for _, n := range nodes {
		n.forget(roomID)
	}
}

var _ Registry = (*MemoryRegistry)(nil)

// MemoryRegistry is one node's view of a MemoryStore.
type MemoryRegistry struct {
	store *MemoryStore
	self  string

	mu   sync.Mutex
	held map[string]chan struct{}
}

func (m *MemoryRegistry) Self() string { return m.self }

func (m *MemoryRegistry) Claim(_ context.Context, roomID string) (string, bool, error) {
	m.store.mu.Lock()
	owner, ok := m.store.owners[roomID]
	if !ok {
		m.store.owners[roomID] = m.self
		owner = m.self
	}
	m.store.mu.Unlock()

	if owner != m.self {
		return owner, false, nil
	}
	m.mu.Lock()
	if _, ok := m.held[roomID]; !ok {
		m.held[roomID] = make(chan struct{})
	}
	m.mu.Unlock()
	return m.self, true, nil
}

func (m *MemoryRegistry) Lost(roomID string) <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.held[roomID]; ok {
		return ch
	}
	ch := make(chan struct{})
	close(ch)
	return ch
}

func (m *MemoryRegistry) Release(_ context.Context, roomID string) error {
	m.forget(roomID)
	m.store.mu.Lock()
	if m.store.owners[roomID] == m.self {
		delete(m.store.owners, roomID)
	}
	m.store.mu.Unlock()
	return nil
}

func (m *MemoryRegistry) Lookup(_ context.Context, roomID string) (string, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	owner, ok := m.store.owners[roomID]
	if !ok {
		return "", ErrNotFound
	}
	return owner, nil
}

func (m *MemoryRegistry) forget(roomID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.held[roomID]; ok {
		close(ch)
		delete(m.held, roomID)
	}
}

func (m *MemoryRegistry) StartHeartbeat(context.Context) error { return nil }

func (m *MemoryRegistry) StopHeartbeat() {}

func (m *MemoryRegistry) Close() error {
	m.mu.Lock()
	rooms := make([]string, 0, len(m.held))
	for roomID := range m.held {
		rooms = append(rooms, roomID)
	}
	m.mu.Unlock()
	for _, roomID := range rooms {
		_ = m.Release(context.Background(), roomID)
	}
	return nil
}
