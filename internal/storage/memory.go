package storage

import (
	"sync"

	"github.com/guptamayank9827/causal-order/internal/causal"
)

type MemoryStorage struct {
	mu       sync.RWMutex
	messages []causal.Message
	seen     map[int]struct{}
	closed   bool
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{seen: make(map[int]struct{})}
}

func (m *MemoryStorage) Append(msg causal.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.seen[msg.ID]; ok {
		return ErrDuplicate
	}
	msg.Clock = append([]int(nil), msg.Clock...)
	m.messages = append(m.messages, msg)
	m.seen[msg.ID] = struct{}{}
	return nil
}

func (m *MemoryStorage) Delivered() []causal.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]causal.Message, len(m.messages))
	copy(result, m.messages)
	return result
}

func (m *MemoryStorage) IDs() []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]int, len(m.messages))
	for i, msg := range m.messages {
		ids[i] = msg.ID
	}
	return ids
}

func (m *MemoryStorage) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.messages)
}

func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
