package queue

import (
	"context"
	"sync"
	"time"

	"github.com/TungSeven30/henrii-sub000/internal/models"
)

type memoryStore struct {
	mu    sync.Mutex
	items []models.QueuedMutation
}

func NewMemoryStore() Store {
	return &memoryStore{}
}

func (s *memoryStore) EnqueueEvent(_ context.Context, p Payload) (models.QueuedMutation, error) {
	entry, err := newEntry(p, time.Now())
	if err != nil {
		return models.QueuedMutation{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, entry)
	return entry, nil
}

func (s *memoryStore) ListQueuedEvents(context.Context) ([]models.QueuedMutation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.QueuedMutation{}, s.items...), nil
}

func (s *memoryStore) RemoveQueuedEvent(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, it := range s.items {
		if it.ID == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *memoryStore) CountQueuedEvents(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items), nil
}

func (s *memoryStore) Close() error {
	return nil
}
