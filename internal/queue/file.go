package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/TungSeven30/henrii-sub000/internal/models"
)

const fileLockRetry = 10 * time.Millisecond

// fileStore keeps the whole queue in one JSON document. Every operation
// holds an exclusive lock on path+".lock" and re-reads the document, so a
// daemon and short-lived CLI processes can share one queue file.
type fileStore struct {
	path string
	mu   sync.Mutex
	lock *flock.Flock
}

type fileStoreState struct {
	Items []models.QueuedMutation `json:"items"`
}

func NewFileStore(path string) (Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("queue file path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	s := &fileStore{path: path, lock: flock.New(path + ".lock")}
	// Fail early on a corrupt document.
	if err := s.view(context.Background(), func([]models.QueuedMutation) {}); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *fileStore) EnqueueEvent(ctx context.Context, p Payload) (models.QueuedMutation, error) {
	entry, err := newEntry(p, time.Now())
	if err != nil {
		return models.QueuedMutation{}, err
	}
	err = s.update(ctx, func(items []models.QueuedMutation) ([]models.QueuedMutation, bool) {
		return append(items, entry), true
	})
	if err != nil {
		return models.QueuedMutation{}, err
	}
	return entry, nil
}

func (s *fileStore) ListQueuedEvents(ctx context.Context) ([]models.QueuedMutation, error) {
	var out []models.QueuedMutation
	err := s.view(ctx, func(items []models.QueuedMutation) {
		out = append([]models.QueuedMutation{}, items...)
	})
	return out, err
}

func (s *fileStore) RemoveQueuedEvent(ctx context.Context, id string) error {
	return s.update(ctx, func(items []models.QueuedMutation) ([]models.QueuedMutation, bool) {
		for i, it := range items {
			if it.ID == id {
				return append(items[:i], items[i+1:]...), true
			}
		}
		return items, false
	})
}

func (s *fileStore) CountQueuedEvents(ctx context.Context) (int, error) {
	var n int
	err := s.view(ctx, func(items []models.QueuedMutation) { n = len(items) })
	return n, err
}

func (s *fileStore) Close() error {
	return s.lock.Close()
}

func (s *fileStore) view(ctx context.Context, fn func(items []models.QueuedMutation)) error {
	return s.update(ctx, func(items []models.QueuedMutation) ([]models.QueuedMutation, bool) {
		fn(items)
		return items, false
	})
}

// update runs fn over the current document under the file lock and writes
// the result back when fn reports a change.
func (s *fileStore) update(ctx context.Context, fn func(items []models.QueuedMutation) ([]models.QueuedMutation, bool)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	locked, err := s.lock.TryLockContext(ctx, fileLockRetry)
	if err != nil {
		return fmt.Errorf("lock queue file %s: %w", s.path, err)
	}
	if !locked {
		return fmt.Errorf("lock queue file %s: not acquired", s.path)
	}
	defer func() { _ = s.lock.Unlock() }()

	items, err := s.read()
	if err != nil {
		return err
	}
	items, changed := fn(items)
	if !changed {
		return nil
	}
	return s.write(items)
}

func (s *fileStore) read() ([]models.QueuedMutation, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []models.QueuedMutation{}, nil
		}
		return nil, err
	}
	var state fileStoreState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode queue file %s: %w", s.path, err)
	}
	if state.Items == nil {
		state.Items = []models.QueuedMutation{}
	}
	return state.Items, nil
}

func (s *fileStore) write(items []models.QueuedMutation) error {
	data, err := json.Marshal(fileStoreState{Items: items})
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
