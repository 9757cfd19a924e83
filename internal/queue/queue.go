// Package queue is the durable client-side store of writes waiting to be
// replayed to the server. Entries leave the queue only through
// RemoveQueuedEvent.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/TungSeven30/henrii-sub000/internal/models"
	"github.com/google/uuid"
)

var ErrInvalidPayload = errors.New("invalid queue payload")

// Payload is what callers enqueue. Its kind decides the replay endpoint.
type Payload struct {
	Kind models.QueueKind
	Body json.RawMessage
}

func NewLogPayload(body any) (Payload, error) {
	return newPayload(models.KindLog, body)
}

func NewMutatePayload(body any) (Payload, error) {
	return newPayload(models.KindMutate, body)
}

func newPayload(kind models.QueueKind, body any) (Payload, error) {
	raw, ok := body.(json.RawMessage)
	if !ok {
		b, err := json.Marshal(body)
		if err != nil {
			return Payload{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		raw = b
	}
	return Payload{Kind: kind, Body: raw}, nil
}

type Store interface {
	EnqueueEvent(ctx context.Context, p Payload) (models.QueuedMutation, error)
	// ListQueuedEvents returns pending entries in insertion order.
	ListQueuedEvents(ctx context.Context) ([]models.QueuedMutation, error)
	// RemoveQueuedEvent deletes one entry; an unknown id is not an error.
	RemoveQueuedEvent(ctx context.Context, id string) error
	CountQueuedEvents(ctx context.Context) (int, error)
	Close() error
}

func newEntry(p Payload, now time.Time) (models.QueuedMutation, error) {
	if !p.Kind.Valid() {
		return models.QueuedMutation{}, fmt.Errorf("%w: kind %q", ErrInvalidPayload, p.Kind)
	}
	if len(p.Body) == 0 || !json.Valid(p.Body) {
		return models.QueuedMutation{}, fmt.Errorf("%w: body is not json", ErrInvalidPayload)
	}
	return models.QueuedMutation{
		ID:         uuid.NewString(),
		Kind:       p.Kind,
		Endpoint:   p.Kind.Endpoint(),
		Body:       append(json.RawMessage(nil), p.Body...),
		EnqueuedAt: now.UTC().Truncate(time.Microsecond),
	}, nil
}

// Open builds a store from a DSN: sqlite://path (or a bare path) for SQLite,
// file://path for a JSON file, memory:// for a process-local queue.
func Open(dsn string) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("queue dsn is required")
	}
	scheme, rest, found := strings.Cut(dsn, "://")
	if !found {
		if strings.HasSuffix(strings.ToLower(dsn), ".json") {
			return NewFileStore(dsn)
		}
		return NewSQLiteStore(dsn)
	}
	switch strings.ToLower(scheme) {
	case "sqlite", "sqlite3":
		return NewSQLiteStore(rest)
	case "file":
		return NewFileStore(rest)
	case "memory", "mem", "inmem":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported queue scheme: %s", scheme)
	}
}
