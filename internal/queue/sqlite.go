package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/TungSeven30/henrii-sub000/internal/db"
	"github.com/TungSeven30/henrii-sub000/internal/models"
)

type sqliteStore struct {
	db *db.DB
}

func NewSQLiteStore(path string) (Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("queue sqlite path is required")
	}
	d, err := db.Open("sqlite://" + path)
	if err != nil {
		return nil, err
	}
	err = d.ExecAll(context.Background(), []string{`
CREATE TABLE IF NOT EXISTS queued_mutations (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	kind TEXT NOT NULL,
	endpoint TEXT NOT NULL,
	body TEXT NOT NULL,
	enqueued_at INTEGER NOT NULL
)`})
	if err != nil {
		_ = d.Close()
		return nil, err
	}
	return &sqliteStore{db: d}, nil
}

func (s *sqliteStore) EnqueueEvent(ctx context.Context, p Payload) (models.QueuedMutation, error) {
	entry, err := newEntry(p, time.Now())
	if err != nil {
		return models.QueuedMutation{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO queued_mutations (id, kind, endpoint, body, enqueued_at)
		VALUES (?, ?, ?, ?, ?)
	`, entry.ID, string(entry.Kind), entry.Endpoint, string(entry.Body), entry.EnqueuedAt.UnixMicro())
	if err != nil {
		return models.QueuedMutation{}, err
	}
	return entry, nil
}

func (s *sqliteStore) ListQueuedEvents(ctx context.Context) ([]models.QueuedMutation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, endpoint, body, enqueued_at
		FROM queued_mutations
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.QueuedMutation{}
	for rows.Next() {
		var (
			m          models.QueuedMutation
			kind, body string
			enqueued   int64
		)
		if err := rows.Scan(&m.ID, &kind, &m.Endpoint, &body, &enqueued); err != nil {
			return nil, err
		}
		m.Kind = models.QueueKind(kind)
		m.Body = []byte(body)
		m.EnqueuedAt = time.UnixMicro(enqueued).UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *sqliteStore) RemoveQueuedEvent(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM queued_mutations WHERE id = ?`, id)
	return err
}

func (s *sqliteStore) CountQueuedEvents(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queued_mutations`).Scan(&n)
	return n, err
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}
