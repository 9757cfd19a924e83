// Package dupflags stores client-side "possible duplicate" markers raised
// when the same kind of event is recorded twice in a short window.
package dupflags

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/TungSeven30/henrii-sub000/internal/db"
	"github.com/TungSeven30/henrii-sub000/internal/models"
	"github.com/google/uuid"
)

var ErrNotFound = errors.New("flag not found")

type Store interface {
	AddFlag(ctx context.Context, f models.DuplicateFlag) (models.DuplicateFlag, error)
	// ResolveFlag marks a flag resolved; resolving twice is a no-op.
	ResolveFlag(ctx context.Context, id string) error
	GetUnresolved(ctx context.Context) ([]models.DuplicateFlag, error)
	ClearResolved(ctx context.Context) (int, error)
	Journal
	Close() error
}

// Journal remembers recently recorded events so a new one can be compared
// against them. Entries older than journalRetention are pruned on write.
type Journal interface {
	Remember(ctx context.Context, table, eventID string, at time.Time) error
	// Nearby lists event ids of table with a time within window of at.
	Nearby(ctx context.Context, table string, at time.Time, window time.Duration) ([]string, error)
}

const journalRetention = 24 * time.Hour

func Open(dsn string) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	scheme, rest, found := strings.Cut(dsn, "://")
	switch {
	case dsn == "":
		return nil, fmt.Errorf("flags dsn is required")
	case !found:
		return NewSQLiteStore(dsn)
	case strings.EqualFold(scheme, "sqlite"):
		return NewSQLiteStore(rest)
	case strings.EqualFold(scheme, "memory"):
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported flags scheme: %s", scheme)
	}
}

func prepare(f models.DuplicateFlag, now time.Time) (models.DuplicateFlag, error) {
	if strings.TrimSpace(f.TableName) == "" || strings.TrimSpace(f.EventID) == "" {
		return models.DuplicateFlag{}, fmt.Errorf("flag needs table name and event id")
	}
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.NearbyIDs == nil {
		f.NearbyIDs = []string{}
	}
	now = now.UTC().Truncate(time.Microsecond)
	if f.Timestamp.IsZero() {
		f.Timestamp = now
	}
	f.Timestamp = f.Timestamp.UTC().Truncate(time.Microsecond)
	f.CreatedAt = now
	f.Resolved = false
	return f, nil
}

type journalEntry struct {
	table      string
	eventID    string
	at         time.Time
	recordedAt time.Time
}

type memoryStore struct {
	mu      sync.Mutex
	flags   map[string]models.DuplicateFlag
	journal []journalEntry
}

func NewMemoryStore() Store {
	return &memoryStore{flags: map[string]models.DuplicateFlag{}}
}

func (s *memoryStore) Remember(_ context.Context, table, eventID string, at time.Time) error {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.journal[:0]
	for _, e := range s.journal {
		if now.Sub(e.recordedAt) < journalRetention {
			kept = append(kept, e)
		}
	}
	s.journal = append(kept, journalEntry{table: table, eventID: eventID, at: at.UTC(), recordedAt: now})
	return nil
}

func (s *memoryStore) Nearby(_ context.Context, table string, at time.Time, window time.Duration) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []string{}
	for _, e := range s.journal {
		if e.table != table {
			continue
		}
		d := e.at.Sub(at)
		if d < 0 {
			d = -d
		}
		if d <= window {
			out = append(out, e.eventID)
		}
	}
	return out, nil
}

func (s *memoryStore) AddFlag(_ context.Context, f models.DuplicateFlag) (models.DuplicateFlag, error) {
	f, err := prepare(f, time.Now())
	if err != nil {
		return models.DuplicateFlag{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags[f.ID] = f
	return f, nil
}

func (s *memoryStore) ResolveFlag(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.flags[id]
	if !ok {
		return ErrNotFound
	}
	f.Resolved = true
	s.flags[id] = f
	return nil
}

func (s *memoryStore) GetUnresolved(context.Context) ([]models.DuplicateFlag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.DuplicateFlag{}
	for _, f := range s.flags {
		if !f.Resolved {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *memoryStore) ClearResolved(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, f := range s.flags {
		if f.Resolved {
			delete(s.flags, id)
			n++
		}
	}
	return n, nil
}

func (s *memoryStore) Close() error { return nil }

type sqliteStore struct {
	db *db.DB
}

func NewSQLiteStore(path string) (Store, error) {
	d, err := db.Open("sqlite://" + strings.TrimSpace(path))
	if err != nil {
		return nil, err
	}
	err = d.ExecAll(context.Background(), []string{`
CREATE TABLE IF NOT EXISTS duplicate_flags (
	id TEXT PRIMARY KEY,
	table_name TEXT NOT NULL,
	event_id TEXT NOT NULL,
	nearby_ids TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	resolved INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_duplicate_flags_resolved ON duplicate_flags (resolved, created_at)`,
		`
CREATE TABLE IF NOT EXISTS recent_events (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	table_name TEXT NOT NULL,
	event_id TEXT NOT NULL,
	happened_at INTEGER NOT NULL,
	recorded_at INTEGER NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_recent_events_table_time ON recent_events (table_name, happened_at)`,
	})
	if err != nil {
		_ = d.Close()
		return nil, err
	}
	return &sqliteStore{db: d}, nil
}

func (s *sqliteStore) AddFlag(ctx context.Context, f models.DuplicateFlag) (models.DuplicateFlag, error) {
	f, err := prepare(f, time.Now())
	if err != nil {
		return models.DuplicateFlag{}, err
	}
	nearby, err := json.Marshal(f.NearbyIDs)
	if err != nil {
		return models.DuplicateFlag{}, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO duplicate_flags (id, table_name, event_id, nearby_ids, timestamp, resolved, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)
	`, f.ID, f.TableName, f.EventID, string(nearby), f.Timestamp.UnixMicro(), f.CreatedAt.UnixMicro())
	if err != nil {
		return models.DuplicateFlag{}, err
	}
	return f, nil
}

func (s *sqliteStore) ResolveFlag(ctx context.Context, id string) error {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM duplicate_flags WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `UPDATE duplicate_flags SET resolved = 1 WHERE id = ?`, id)
	return err
}

func (s *sqliteStore) GetUnresolved(ctx context.Context) ([]models.DuplicateFlag, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, table_name, event_id, nearby_ids, timestamp, created_at
		FROM duplicate_flags
		WHERE resolved = 0
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.DuplicateFlag{}
	for rows.Next() {
		var (
			f           models.DuplicateFlag
			nearby      string
			ts, created int64
		)
		if err := rows.Scan(&f.ID, &f.TableName, &f.EventID, &nearby, &ts, &created); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(nearby), &f.NearbyIDs); err != nil {
			return nil, fmt.Errorf("decode nearby ids of %s: %w", f.ID, err)
		}
		f.Timestamp = time.UnixMicro(ts).UTC()
		f.CreatedAt = time.UnixMicro(created).UTC()
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ClearResolved(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM duplicate_flags WHERE resolved = 1`)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *sqliteStore) Remember(ctx context.Context, table, eventID string, at time.Time) error {
	now := time.Now()
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM recent_events WHERE recorded_at < ?`, now.Add(-journalRetention).UnixMicro()); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO recent_events (table_name, event_id, happened_at, recorded_at)
			VALUES (?, ?, ?, ?)
		`, table, eventID, at.UTC().UnixMicro(), now.UnixMicro())
		return err
	})
}

func (s *sqliteStore) Nearby(ctx context.Context, table string, at time.Time, window time.Duration) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id FROM recent_events
		WHERE table_name = ? AND happened_at >= ? AND happened_at <= ?
		ORDER BY seq ASC
	`, table, at.Add(-window).UnixMicro(), at.Add(window).UnixMicro())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}
