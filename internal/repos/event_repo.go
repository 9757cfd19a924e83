package repos

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/TungSeven30/henrii-sub000/internal/db"
	"github.com/TungSeven30/henrii-sub000/internal/models"
	"github.com/TungSeven30/henrii-sub000/internal/schema"
	"github.com/lib/pq"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate client uuid")
)

type scanner interface {
	Scan(dest ...any) error
}

type EventRepo struct {
	db *db.DB
}

func NewEventRepo(d *db.DB) *EventRepo {
	return &EventRepo{db: d}
}

func (r *EventRepo) DB() *db.DB {
	return r.db
}

func (r *EventRepo) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return r.db.WithTx(ctx, fn)
}

func (r *EventRepo) GetEventTx(ctx context.Context, tx *sql.Tx, t schema.Table, babyID, id string) (*models.EventRecord, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ? AND baby_id = ?`, selectColumns(t), t.Name)
	return scanEvent(t, tx.QueryRowContext(ctx, r.db.Rebind(q), id, babyID))
}

func (r *EventRepo) GetEvent(ctx context.Context, t schema.Table, babyID, id string) (*models.EventRecord, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ? AND baby_id = ?`, selectColumns(t), t.Name)
	return scanEvent(t, r.db.QueryRowContext(ctx, r.db.Rebind(q), id, babyID))
}

func (r *EventRepo) FindByClientUUIDTx(ctx context.Context, tx *sql.Tx, t schema.Table, babyID, clientUUID string) (*models.EventRecord, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE baby_id = ? AND client_uuid = ?`, selectColumns(t), t.Name)
	return scanEvent(t, tx.QueryRowContext(ctx, r.db.Rebind(q), babyID, clientUUID))
}

// InsertEventTx writes rec. A second insert with the same (baby, client uuid)
// returns ErrDuplicate.
func (r *EventRepo) InsertEventTx(ctx context.Context, tx *sql.Tx, t schema.Table, rec *models.EventRecord) error {
	cols := []string{"id", "baby_id", "logged_by", "client_uuid", "happened_at", "updated_at", "created_at"}
	args := []any{rec.ID, rec.BabyID, rec.LoggedBy, rec.ClientUUID, toMicros(rec.HappenedAt), toMicros(rec.UpdatedAt), toMicros(rec.CreatedAt)}
	for _, f := range t.Fields {
		cols = append(cols, f.Name)
		args = append(args, toColumnValue(f, rec.Fields[f.Name]))
	}
	q := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`, t.Name, strings.Join(cols, ", "), placeholders(len(cols)))
	if _, err := tx.ExecContext(ctx, r.db.Rebind(q), args...); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// UpdateEventTx applies patch only if the row still carries readUpdatedAt.
// It reports whether a row was written.
func (r *EventRepo) UpdateEventTx(ctx context.Context, tx *sql.Tx, t schema.Table, babyID, id string, readUpdatedAt time.Time, patch map[string]any, newUpdatedAt time.Time) (bool, error) {
	names := make([]string, 0, len(patch))
	for name := range patch {
		if _, ok := t.Field(name); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	sets := make([]string, 0, len(names)+1)
	args := make([]any, 0, len(names)+4)
	for _, name := range names {
		f, _ := t.Field(name)
		sets = append(sets, name+" = ?")
		args = append(args, toColumnValue(f, patch[name]))
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, toMicros(newUpdatedAt), id, babyID, toMicros(readUpdatedAt))

	q := fmt.Sprintf(`UPDATE %s SET %s WHERE id = ? AND baby_id = ? AND updated_at = ?`, t.Name, strings.Join(sets, ", "))
	res, err := tx.ExecContext(ctx, r.db.Rebind(q), args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *EventRepo) DeleteEventTx(ctx context.Context, tx *sql.Tx, t schema.Table, babyID, id string, readUpdatedAt time.Time) (bool, error) {
	q := fmt.Sprintf(`DELETE FROM %s WHERE id = ? AND baby_id = ? AND updated_at = ?`, t.Name)
	res, err := tx.ExecContext(ctx, r.db.Rebind(q), id, babyID, toMicros(readUpdatedAt))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// FindNearby lists events of the baby with happened_at in [from, to], other
// than excludeID and not logged by loggedBy.
func (r *EventRepo) FindNearby(ctx context.Context, t schema.Table, babyID, excludeID, loggedBy string, from, to time.Time) ([]models.EventRecord, error) {
	q := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE baby_id = ? AND id <> ? AND logged_by <> ? AND happened_at >= ? AND happened_at <= ?
		ORDER BY happened_at ASC, id ASC
	`, selectColumns(t), t.Name)
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(q), babyID, excludeID, loggedBy, toMicros(from), toMicros(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(t, rows)
}

// ListRecent returns the newest events of the baby, newest first.
func (r *EventRepo) ListRecent(ctx context.Context, t schema.Table, babyID string, limit int) ([]models.EventRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	q := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE baby_id = ?
		ORDER BY happened_at DESC, id DESC
		LIMIT ?
	`, selectColumns(t), t.Name)
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(q), babyID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(t, rows)
}

func collectEvents(t schema.Table, rows *sql.Rows) ([]models.EventRecord, error) {
	out := make([]models.EventRecord, 0)
	for rows.Next() {
		rec, err := scanEvent(t, rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func selectColumns(t schema.Table) string {
	cols := []string{"id", "baby_id", "logged_by", "client_uuid", "happened_at", "updated_at", "created_at"}
	cols = append(cols, t.Columns()...)
	return strings.Join(cols, ", ")
}

func scanEvent(t schema.Table, row scanner) (*models.EventRecord, error) {
	var rec models.EventRecord
	var happenedAt, updatedAt, createdAt int64
	dest := []any{&rec.ID, &rec.BabyID, &rec.LoggedBy, &rec.ClientUUID, &happenedAt, &updatedAt, &createdAt}
	holders := make([]any, len(t.Fields))
	for i, f := range t.Fields {
		if f.Kind == schema.Text {
			holders[i] = &sql.NullString{}
		} else {
			holders[i] = &sql.NullInt64{}
		}
		dest = append(dest, holders[i])
	}
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	rec.Table = t.Name
	rec.HappenedAt = fromMicros(happenedAt)
	rec.UpdatedAt = fromMicros(updatedAt)
	rec.CreatedAt = fromMicros(createdAt)
	rec.Fields = make(map[string]any, len(t.Fields))
	for i, f := range t.Fields {
		rec.Fields[f.Name] = fromColumnValue(f, holders[i])
	}
	return &rec, nil
}

func toColumnValue(f schema.Field, v any) any {
	if v == nil {
		return nil
	}
	switch f.Kind {
	case schema.Time:
		if ts, ok := v.(time.Time); ok {
			return toMicros(ts)
		}
		return nil
	default:
		return v
	}
}

func fromColumnValue(f schema.Field, holder any) any {
	switch h := holder.(type) {
	case *sql.NullString:
		if !h.Valid {
			return nil
		}
		return h.String
	case *sql.NullInt64:
		if !h.Valid {
			return nil
		}
		if f.Kind == schema.Time {
			return fromMicros(h.Int64)
		}
		return h.Int64
	}
	return nil
}

func toMicros(t time.Time) int64 {
	return t.UTC().UnixMicro()
}

func fromMicros(n int64) time.Time {
	return time.UnixMicro(n).UTC()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
