package repos

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/TungSeven30/henrii-sub000/internal/db"
	"github.com/TungSeven30/henrii-sub000/internal/models"
)

type ConflictRepo struct {
	db *db.DB
}

func NewConflictRepo(d *db.DB) *ConflictRepo {
	return &ConflictRepo{db: d}
}

// PairKey orders the two ids so (a, b) and (b, a) map to the same key.
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}

// InsertEventConflict stores c unless its pair is already linked for the
// table. It reports whether a row was created.
func (r *ConflictRepo) InsertEventConflict(ctx context.Context, c *models.EventConflict) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO event_conflicts (
			id, baby_id, event_table, event_a_id, event_b_id, pair_key,
			event_a_snapshot, event_b_snapshot, event_a_happened_at, event_b_happened_at,
			event_a_logged_by, event_b_logged_by, status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (event_table, pair_key) DO NOTHING
	`), c.ID, c.BabyID, c.EventTable, c.EventAID, c.EventBID, PairKey(c.EventAID, c.EventBID),
		string(c.EventAData), string(c.EventBData), toMicros(c.EventAAt), toMicros(c.EventBAt),
		c.EventABy, c.EventBBy, string(c.Status), toMicros(c.CreatedAt))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *ConflictRepo) InsertMutationConflictTx(ctx context.Context, tx *sql.Tx, c *models.MutationConflict) error {
	_, err := tx.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO mutation_conflicts (
			id, baby_id, event_table, event_id, operation, reported_by,
			expected_updated_at, actual_updated_at, attempted_patch, current_snapshot,
			status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), c.ID, c.BabyID, c.EventTable, c.EventID, string(c.Operation), c.ReportedBy,
		toMicros(c.ExpectedUpdatedAt), toMicros(c.ActualUpdatedAt), string(c.AttemptedPatch), string(c.CurrentSnapshot),
		string(c.Status), toMicros(c.CreatedAt))
	return err
}

const eventConflictColumns = `id, baby_id, event_table, event_a_id, event_b_id,
	event_a_snapshot, event_b_snapshot, event_a_happened_at, event_b_happened_at,
	event_a_logged_by, event_b_logged_by, status, created_at, resolved_at, resolved_by`

const mutationConflictColumns = `id, baby_id, event_table, event_id, operation, reported_by,
	expected_updated_at, actual_updated_at, attempted_patch, current_snapshot,
	status, created_at, resolved_at, resolved_by`

func (r *ConflictRepo) GetEventConflict(ctx context.Context, babyID, id string) (*models.EventConflict, error) {
	row := r.db.QueryRowContext(ctx, r.db.Rebind(`SELECT `+eventConflictColumns+` FROM event_conflicts WHERE id = ? AND baby_id = ?`), id, babyID)
	return scanEventConflict(row)
}

func (r *ConflictRepo) GetMutationConflict(ctx context.Context, babyID, id string) (*models.MutationConflict, error) {
	row := r.db.QueryRowContext(ctx, r.db.Rebind(`SELECT `+mutationConflictColumns+` FROM mutation_conflicts WHERE id = ? AND baby_id = ?`), id, babyID)
	return scanMutationConflict(row)
}

// ListEventConflicts returns the baby's conflicts with the given status,
// oldest first. An empty status lists all of them.
func (r *ConflictRepo) ListEventConflicts(ctx context.Context, babyID string, status models.ConflictStatus) ([]models.EventConflict, error) {
	q := `SELECT ` + eventConflictColumns + ` FROM event_conflicts WHERE baby_id = ?`
	args := []any{babyID}
	if status != "" {
		q += ` AND status = ?`
		args = append(args, string(status))
	}
	q += ` ORDER BY created_at ASC, id ASC`
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(q), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.EventConflict, 0)
	for rows.Next() {
		c, err := scanEventConflict(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *ConflictRepo) ListMutationConflicts(ctx context.Context, babyID string, status models.MutationStatus) ([]models.MutationConflict, error) {
	q := `SELECT ` + mutationConflictColumns + ` FROM mutation_conflicts WHERE baby_id = ?`
	args := []any{babyID}
	if status != "" {
		q += ` AND status = ?`
		args = append(args, string(status))
	}
	q += ` ORDER BY created_at ASC, id ASC`
	rows, err := r.db.QueryContext(ctx, r.db.Rebind(q), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.MutationConflict, 0)
	for rows.Next() {
		c, err := scanMutationConflict(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// ResolveEventConflict moves an open conflict to status. It reports false
// when no open conflict with that id exists for the baby.
func (r *ConflictRepo) ResolveEventConflict(ctx context.Context, babyID, id string, status models.ConflictStatus, resolvedBy string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE event_conflicts SET status = ?, resolved_by = ?, resolved_at = ?
		WHERE id = ? AND baby_id = ? AND status = ?
	`), string(status), resolvedBy, toMicros(at), id, babyID, string(models.ConflictOpen))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *ConflictRepo) ResolveMutationConflict(ctx context.Context, babyID, id, resolvedBy string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE mutation_conflicts SET status = ?, resolved_by = ?, resolved_at = ?
		WHERE id = ? AND baby_id = ? AND status = ?
	`), string(models.MutationResolved), resolvedBy, toMicros(at), id, babyID, string(models.MutationOpen))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func scanEventConflict(row scanner) (*models.EventConflict, error) {
	var (
		c                 models.EventConflict
		aData, bData      string
		aAt, bAt, created int64
		status            string
		resolvedAt        sql.NullInt64
		resolvedBy        sql.NullString
	)
	err := row.Scan(&c.ID, &c.BabyID, &c.EventTable, &c.EventAID, &c.EventBID,
		&aData, &bData, &aAt, &bAt, &c.EventABy, &c.EventBBy, &status, &created, &resolvedAt, &resolvedBy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	c.EventAData = []byte(aData)
	c.EventBData = []byte(bData)
	c.EventAAt = fromMicros(aAt)
	c.EventBAt = fromMicros(bAt)
	c.Status = models.ConflictStatus(status)
	c.CreatedAt = fromMicros(created)
	if resolvedAt.Valid {
		t := fromMicros(resolvedAt.Int64)
		c.ResolvedAt = &t
	}
	c.ResolvedBy = resolvedBy.String
	return &c, nil
}

func scanMutationConflict(row scanner) (*models.MutationConflict, error) {
	var (
		c                models.MutationConflict
		op, status       string
		expected, actual int64
		patch, snapshot  string
		created          int64
		resolvedAt       sql.NullInt64
		resolvedBy       sql.NullString
	)
	err := row.Scan(&c.ID, &c.BabyID, &c.EventTable, &c.EventID, &op, &c.ReportedBy,
		&expected, &actual, &patch, &snapshot, &status, &created, &resolvedAt, &resolvedBy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	c.Operation = models.Operation(op)
	c.ExpectedUpdatedAt = fromMicros(expected)
	c.ActualUpdatedAt = fromMicros(actual)
	c.AttemptedPatch = []byte(patch)
	c.CurrentSnapshot = []byte(snapshot)
	c.Status = models.MutationStatus(status)
	c.CreatedAt = fromMicros(created)
	if resolvedAt.Valid {
		t := fromMicros(resolvedAt.Int64)
		c.ResolvedAt = &t
	}
	c.ResolvedBy = resolvedBy.String
	return &c, nil
}
