package repos

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/TungSeven30/henrii-sub000/internal/db"
	"github.com/TungSeven30/henrii-sub000/internal/models"
	"github.com/TungSeven30/henrii-sub000/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *db.DB {
	t.Helper()
	d, err := db.Open("file::memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	require.NoError(t, Migrate(context.Background(), d))
	return d
}

func feedings(t *testing.T) schema.Table {
	t.Helper()
	tbl, ok := schema.Lookup("feedings")
	require.True(t, ok)
	return tbl
}

func insertFeeding(t *testing.T, r *EventRepo, id, baby, by string, at time.Time) *models.EventRecord {
	t.Helper()
	rec := &models.EventRecord{
		ID:         id,
		BabyID:     baby,
		LoggedBy:   by,
		ClientUUID: "cu-" + id,
		HappenedAt: at,
		UpdatedAt:  at,
		CreatedAt:  at,
		Fields:     map[string]any{"feeding_type": "bottle", "amount_ml": int64(90)},
	}
	err := r.WithTx(context.Background(), func(tx *sql.Tx) error {
		return r.InsertEventTx(context.Background(), tx, feedings(t), rec)
	})
	require.NoError(t, err)
	return rec
}

func TestMigrateIsIdempotent(t *testing.T) {
	d := newTestDB(t)
	require.NoError(t, Migrate(context.Background(), d))
}

func TestInsertAndGetEvent(t *testing.T) {
	r := NewEventRepo(newTestDB(t))
	at := time.Date(2026, 3, 1, 8, 0, 0, 123456789, time.UTC)
	insertFeeding(t, r, "e1", "baby-1", "alice", at)

	got, err := r.GetEvent(context.Background(), feedings(t), "baby-1", "e1")
	require.NoError(t, err)
	assert.Equal(t, "feedings", got.Table)
	assert.Equal(t, "alice", got.LoggedBy)
	assert.True(t, got.HappenedAt.Equal(at.Truncate(time.Microsecond)))
	assert.Equal(t, "bottle", got.Fields["feeding_type"])
	assert.Equal(t, int64(90), got.Fields["amount_ml"])
	assert.Nil(t, got.Fields["side"])

	_, err = r.GetEvent(context.Background(), feedings(t), "baby-2", "e1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInsertDuplicateClientUUID(t *testing.T) {
	r := NewEventRepo(newTestDB(t))
	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	insertFeeding(t, r, "e1", "baby-1", "alice", at)

	dup := &models.EventRecord{ID: "e2", BabyID: "baby-1", LoggedBy: "alice", ClientUUID: "cu-e1",
		HappenedAt: at, UpdatedAt: at, CreatedAt: at, Fields: map[string]any{"feeding_type": "breast"}}
	err := r.WithTx(context.Background(), func(tx *sql.Tx) error {
		return r.InsertEventTx(context.Background(), tx, feedings(t), dup)
	})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestUpdateGuardedByUpdatedAt(t *testing.T) {
	r := NewEventRepo(newTestDB(t))
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	insertFeeding(t, r, "e1", "baby-1", "alice", at)
	next := at.Add(time.Minute)

	var wrote bool
	require.NoError(t, r.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		wrote, err = r.UpdateEventTx(ctx, tx, feedings(t), "baby-1", "e1", at.Add(time.Second), map[string]any{"amount_ml": int64(120)}, next)
		return err
	}))
	assert.False(t, wrote, "stale read value must not write")

	require.NoError(t, r.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		wrote, err = r.UpdateEventTx(ctx, tx, feedings(t), "baby-1", "e1", at, map[string]any{"amount_ml": int64(120), "side": nil}, next)
		return err
	}))
	assert.True(t, wrote)

	got, err := r.GetEvent(ctx, feedings(t), "baby-1", "e1")
	require.NoError(t, err)
	assert.Equal(t, int64(120), got.Fields["amount_ml"])
	assert.True(t, got.UpdatedAt.Equal(next))
}

func TestDeleteGuardedByUpdatedAt(t *testing.T) {
	r := NewEventRepo(newTestDB(t))
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	insertFeeding(t, r, "e1", "baby-1", "alice", at)

	var deleted bool
	require.NoError(t, r.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		deleted, err = r.DeleteEventTx(ctx, tx, feedings(t), "baby-1", "e1", at)
		return err
	}))
	assert.True(t, deleted)
	_, err := r.GetEvent(ctx, feedings(t), "baby-1", "e1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindNearby(t *testing.T) {
	r := NewEventRepo(newTestDB(t))
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	insertFeeding(t, r, "mine", "baby-1", "alice", at)
	insertFeeding(t, r, "same-user", "baby-1", "alice", at.Add(time.Minute))
	insertFeeding(t, r, "close", "baby-1", "bob", at.Add(4*time.Minute))
	insertFeeding(t, r, "far", "baby-1", "bob", at.Add(6*time.Minute))
	insertFeeding(t, r, "other-baby", "baby-2", "bob", at)

	got, err := r.FindNearby(ctx, feedings(t), "baby-1", "mine", "alice", at.Add(-5*time.Minute), at.Add(5*time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "close", got[0].ID)

	recent, err := r.ListRecent(ctx, feedings(t), "baby-1", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "far", recent[0].ID)
}

func TestPairKeyIsOrderIndependent(t *testing.T) {
	assert.Equal(t, PairKey("a", "b"), PairKey("b", "a"))
	assert.Equal(t, "a|b", PairKey("b", "a"))
}

func TestEventConflictInsertedOncePerPair(t *testing.T) {
	r := NewConflictRepo(newTestDB(t))
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	c := &models.EventConflict{
		ID: "c1", BabyID: "baby-1", EventTable: "feedings", EventAID: "e1", EventBID: "e2",
		EventAData: []byte(`{"id":"e1"}`), EventBData: []byte(`{"id":"e2"}`),
		EventAAt: at, EventBAt: at.Add(time.Minute), EventABy: "alice", EventBBy: "bob",
		Status: models.ConflictOpen, CreatedAt: at,
	}
	created, err := r.InsertEventConflict(ctx, c)
	require.NoError(t, err)
	assert.True(t, created)

	swapped := *c
	swapped.ID = "c2"
	swapped.EventAID, swapped.EventBID = "e2", "e1"
	created, err = r.InsertEventConflict(ctx, &swapped)
	require.NoError(t, err)
	assert.False(t, created)

	open, err := r.ListEventConflicts(ctx, "baby-1", models.ConflictOpen)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.JSONEq(t, `{"id":"e1"}`, string(open[0].EventAData))

	ok, err := r.ResolveEventConflict(ctx, "baby-1", "c1", models.ConflictDismissed, "carol", at)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = r.ResolveEventConflict(ctx, "baby-1", "c1", models.ConflictResolvedKeepBoth, "carol", at)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := r.GetEventConflict(ctx, "baby-1", "c1")
	require.NoError(t, err)
	assert.Equal(t, models.ConflictDismissed, got.Status)
	assert.Equal(t, "carol", got.ResolvedBy)
	require.NotNil(t, got.ResolvedAt)
}

func TestMutationConflictLifecycle(t *testing.T) {
	d := newTestDB(t)
	r := NewConflictRepo(d)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	c := &models.MutationConflict{
		ID: "m1", BabyID: "baby-1", EventTable: "feedings", EventID: "e1",
		Operation: models.OperationUpdate, ReportedBy: "alice",
		ExpectedUpdatedAt: at, ActualUpdatedAt: at.Add(time.Second),
		AttemptedPatch: []byte(`{"amount_ml":100}`), CurrentSnapshot: []byte(`{"id":"e1"}`),
		Status: models.MutationOpen, CreatedAt: at,
	}
	require.NoError(t, d.WithTx(ctx, func(tx *sql.Tx) error {
		return r.InsertMutationConflictTx(ctx, tx, c)
	}))

	open, err := r.ListMutationConflicts(ctx, "baby-1", models.MutationOpen)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, models.OperationUpdate, open[0].Operation)
	assert.True(t, open[0].ActualUpdatedAt.Equal(at.Add(time.Second)))

	ok, err := r.ResolveMutationConflict(ctx, "baby-2", "m1", "bob", at)
	require.NoError(t, err)
	assert.False(t, ok, "scoped to baby")

	ok, err = r.ResolveMutationConflict(ctx, "baby-1", "m1", "bob", at)
	require.NoError(t, err)
	assert.True(t, ok)

	open, err = r.ListMutationConflicts(ctx, "baby-1", models.MutationOpen)
	require.NoError(t, err)
	assert.Empty(t, open)
}
