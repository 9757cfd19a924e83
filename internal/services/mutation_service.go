package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/TungSeven30/henrii-sub000/internal/logging"
	"github.com/TungSeven30/henrii-sub000/internal/models"
	"github.com/TungSeven30/henrii-sub000/internal/repos"
	"github.com/TungSeven30/henrii-sub000/internal/schema"
	"github.com/google/uuid"
)

// maxApplyAttempts bounds retries of an unguarded mutation that keeps losing
// the race against concurrent writers.
const maxApplyAttempts = 3

type MutationInput struct {
	Table             string
	ID                string
	Operation         models.Operation
	ExpectedUpdatedAt *time.Time
	Patch             map[string]any
}

type MutationResult struct {
	Operation  models.Operation
	EventTable string
	EventID    string
	UpdatedAt  *time.Time
	HappenedAt time.Time
}

// eventWriter is the part of *repos.EventRepo the gateway reads and writes
// through inside one transaction.
type eventWriter interface {
	WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error
	GetEventTx(ctx context.Context, tx *sql.Tx, t schema.Table, babyID, id string) (*models.EventRecord, error)
	UpdateEventTx(ctx context.Context, tx *sql.Tx, t schema.Table, babyID, id string, readUpdatedAt time.Time, patch map[string]any, newUpdatedAt time.Time) (bool, error)
	DeleteEventTx(ctx context.Context, tx *sql.Tx, t schema.Table, babyID, id string, readUpdatedAt time.Time) (bool, error)
}

type MutationService struct {
	events    eventWriter
	conflicts *repos.ConflictRepo
	log       *logging.Logger
	now       func() time.Time
}

func NewMutationService(events *repos.EventRepo, conflicts *repos.ConflictRepo, log *logging.Logger) *MutationService {
	return &MutationService{events: events, conflicts: conflicts, log: log, now: time.Now}
}

// Apply updates or deletes one event of the caller's baby. When
// ExpectedUpdatedAt is set and stale, a MutationConflict is stored and a
// *ConflictError returned; the row is left untouched.
func (s *MutationService) Apply(ctx context.Context, scope Scope, in MutationInput) (*MutationResult, error) {
	t, ok := schema.Lookup(strings.TrimSpace(in.Table))
	if !ok {
		return nil, validationf("unknown table %q", in.Table)
	}
	id := strings.TrimSpace(in.ID)
	if id == "" {
		return nil, validationf("id is required")
	}
	if in.Operation != models.OperationUpdate && in.Operation != models.OperationDelete {
		return nil, validationf("unknown operation %q", in.Operation)
	}
	var expected *time.Time
	if in.ExpectedUpdatedAt != nil {
		e := in.ExpectedUpdatedAt.UTC().Truncate(time.Microsecond)
		expected = &e
	}

	for attempt := 1; ; attempt++ {
		var (
			result   *MutationResult
			conflict *ConflictError
			lost     bool
		)
		err := s.events.WithTx(ctx, func(tx *sql.Tx) error {
			current, err := s.events.GetEventTx(ctx, tx, t, scope.BabyID, id)
			if err != nil {
				return err
			}
			if expected != nil && !current.UpdatedAt.Equal(*expected) {
				conflict, err = s.recordConflictTx(ctx, tx, scope, t, in, *expected, current)
				return err
			}

			var wrote bool
			switch in.Operation {
			case models.OperationDelete:
				wrote, err = s.events.DeleteEventTx(ctx, tx, t, scope.BabyID, id, current.UpdatedAt)
				if err != nil {
					return err
				}
				result = &MutationResult{Operation: in.Operation, EventTable: t.Name, EventID: id, HappenedAt: current.HappenedAt}
			default:
				patch := t.NormalizePatch(in.Patch)
				if len(patch) == 0 {
					return validationf("no valid fields in patch")
				}
				next := s.nextVersion(current.UpdatedAt)
				wrote, err = s.events.UpdateEventTx(ctx, tx, t, scope.BabyID, id, current.UpdatedAt, patch, next)
				if err != nil {
					return err
				}
				happened := current.HappenedAt
				if v, ok := patch[schema.HappenedAt].(time.Time); ok {
					happened = v
				}
				result = &MutationResult{Operation: in.Operation, EventTable: t.Name, EventID: id, UpdatedAt: &next, HappenedAt: happened}
			}
			if wrote {
				return nil
			}

			// A concurrent writer moved the row between our read and write.
			result = nil
			fresh, err := s.events.GetEventTx(ctx, tx, t, scope.BabyID, id)
			if err != nil {
				return err
			}
			if expected == nil {
				lost = true
				return nil
			}
			conflict, err = s.recordConflictTx(ctx, tx, scope, t, in, *expected, fresh)
			return err
		})
		if err != nil {
			return nil, err
		}
		if conflict != nil {
			return nil, conflict
		}
		if lost && attempt < maxApplyAttempts {
			continue
		}
		if lost {
			return nil, ErrConflict
		}
		s.log.Debugf("mutation applied: op=%s table=%s event=%s by=%s", in.Operation, t.Name, id, scope.UserID)
		return result, nil
	}
}

func (s *MutationService) recordConflictTx(ctx context.Context, tx *sql.Tx, scope Scope, t schema.Table, in MutationInput, expected time.Time, current *models.EventRecord) (*ConflictError, error) {
	snapshot, err := json.Marshal(current.Snapshot())
	if err != nil {
		return nil, err
	}
	patch := in.Patch
	if patch == nil {
		patch = map[string]any{}
	}
	attempted, err := json.Marshal(patch)
	if err != nil {
		return nil, err
	}
	c := &models.MutationConflict{
		ID:                uuid.NewString(),
		BabyID:            scope.BabyID,
		EventTable:        t.Name,
		EventID:           current.ID,
		Operation:         in.Operation,
		ReportedBy:        scope.UserID,
		ExpectedUpdatedAt: expected,
		ActualUpdatedAt:   current.UpdatedAt,
		AttemptedPatch:    attempted,
		CurrentSnapshot:   snapshot,
		Status:            models.MutationOpen,
		CreatedAt:         s.now().UTC(),
	}
	if err := s.conflicts.InsertMutationConflictTx(ctx, tx, c); err != nil {
		return nil, err
	}
	s.log.WithFields(map[string]any{
		"baby_id":  scope.BabyID,
		"table":    t.Name,
		"event_id": current.ID,
		"expected": models.FormatTime(expected),
		"actual":   models.FormatTime(current.UpdatedAt),
	}).Warnf("stale %s rejected", in.Operation)
	return &ConflictError{ConflictID: c.ID, CurrentUpdatedAt: current.UpdatedAt}, nil
}

// nextVersion is strictly after prev even when the clock has not advanced.
func (s *MutationService) nextVersion(prev time.Time) time.Time {
	next := s.now().UTC().Truncate(time.Microsecond)
	if !next.After(prev) {
		next = prev.Add(time.Microsecond)
	}
	return next
}
