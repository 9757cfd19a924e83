package services

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/TungSeven30/henrii-sub000/internal/logging"
	"github.com/TungSeven30/henrii-sub000/internal/models"
	"github.com/TungSeven30/henrii-sub000/internal/repos"
	"github.com/TungSeven30/henrii-sub000/internal/schema"
	"github.com/google/uuid"
)

type LogInput struct {
	Type       string
	ClientUUID string
	HappenedAt string
	Fields     map[string]any
}

type LogResult struct {
	EventID   string
	Table     string
	Duplicate bool
}

type EventService struct {
	repo     *repos.EventRepo
	detector *ConflictDetector
	log      *logging.Logger
	now      func() time.Time
}

func NewEventService(repo *repos.EventRepo, detector *ConflictDetector, log *logging.Logger) *EventService {
	return &EventService{repo: repo, detector: detector, log: log, now: time.Now}
}

// Log inserts a new event. Replaying a request whose client uuid is already
// stored for the baby returns the stored event id with Duplicate set and
// does not run conflict detection again.
func (s *EventService) Log(ctx context.Context, scope Scope, in LogInput) (*LogResult, error) {
	t, ok := schema.ForEventType(in.Type)
	if !ok {
		return nil, validationf("unknown event type %q", in.Type)
	}
	fields, err := t.NormalizeInsert(in.Fields)
	if err != nil {
		return nil, validationf("%v", err)
	}
	happenedAt, err := s.happenedAt(in)
	if err != nil {
		return nil, err
	}
	clientUUID := strings.TrimSpace(in.ClientUUID)
	if clientUUID == "" {
		clientUUID = uuid.NewString()
	}

	now := s.now().UTC().Truncate(time.Microsecond)
	rec := &models.EventRecord{
		ID:         uuid.NewString(),
		Table:      t.Name,
		BabyID:     scope.BabyID,
		LoggedBy:   scope.UserID,
		ClientUUID: clientUUID,
		HappenedAt: happenedAt,
		UpdatedAt:  now,
		CreatedAt:  now,
		Fields:     fields,
	}

	var existing *models.EventRecord
	err = s.repo.WithTx(ctx, func(tx *sql.Tx) error {
		found, err := s.repo.FindByClientUUIDTx(ctx, tx, t, scope.BabyID, clientUUID)
		if err == nil {
			existing = found
			return nil
		}
		if !errors.Is(err, repos.ErrNotFound) {
			return err
		}
		return s.repo.InsertEventTx(ctx, tx, t, rec)
	})
	if errors.Is(err, repos.ErrDuplicate) {
		existing, err = s.lookupClientUUID(ctx, t, scope.BabyID, clientUUID)
	}
	if err != nil {
		return nil, err
	}
	if existing != nil {
		s.log.Infof("log replay ignored: baby=%s table=%s client_uuid=%s event=%s", scope.BabyID, t.Name, clientUUID, existing.ID)
		return &LogResult{EventID: existing.ID, Table: t.Name, Duplicate: true}, nil
	}

	if s.detector != nil {
		if _, err := s.detector.Detect(ctx, t, rec); err != nil {
			s.log.WithError(err).Errorf("conflict detection failed: table=%s event=%s", t.Name, rec.ID)
		}
	}
	return &LogResult{EventID: rec.ID, Table: t.Name}, nil
}

func (s *EventService) ListRecent(ctx context.Context, scope Scope, table string, limit int) ([]models.EventRecord, error) {
	t, ok := schema.Lookup(table)
	if !ok {
		if t, ok = schema.ForEventType(table); !ok {
			return nil, validationf("unknown table %q", table)
		}
	}
	return s.repo.ListRecent(ctx, t, scope.BabyID, limit)
}

func (s *EventService) happenedAt(in LogInput) (time.Time, error) {
	raw := strings.TrimSpace(in.HappenedAt)
	if raw == "" {
		if v, ok := in.Fields[schema.HappenedAt].(string); ok {
			raw = strings.TrimSpace(v)
		}
	}
	if raw == "" {
		return s.now().UTC().Truncate(time.Microsecond), nil
	}
	ts, err := models.ParseTime(raw)
	if err != nil {
		return time.Time{}, validationf("happened_at: %v", err)
	}
	return ts, nil
}

func (s *EventService) lookupClientUUID(ctx context.Context, t schema.Table, babyID, clientUUID string) (*models.EventRecord, error) {
	var found *models.EventRecord
	err := s.repo.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		found, err = s.repo.FindByClientUUIDTx(ctx, tx, t, babyID, clientUUID)
		return err
	})
	return found, err
}
