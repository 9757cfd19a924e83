package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/TungSeven30/henrii-sub000/internal/logging"
	"github.com/TungSeven30/henrii-sub000/internal/models"
	"github.com/TungSeven30/henrii-sub000/internal/repos"
	"github.com/TungSeven30/henrii-sub000/internal/schema"
	"github.com/google/uuid"
)

const DefaultDuplicateWindow = 5 * time.Minute

// ConflictDetector links a freshly inserted event to events of the same
// table and baby logged by other caregivers close to the same time.
type ConflictDetector struct {
	events    *repos.EventRepo
	conflicts *repos.ConflictRepo
	window    time.Duration
	log       *logging.Logger
	now       func() time.Time
}

func NewConflictDetector(events *repos.EventRepo, conflicts *repos.ConflictRepo, window time.Duration, log *logging.Logger) *ConflictDetector {
	if window <= 0 {
		window = DefaultDuplicateWindow
	}
	return &ConflictDetector{events: events, conflicts: conflicts, window: window, log: log, now: time.Now}
}

// Detect returns how many new conflicts were opened for rec. The existing
// event is stored as side A and rec as side B.
func (d *ConflictDetector) Detect(ctx context.Context, t schema.Table, rec *models.EventRecord) (int, error) {
	candidates, err := d.events.FindNearby(ctx, t, rec.BabyID, rec.ID, rec.LoggedBy,
		rec.HappenedAt.Add(-d.window), rec.HappenedAt.Add(d.window))
	if err != nil {
		return 0, err
	}
	if len(candidates) == 0 {
		return 0, nil
	}
	bData, err := json.Marshal(rec.Snapshot())
	if err != nil {
		return 0, err
	}

	created := 0
	for i := range candidates {
		other := &candidates[i]
		aData, err := json.Marshal(other.Snapshot())
		if err != nil {
			return created, err
		}
		c := &models.EventConflict{
			ID:         uuid.NewString(),
			BabyID:     rec.BabyID,
			EventTable: t.Name,
			EventAID:   other.ID,
			EventBID:   rec.ID,
			EventAData: aData,
			EventBData: bData,
			EventAAt:   other.HappenedAt,
			EventBAt:   rec.HappenedAt,
			EventABy:   other.LoggedBy,
			EventBBy:   rec.LoggedBy,
			Status:     models.ConflictOpen,
			CreatedAt:  d.now().UTC(),
		}
		ok, err := d.conflicts.InsertEventConflict(ctx, c)
		if err != nil {
			return created, err
		}
		if ok {
			created++
			d.log.WithFields(map[string]any{
				"baby_id": rec.BabyID,
				"table":   t.Name,
				"event_a": other.ID,
				"event_b": rec.ID,
			}).Infof("possible duplicate logged by %s and %s", other.LoggedBy, rec.LoggedBy)
		}
	}
	return created, nil
}
