package models

import (
	"encoding/json"
	"time"
)

const (
	EndpointLog    = "/api/v1/events"
	EndpointMutate = "/api/v1/mutations"
)

type QueueKind string

const (
	KindLog    QueueKind = "log"
	KindMutate QueueKind = "mutate"
)

func (k QueueKind) Valid() bool {
	return k == KindLog || k == KindMutate
}

// Endpoint is fixed by the kind so replay never has to inspect the body.
func (k QueueKind) Endpoint() string {
	switch k {
	case KindLog:
		return EndpointLog
	case KindMutate:
		return EndpointMutate
	default:
		return ""
	}
}

type QueuedMutation struct {
	ID         string          `json:"id"`
	Kind       QueueKind       `json:"kind"`
	Endpoint   string          `json:"endpoint"`
	Body       json.RawMessage `json:"body"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

type EventRecord struct {
	ID         string         `json:"id"`
	Table      string         `json:"event_table"`
	BabyID     string         `json:"baby_id"`
	LoggedBy   string         `json:"logged_by"`
	ClientUUID string         `json:"client_uuid"`
	HappenedAt time.Time      `json:"happened_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	CreatedAt  time.Time      `json:"created_at"`
	Fields     map[string]any `json:"fields"`
}

// Snapshot flattens the record into the shape stored on conflict rows.
func (e *EventRecord) Snapshot() map[string]any {
	out := make(map[string]any, len(e.Fields)+6)
	for k, v := range e.Fields {
		out[k] = v
	}
	out["id"] = e.ID
	out["baby_id"] = e.BabyID
	out["logged_by"] = e.LoggedBy
	out["client_uuid"] = e.ClientUUID
	out["happened_at"] = FormatTime(e.HappenedAt)
	out["updated_at"] = FormatTime(e.UpdatedAt)
	return out
}

type ConflictStatus string

const (
	ConflictOpen             ConflictStatus = "open"
	ConflictResolvedKeepBoth ConflictStatus = "resolved_keep_both"
	ConflictDismissed        ConflictStatus = "dismissed"
)

type EventConflict struct {
	ID         string         `json:"id"`
	BabyID     string         `json:"baby_id"`
	EventTable string         `json:"event_table"`
	EventAID   string         `json:"event_a_id"`
	EventBID   string         `json:"event_b_id"`
	EventAData json.RawMessage `json:"event_a_snapshot"`
	EventBData json.RawMessage `json:"event_b_snapshot"`
	EventAAt   time.Time      `json:"event_a_happened_at"`
	EventBAt   time.Time      `json:"event_b_happened_at"`
	EventABy   string         `json:"event_a_logged_by"`
	EventBBy   string         `json:"event_b_logged_by"`
	Status     ConflictStatus `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
	ResolvedAt *time.Time     `json:"resolved_at,omitempty"`
	ResolvedBy string         `json:"resolved_by,omitempty"`
}

type MutationStatus string

const (
	MutationOpen     MutationStatus = "open"
	MutationResolved MutationStatus = "resolved"
)

type Operation string

const (
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

type MutationConflict struct {
	ID                string          `json:"id"`
	BabyID            string          `json:"baby_id"`
	EventTable        string          `json:"event_table"`
	EventID           string          `json:"event_id"`
	Operation         Operation       `json:"operation"`
	ReportedBy        string          `json:"reported_by"`
	ExpectedUpdatedAt time.Time       `json:"expected_updated_at"`
	ActualUpdatedAt   time.Time       `json:"actual_updated_at"`
	AttemptedPatch    json.RawMessage `json:"attempted_patch"`
	CurrentSnapshot   json.RawMessage `json:"current_snapshot"`
	Status            MutationStatus  `json:"status"`
	CreatedAt         time.Time       `json:"created_at"`
	ResolvedAt        *time.Time      `json:"resolved_at,omitempty"`
	ResolvedBy        string          `json:"resolved_by,omitempty"`
}

type DuplicateFlag struct {
	ID        string    `json:"id"`
	TableName string    `json:"table_name"`
	EventID   string    `json:"event_id"`
	NearbyIDs []string  `json:"nearby_ids"`
	Timestamp time.Time `json:"timestamp"`
	Resolved  bool      `json:"resolved"`
	CreatedAt time.Time `json:"created_at"`
}

// Version tokens travel as RFC 3339 strings at microsecond precision, the
// finest resolution every backing store keeps.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Truncate(time.Microsecond).Format(time.RFC3339Nano)
}

func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC().Truncate(time.Microsecond), nil
}
