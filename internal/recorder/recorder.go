// Package recorder is the client write path: it submits events and edits
// online when it can and falls back to the local queue when it cannot.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/TungSeven30/henrii-sub000/internal/client"
	"github.com/TungSeven30/henrii-sub000/internal/dupflags"
	"github.com/TungSeven30/henrii-sub000/internal/logging"
	"github.com/TungSeven30/henrii-sub000/internal/models"
	"github.com/TungSeven30/henrii-sub000/internal/queue"
	"github.com/TungSeven30/henrii-sub000/internal/schema"
	"github.com/google/uuid"
)

const DefaultDuplicateWindow = 5 * time.Minute

var ErrUnknownEventType = errors.New("unknown event type")

type API interface {
	LogEvent(ctx context.Context, req client.LogRequest) (*client.LogResponse, error)
	Mutate(ctx context.Context, req client.MutationRequest) (*client.MutationResponse, error)
}

// Connectivity is satisfied by *connectivity.Monitor.
type Connectivity interface {
	Online() bool
	MarkOffline()
}

type Options struct {
	API    API
	Queue  queue.Store
	Flags  dupflags.Store
	Online Connectivity
	Window time.Duration
	Logger *logging.Logger
	Now    func() time.Time
}

type Recorder struct {
	api    API
	queue  queue.Store
	flags  dupflags.Store
	online Connectivity
	window time.Duration
	log    *logging.Logger
	now    func() time.Time
}

func New(opts Options) (*Recorder, error) {
	if opts.API == nil || opts.Queue == nil || opts.Flags == nil {
		return nil, fmt.Errorf("recorder needs an api, a queue and a flag store")
	}
	r := &Recorder{
		api:    opts.API,
		queue:  opts.Queue,
		flags:  opts.Flags,
		online: opts.Online,
		window: opts.Window,
		log:    opts.Logger,
		now:    opts.Now,
	}
	if r.window <= 0 {
		r.window = DefaultDuplicateWindow
	}
	if r.log == nil {
		r.log = logging.Discard()
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r, nil
}

type LogInput struct {
	Type       string
	HappenedAt time.Time
	Fields     map[string]any
}

// LogResult carries the server event id when the event was sent, or the
// queue id when it was queued.
type LogResult struct {
	ClientUUID string                `json:"client_uuid"`
	Table      string                `json:"event_table"`
	EventID    string                `json:"event_id,omitempty"`
	Duplicate  bool                  `json:"duplicate"`
	Queued     bool                  `json:"queued"`
	QueueID    string                `json:"queue_id,omitempty"`
	Flag       *models.DuplicateFlag `json:"flag,omitempty"`
}

// LogEvent records one event. The happened-at time is fixed here so a
// queued event keeps the moment it was recorded, not the moment it replays.
func (r *Recorder) LogEvent(ctx context.Context, in LogInput) (*LogResult, error) {
	table, ok := schema.ForEventType(in.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, in.Type)
	}
	at := in.HappenedAt
	if at.IsZero() {
		at = r.now()
	}
	res := &LogResult{ClientUUID: uuid.NewString(), Table: table.Name}

	flag, err := r.checkNearby(ctx, table.Name, res.ClientUUID, at)
	if err != nil {
		return nil, err
	}
	res.Flag = flag

	req := client.LogRequest{
		Type:       table.EventType,
		ClientUUID: res.ClientUUID,
		HappenedAt: models.FormatTime(at),
		Fields:     in.Fields,
	}
	if r.isOnline() {
		resp, err := r.api.LogEvent(ctx, req)
		if err == nil {
			res.EventID = resp.EventID
			res.Duplicate = resp.Duplicate
			return res, nil
		}
		if !client.IsConnectivityError(err) {
			return nil, err
		}
		r.markOffline(err)
	}

	payload, err := queue.NewLogPayload(req.Body())
	if err != nil {
		return nil, err
	}
	entry, err := r.queue.EnqueueEvent(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("queue log: %w", err)
	}
	res.Queued = true
	res.QueueID = entry.ID
	r.log.WithFields(map[string]any{"table": table.Name, "queue_id": entry.ID}).Infof("event queued for replay")
	return res, nil
}

// checkNearby remembers the event in the local journal and raises a flag
// when events of the same table were recorded close to it.
func (r *Recorder) checkNearby(ctx context.Context, table, eventID string, at time.Time) (*models.DuplicateFlag, error) {
	nearby, err := r.flags.Nearby(ctx, table, at, r.window)
	if err != nil {
		return nil, fmt.Errorf("journal lookup: %w", err)
	}
	if err := r.flags.Remember(ctx, table, eventID, at); err != nil {
		return nil, fmt.Errorf("journal write: %w", err)
	}
	if len(nearby) == 0 {
		return nil, nil
	}
	flag, err := r.flags.AddFlag(ctx, models.DuplicateFlag{
		TableName: table,
		EventID:   eventID,
		NearbyIDs: nearby,
		Timestamp: at,
	})
	if err != nil {
		return nil, fmt.Errorf("add duplicate flag: %w", err)
	}
	return &flag, nil
}

type MutationResult struct {
	Queued   bool                     `json:"queued"`
	QueueID  string                   `json:"queue_id,omitempty"`
	Response *client.MutationResponse `json:"response,omitempty"`
}

// UpdateEvent applies patch to a server event. expectedUpdatedAt is the
// version the caller read; empty sends an unguarded edit.
func (r *Recorder) UpdateEvent(ctx context.Context, table, id, expectedUpdatedAt string, patch map[string]any) (*MutationResult, error) {
	if len(patch) == 0 {
		return nil, fmt.Errorf("update needs a patch")
	}
	return r.mutate(ctx, table, id, models.OperationUpdate, expectedUpdatedAt, patch)
}

func (r *Recorder) DeleteEvent(ctx context.Context, table, id, expectedUpdatedAt string) (*MutationResult, error) {
	return r.mutate(ctx, table, id, models.OperationDelete, expectedUpdatedAt, nil)
}

func (r *Recorder) mutate(ctx context.Context, table, id string, op models.Operation, expected string, patch map[string]any) (*MutationResult, error) {
	if _, ok := schema.Lookup(table); !ok {
		return nil, fmt.Errorf("unknown table %q", table)
	}
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("event id is required")
	}
	req := client.MutationRequest{Table: table, ID: id, Operation: op, Patch: patch}
	if expected = strings.TrimSpace(expected); expected != "" {
		req.ExpectedUpdatedAt = &expected
	}

	if r.isOnline() {
		resp, err := r.api.Mutate(ctx, req)
		if err == nil {
			return &MutationResult{Response: resp}, nil
		}
		if !client.IsConnectivityError(err) {
			return nil, err
		}
		r.markOffline(err)
	}

	payload, err := queue.NewMutatePayload(req)
	if err != nil {
		return nil, err
	}
	entry, err := r.queue.EnqueueEvent(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("queue mutation: %w", err)
	}
	r.log.WithFields(map[string]any{"table": table, "event_id": id, "operation": string(op), "queue_id": entry.ID}).Infof("mutation queued for replay")
	return &MutationResult{Queued: true, QueueID: entry.ID}, nil
}

func (r *Recorder) isOnline() bool {
	return r.online == nil || r.online.Online()
}

func (r *Recorder) markOffline(err error) {
	r.log.WithError(err).Warnf("server unreachable, falling back to queue")
	if r.online != nil {
		r.online.MarkOffline()
	}
}
