package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/TungSeven30/henrii-sub000/internal/logging"
	"github.com/TungSeven30/henrii-sub000/internal/models"
	"github.com/TungSeven30/henrii-sub000/internal/repos"
)

const (
	ActionKeepBoth = "keep_both"
	ActionDismiss  = "dismiss"
)

type OpenConflicts struct {
	Events    []models.EventConflict
	Mutations []models.MutationConflict
}

type ResolutionService struct {
	conflicts *repos.ConflictRepo
	log       *logging.Logger
	now       func() time.Time
}

func NewResolutionService(conflicts *repos.ConflictRepo, log *logging.Logger) *ResolutionService {
	return &ResolutionService{conflicts: conflicts, log: log, now: time.Now}
}

func (s *ResolutionService) ListOpen(ctx context.Context, scope Scope) (*OpenConflicts, error) {
	events, err := s.conflicts.ListEventConflicts(ctx, scope.BabyID, models.ConflictOpen)
	if err != nil {
		return nil, err
	}
	mutations, err := s.conflicts.ListMutationConflicts(ctx, scope.BabyID, models.MutationOpen)
	if err != nil {
		return nil, err
	}
	return &OpenConflicts{Events: events, Mutations: mutations}, nil
}

// ResolveEventConflict closes an open duplicate conflict. A conflict that is
// missing, out of scope, or already closed is left as is and
// ErrConflictNotOpen is returned.
func (s *ResolutionService) ResolveEventConflict(ctx context.Context, scope Scope, id, action string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: conflict id is required", ErrInvalidResolution)
	}
	var status models.ConflictStatus
	switch strings.TrimSpace(action) {
	case ActionKeepBoth:
		status = models.ConflictResolvedKeepBoth
	case ActionDismiss:
		status = models.ConflictDismissed
	default:
		return fmt.Errorf("%w: unknown action %q", ErrInvalidResolution, action)
	}
	ok, err := s.conflicts.ResolveEventConflict(ctx, scope.BabyID, id, status, scope.UserID, s.now().UTC())
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflictNotOpen
	}
	s.log.Infof("event conflict %s resolved as %s by %s", id, status, scope.UserID)
	return nil
}

// ResolveMutationConflict acknowledges a stale-edit conflict. The attempted
// patch is neither applied nor discarded by this.
func (s *ResolutionService) ResolveMutationConflict(ctx context.Context, scope Scope, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: conflict id is required", ErrInvalidResolution)
	}
	ok, err := s.conflicts.ResolveMutationConflict(ctx, scope.BabyID, id, scope.UserID, s.now().UTC())
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflictNotOpen
	}
	s.log.Infof("mutation conflict %s acknowledged by %s", id, scope.UserID)
	return nil
}
