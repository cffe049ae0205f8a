package services

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/AtRiskMedia/treeline-go/internal/domain/entities/hierarchy"
	"github.com/AtRiskMedia/treeline-go/internal/infrastructure/observability/logging"
	persistence "github.com/AtRiskMedia/treeline-go/internal/infrastructure/persistence/hierarchy"
)

// Mutation is one observed entity change handed to the subsystem by the
// owning domain. BatchID groups related changes; empty means the call is
// its own batch.
type Mutation struct {
	EntityID   string               `json:"entityId"`
	Path       string               `json:"path"`
	ChangeType hierarchy.ChangeType `json:"changeType"`
	BatchID    string               `json:"batchId,omitempty"`
}

// MutationService is the write entry point: it applies entity changes to
// the store, records them in the changelog, and nudges the scheduler.
type MutationService struct {
	store     *persistence.Store
	changeLog *persistence.ChangeLog
	scheduler *RefreshScheduler
	logger    *logging.ChanneledLogger
}

// NewMutationService wires the mutation entry point. scheduler may be
// nil, in which case mutations are recorded but nothing is nudged.
func NewMutationService(store *persistence.Store, changeLog *persistence.ChangeLog, scheduler *RefreshScheduler, logger *logging.ChanneledLogger) *MutationService {
	return &MutationService{
		store:     store,
		changeLog: changeLog,
		scheduler: scheduler,
		logger:    logger,
	}
}

// NewBatchID mints a batch identifier for callers grouping several
// mutations.
func NewBatchID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

// OnEntityMutated validates and records one change, returning the batch
// it was recorded under.
func (s *MutationService) OnEntityMutated(ctx context.Context, m Mutation) (string, error) {
	p, err := hierarchy.ParsePath(m.Path)
	if err != nil {
		return "", err
	}
	if m.EntityID == "" {
		return "", fmt.Errorf("%w: empty entity id", hierarchy.ErrInvalidPath)
	}
	if !m.ChangeType.IsValid() {
		return "", fmt.Errorf("unknown change type: %q", m.ChangeType)
	}

	batchID := m.BatchID
	if batchID == "" {
		batchID = NewBatchID()
	}

	entity := hierarchy.Entity{ID: m.EntityID, Path: p.String(), Depth: p.Depth()}
	if err := s.store.ApplyMutation(ctx, m.ChangeType, entity); err != nil {
		return "", err
	}

	// Append only after the entity row landed; a dropped append delays
	// the next refresh, a phantom one could trigger it for nothing.
	if err := s.changeLog.Append(ctx, hierarchy.ChangeLogEntry{
		ChangeType: m.ChangeType,
		EntityID:   m.EntityID,
		EntityPath: p.String(),
		BatchID:    batchID,
	}); err != nil {
		return "", err
	}

	s.logger.Changelog().Debug("Recorded entity mutation",
		"entityId", m.EntityID, "path", p.String(), "changeType", string(m.ChangeType), "batchId", batchID)

	if s.scheduler != nil {
		s.scheduler.NudgeAll()
	}
	return batchID, nil
}

// AbortBatch removes a batch's changelog entries. The entity rows stay;
// callers abort the batch only when they rolled the entities back
// themselves.
func (s *MutationService) AbortBatch(ctx context.Context, batchID string) error {
	if batchID == "" {
		return fmt.Errorf("empty batch id")
	}
	if err := s.changeLog.ClearBatch(ctx, batchID); err != nil {
		return err
	}
	s.logger.Changelog().Info("Cleared aborted mutation batch", "batchId", batchID)
	return nil
}
