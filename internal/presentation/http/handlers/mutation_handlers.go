package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AtRiskMedia/treeline-go/internal/application/services"
	"github.com/AtRiskMedia/treeline-go/internal/domain/entities/hierarchy"
	"github.com/AtRiskMedia/treeline-go/internal/infrastructure/observability/logging"
)

// MutationRequest represents the request body for recording a mutation
type MutationRequest struct {
	EntityID   string `json:"entityId" binding:"required"`
	Path       string `json:"path" binding:"required"`
	ChangeType string `json:"changeType" binding:"required"`
	BatchID    string `json:"batchId"`
}

// MutationHandlers contains the write-path HTTP handlers.
type MutationHandlers struct {
	mutations *services.MutationService
	logger    *logging.ChanneledLogger
}

// NewMutationHandlers creates mutation handlers with injected dependencies
func NewMutationHandlers(mutations *services.MutationService, logger *logging.ChanneledLogger) *MutationHandlers {
	return &MutationHandlers{
		mutations: mutations,
		logger:    logger,
	}
}

// PostMutation records one observed entity change.
func (h *MutationHandlers) PostMutation(c *gin.Context) {
	start := time.Now()

	var req MutationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	batchID, err := h.mutations.OnEntityMutated(c.Request.Context(), services.Mutation{
		EntityID:   req.EntityID,
		Path:       req.Path,
		ChangeType: hierarchy.ChangeType(req.ChangeType),
		BatchID:    req.BatchID,
	})
	if err != nil {
		// Validation failures are the caller's problem; only a dead
		// store is ours.
		status := http.StatusBadRequest
		if errors.Is(err, hierarchy.ErrStoreUnavailable) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	h.logger.Changelog().Info("Mutation request completed",
		"entityId", req.EntityID, "changeType", req.ChangeType, "duration", time.Since(start))

	c.JSON(http.StatusAccepted, gin.H{"batchId": batchID})
}

// DeleteBatch clears an aborted mutation batch from the changelog.
func (h *MutationHandlers) DeleteBatch(c *gin.Context) {
	batchID := c.Param("batchId")

	if err := h.mutations.AbortBatch(c.Request.Context(), batchID); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, hierarchy.ErrStoreUnavailable) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"batchId": batchID, "cleared": true})
}
