package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AtRiskMedia/treeline-go/internal/application/services"
	"github.com/AtRiskMedia/treeline-go/internal/domain/entities/hierarchy"
	"github.com/AtRiskMedia/treeline-go/internal/infrastructure/coordination"
	"github.com/AtRiskMedia/treeline-go/internal/infrastructure/observability/logging"
	persistence "github.com/AtRiskMedia/treeline-go/internal/infrastructure/persistence/hierarchy"
)

// SnapshotHandlers contains the snapshot administration HTTP handlers.
type SnapshotHandlers struct {
	scheduler *services.RefreshScheduler
	schedules *persistence.ScheduleStore
	lock      coordination.RefreshLock
	logger    *logging.ChanneledLogger
}

// NewSnapshotHandlers creates snapshot handlers with injected dependencies
func NewSnapshotHandlers(scheduler *services.RefreshScheduler, schedules *persistence.ScheduleStore, lock coordination.RefreshLock, logger *logging.ChanneledLogger) *SnapshotHandlers {
	return &SnapshotHandlers{
		scheduler: scheduler,
		schedules: schedules,
		lock:      lock,
		logger:    logger,
	}
}

// GetSnapshots lists every view's schedule record and lock state.
func (h *SnapshotHandlers) GetSnapshots(c *gin.Context) {
	records, err := h.schedules.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	views := make([]gin.H, 0, len(records))
	for _, rec := range records {
		entry := gin.H{"schedule": rec}
		if info, err := h.lock.Info(c.Request.Context(), rec.ViewName); err == nil && info != nil {
			entry["lock"] = info
		}
		views = append(views, entry)
	}

	c.JSON(http.StatusOK, gin.H{"views": views})
}

// PostRefresh forces an immediate evaluation of one view.
func (h *SnapshotHandlers) PostRefresh(c *gin.Context) {
	start := time.Now()
	view := c.Param("view")
	force := c.DefaultQuery("force", "true") == "true"

	outcome, err := h.scheduler.Evaluate(c.Request.Context(), view, force)
	if err != nil && outcome.Status != hierarchy.StatusFailed {
		status := http.StatusInternalServerError
		if errors.Is(err, hierarchy.ErrUnknownView) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	h.logger.Refresh().Info("Manual refresh request completed",
		"view", view, "status", string(outcome.Status), "duration", time.Since(start))

	status := http.StatusOK
	body := gin.H{"outcome": outcome}
	if outcome.Status == hierarchy.StatusFailed {
		status = http.StatusBadGateway
		body["error"] = err.Error()
	}
	c.JSON(status, body)
}

// PostLockRelease force-releases a view's refresh lock. Operator escape
// hatch for leaked locks; a healthy holder's release will then fail
// harmlessly.
func (h *SnapshotHandlers) PostLockRelease(c *gin.Context) {
	view := c.Param("view")

	info, err := h.lock.Info(c.Request.Context(), view)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	if err := h.lock.ForceRelease(c.Request.Context(), view); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	h.logger.Lock().Warn("Refresh lock force-released by operator", "view", view)

	body := gin.H{"view": view, "released": true}
	if info != nil {
		body["previousHolder"] = info
	}
	c.JSON(http.StatusOK, body)
}
