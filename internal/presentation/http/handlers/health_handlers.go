package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AtRiskMedia/treeline-go/internal/infrastructure/caching/manager"
	"github.com/AtRiskMedia/treeline-go/internal/infrastructure/persistence/database"
	persistence "github.com/AtRiskMedia/treeline-go/internal/infrastructure/persistence/hierarchy"
)

// HealthHandlers reports process and subsystem health.
type HealthHandlers struct {
	db        *database.DB
	cache     *manager.Manager
	schedules *persistence.ScheduleStore
	startedAt time.Time
}

// NewHealthHandlers creates health handlers with injected dependencies
func NewHealthHandlers(db *database.DB, cache *manager.Manager, schedules *persistence.ScheduleStore) *HealthHandlers {
	return &HealthHandlers{
		db:        db,
		cache:     cache,
		schedules: schedules,
		startedAt: time.Now().UTC(),
	}
}

// GetHealth reports store reachability, cache counters, and per-view
// refresh state. Degraded views do not fail the endpoint; data staleness
// is an admitted state, not an outage.
func (h *HealthHandlers) GetHealth(c *gin.Context) {
	body := gin.H{
		"status": "ok",
		"uptime": time.Since(h.startedAt).String(),
		"cache":  h.cache.LocalStats(),
	}

	if err := h.db.PingContext(c.Request.Context()); err != nil {
		body["status"] = "degraded"
		body["store"] = gin.H{"reachable": false, "error": err.Error()}
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	body["store"] = gin.H{"reachable": true}

	if records, err := h.schedules.List(c.Request.Context()); err == nil {
		views := make(gin.H, len(records))
		for _, rec := range records {
			views[rec.ViewName] = gin.H{
				"lastRefreshAt":       rec.LastRefreshAt,
				"lastSuccess":         rec.LastSuccess,
				"consecutiveFailures": rec.ConsecutiveFailures,
			}
		}
		body["views"] = views
	}

	c.JSON(http.StatusOK, body)
}
