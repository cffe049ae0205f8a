// Package handlers provides HTTP handlers for hierarchy endpoints
package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AtRiskMedia/treeline-go/internal/application/services"
	"github.com/AtRiskMedia/treeline-go/internal/domain/entities/hierarchy"
	"github.com/AtRiskMedia/treeline-go/internal/infrastructure/observability/logging"
)

// ResolveHandlers contains the read-path HTTP handlers.
type ResolveHandlers struct {
	resolver *services.HierarchyResolver
	logger   *logging.ChanneledLogger
}

// NewResolveHandlers creates resolve handlers with injected dependencies
func NewResolveHandlers(resolver *services.HierarchyResolver, logger *logging.ChanneledLogger) *ResolveHandlers {
	return &ResolveHandlers{
		resolver: resolver,
		logger:   logger,
	}
}

// GetResolve answers a hierarchy query from the tier cascade.
func (h *ResolveHandlers) GetResolve(c *gin.Context) {
	start := time.Now()
	h.logger.Resolver().Debug("Received resolve request", "method", c.Request.Method, "path", c.Request.URL.Path)

	rawPath := c.Query("path")
	kind := hierarchy.QueryKind(c.DefaultQuery("kind", string(hierarchy.QueryAncestors)))

	maxDepth := 0
	if raw := c.Query("maxDepth"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "maxDepth must be an integer"})
			return
		}
		maxDepth = parsed
	}

	resolution, servedFrom, err := h.resolver.Resolve(c.Request.Context(), rawPath, kind, maxDepth)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, hierarchy.ErrInvalidPath), errors.Is(err, hierarchy.ErrDepthExceeded):
			status = http.StatusBadRequest
		case errors.Is(err, hierarchy.ErrStoreUnavailable):
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	h.logger.Resolver().Info("Resolve request completed",
		"path", rawPath, "kind", string(kind), "servedFrom", string(servedFrom), "duration", time.Since(start))

	c.JSON(http.StatusOK, gin.H{
		"result":     resolution,
		"servedFrom": servedFrom,
	})
}
