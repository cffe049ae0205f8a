package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AtRiskMedia/treeline-go/internal/infrastructure/observability/logging"
)

// SetLogLevelRequest adjusts one logging channel at runtime.
type SetLogLevelRequest struct {
	Channel string `json:"channel" binding:"required"`
	Level   string `json:"level" binding:"required"`
}

// AdminHandlers contains runtime-tuning endpoints.
type AdminHandlers struct {
	logger *logging.ChanneledLogger
}

// NewAdminHandlers creates admin handlers with injected dependencies
func NewAdminHandlers(logger *logging.ChanneledLogger) *AdminHandlers {
	return &AdminHandlers{logger: logger}
}

// GetLogLevels returns the current level of every logging channel.
func (h *AdminHandlers) GetLogLevels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"channels": h.logger.GetChannelLevels()})
}

// SetLogLevel changes one channel's level without a restart.
func (h *AdminHandlers) SetLogLevel(c *gin.Context) {
	var req SetLogLevelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var level slog.Level
	switch strings.ToUpper(req.Level) {
	case "DEBUG":
		level = slog.LevelDebug
	case "INFO":
		level = slog.LevelInfo
	case "WARN":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "level must be one of DEBUG, INFO, WARN, ERROR"})
		return
	}

	if err := h.logger.SetChannelLevel(logging.Channel(req.Channel), level); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"channel": req.Channel, "level": strings.ToUpper(req.Level)})
}
