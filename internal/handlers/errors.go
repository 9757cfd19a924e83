package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/TungSeven30/henrii-sub000/internal/logging"
	"github.com/TungSeven30/henrii-sub000/internal/middleware"
	"github.com/TungSeven30/henrii-sub000/internal/models"
	"github.com/TungSeven30/henrii-sub000/internal/repos"
	"github.com/TungSeven30/henrii-sub000/internal/services"
	"github.com/gin-gonic/gin"
)

type conflictBody struct {
	Conflict         bool   `json:"conflict"`
	ConflictID       string `json:"conflict_id"`
	CurrentUpdatedAt string `json:"current_updated_at"`
}

func scopeOf(c *gin.Context) services.Scope {
	return services.Scope{
		UserID: middleware.UserIDFromContext(c),
		BabyID: middleware.BabyIDFromContext(c),
	}
}

// writeError maps service errors to status codes. validationStatus differs
// between endpoints: 400 for logs, 422 for mutations.
func writeError(c *gin.Context, log *logging.Logger, err error, validationStatus int) {
	var conflict *services.ConflictError
	switch {
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, conflictBody{
			Conflict:         true,
			ConflictID:       conflict.ConflictID,
			CurrentUpdatedAt: models.FormatTime(conflict.CurrentUpdatedAt),
		})
	case errors.Is(err, repos.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, services.ErrValidation):
		c.JSON(validationStatus, gin.H{"error": "validation_failed", "detail": err.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "timeout"})
	default:
		log.WithError(err).Errorf("%s %s failed", c.Request.Method, c.Request.URL.Path)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
	}
}
