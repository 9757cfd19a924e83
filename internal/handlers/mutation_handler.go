package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/TungSeven30/henrii-sub000/internal/logging"
	"github.com/TungSeven30/henrii-sub000/internal/models"
	"github.com/TungSeven30/henrii-sub000/internal/services"
	"github.com/gin-gonic/gin"
)

type MutationHandler struct {
	svc *services.MutationService
	log *logging.Logger
}

func NewMutationHandler(svc *services.MutationService, log *logging.Logger) *MutationHandler {
	return &MutationHandler{svc: svc, log: log}
}

type mutationRequest struct {
	Table             string           `json:"table"`
	ID                string           `json:"id"`
	Operation         models.Operation `json:"operation"`
	ExpectedUpdatedAt *string          `json:"expectedUpdatedAt"`
	Patch             map[string]any   `json:"patch"`
}

func (h *MutationHandler) Apply(c *gin.Context) {
	var body mutationRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json body"})
		return
	}
	var expected *time.Time
	if body.ExpectedUpdatedAt != nil && strings.TrimSpace(*body.ExpectedUpdatedAt) != "" {
		ts, err := models.ParseTime(strings.TrimSpace(*body.ExpectedUpdatedAt))
		if err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "validation_failed", "detail": "expectedUpdatedAt: " + err.Error()})
			return
		}
		expected = &ts
	}

	res, err := h.svc.Apply(c.Request.Context(), scopeOf(c), services.MutationInput{
		Table:             body.Table,
		ID:                body.ID,
		Operation:         models.Operation(strings.ToLower(strings.TrimSpace(string(body.Operation)))),
		ExpectedUpdatedAt: expected,
		Patch:             body.Patch,
	})
	if err != nil {
		writeError(c, h.log, err, http.StatusUnprocessableEntity)
		return
	}
	out := gin.H{
		"ok":          true,
		"operation":   res.Operation,
		"event_table": res.EventTable,
		"event_id":    res.EventID,
		"happened_at": models.FormatTime(res.HappenedAt),
	}
	if res.UpdatedAt != nil {
		out["updated_at"] = models.FormatTime(*res.UpdatedAt)
	}
	c.JSON(http.StatusOK, out)
}
