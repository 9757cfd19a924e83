package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/TungSeven30/henrii-sub000/internal/logging"
	"github.com/TungSeven30/henrii-sub000/internal/services"
	"github.com/gin-gonic/gin"
)

type EventHandler struct {
	svc *services.EventService
	log *logging.Logger
}

func NewEventHandler(svc *services.EventService, log *logging.Logger) *EventHandler {
	return &EventHandler{svc: svc, log: log}
}

// Log accepts {type, clientUuid, happenedAt?, ...fields}. The type-specific
// fields sit at the top level of the body.
func (h *EventHandler) Log(c *gin.Context) {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json body"})
		return
	}
	in := services.LogInput{
		Type:       stringField(body, "type"),
		ClientUUID: firstString(body, "clientUuid", "client_uuid"),
		HappenedAt: firstString(body, "happenedAt", "happened_at"),
		Fields:     body,
	}
	res, err := h.svc.Log(c.Request.Context(), scopeOf(c), in)
	if err != nil {
		writeError(c, h.log, err, http.StatusBadRequest)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ok":          true,
		"event_id":    res.EventID,
		"event_table": res.Table,
		"duplicate":   res.Duplicate,
	})
}

func (h *EventHandler) List(c *gin.Context) {
	table := strings.TrimSpace(c.Query("table"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	events, err := h.svc.ListRecent(c.Request.Context(), scopeOf(c), table, limit)
	if err != nil {
		writeError(c, h.log, err, http.StatusBadRequest)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func stringField(body map[string]any, key string) string {
	if s, ok := body[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

func firstString(body map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := stringField(body, k); s != "" {
			return s
		}
	}
	return ""
}
