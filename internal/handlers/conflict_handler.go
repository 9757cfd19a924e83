package handlers

import (
	"errors"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/TungSeven30/henrii-sub000/internal/logging"
	"github.com/TungSeven30/henrii-sub000/internal/services"
	"github.com/gin-gonic/gin"
)

// Redirect error codes understood by the conflicts page.
const (
	CodeInvalidResolution         = "invalid_resolution"
	CodeResolveFailed             = "resolve_failed"
	CodeInvalidMutationResolution = "invalid_mutation_resolution"
	CodeMutationResolveFailed     = "mutation_resolve_failed"
)

const defaultLocale = "en"

var localePattern = regexp.MustCompile(`^[A-Za-z]{2,3}(-[A-Za-z0-9]{2,8})?$`)

type ConflictHandler struct {
	svc *services.ResolutionService
	log *logging.Logger
}

func NewConflictHandler(svc *services.ResolutionService, log *logging.Logger) *ConflictHandler {
	return &ConflictHandler{svc: svc, log: log}
}

func (h *ConflictHandler) List(c *gin.Context) {
	open, err := h.svc.ListOpen(c.Request.Context(), scopeOf(c))
	if err != nil {
		writeError(c, h.log, err, http.StatusBadRequest)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"event_conflicts":    open.Events,
		"mutation_conflicts": open.Mutations,
	})
}

// ResolveEvent handles the keep-both / dismiss form.
func (h *ConflictHandler) ResolveEvent(c *gin.Context) {
	locale := formLocale(c)
	err := h.svc.ResolveEventConflict(c.Request.Context(), scopeOf(c), formConflictID(c), c.PostForm("action"))
	switch {
	case err == nil:
		redirectResolved(c, locale)
	case errors.Is(err, services.ErrInvalidResolution):
		redirectError(c, locale, CodeInvalidResolution)
	default:
		h.log.WithError(err).Warnf("resolve event conflict failed")
		redirectError(c, locale, CodeResolveFailed)
	}
}

// ResolveMutation handles the acknowledge form for stale edits.
func (h *ConflictHandler) ResolveMutation(c *gin.Context) {
	locale := formLocale(c)
	err := h.svc.ResolveMutationConflict(c.Request.Context(), scopeOf(c), formConflictID(c))
	switch {
	case err == nil:
		redirectResolved(c, locale)
	case errors.Is(err, services.ErrInvalidResolution):
		redirectError(c, locale, CodeInvalidMutationResolution)
	default:
		h.log.WithError(err).Warnf("resolve mutation conflict failed")
		redirectError(c, locale, CodeMutationResolveFailed)
	}
}

func formConflictID(c *gin.Context) string {
	if v := strings.TrimSpace(c.PostForm("conflictId")); v != "" {
		return v
	}
	return strings.TrimSpace(c.PostForm("conflict_id"))
}

func formLocale(c *gin.Context) string {
	locale := strings.TrimSpace(c.PostForm("locale"))
	if !localePattern.MatchString(locale) {
		return defaultLocale
	}
	return locale
}

func redirectResolved(c *gin.Context, locale string) {
	c.Redirect(http.StatusSeeOther, "/"+locale+"/conflicts?resolved=1")
}

func redirectError(c *gin.Context, locale, code string) {
	c.Redirect(http.StatusSeeOther, "/"+locale+"/conflicts?error="+url.QueryEscape(code))
}
