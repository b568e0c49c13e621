package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-session/internal/middleware"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/service"
	"github.com/stemsi/exstem-session/internal/validator"
)

// SessionHandler serves read-only views of exam sessions.
type SessionHandler struct {
	sessionService *service.SessionService
	log            zerolog.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(sessionService *service.SessionService, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		sessionService: sessionService,
		log:            log.With().Str("component", "session_handler").Logger(),
	}
}

// GetSession godoc
// GET /api/v1/student/packages/:package_id/session
// Returns the snapshot of the caller's live session for the package.
func (h *SessionHandler) GetSession(c *gin.Context) {
	ctrl := middleware.GetLiveSession(c)
	if ctrl == nil {
		response.Fail(c, http.StatusNotFound, response.ErrSessionNotLive)
		return
	}

	response.Success(c, http.StatusOK, ctrl.Snapshot())
}

// ListEvents godoc
// GET /api/v1/student/attempts/:attempt_id/events
// Returns the caller's journal for one attempt, oldest first.
func (h *SessionHandler) ListEvents(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	attemptID := c.Param("attempt_id")
	if len(attemptID) > maxIDLength || !validator.IsIdent(attemptID) {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidID, map[string]string{
			"attempt_id": "attempt_id may only contain letters, digits, '-', '_' and '.'",
		})
		return
	}

	events, err := h.sessionService.ListEvents(c.Request.Context(), attemptID, claims.Student())
	if err != nil {
		status, code, msg := classify(err)
		if status >= http.StatusInternalServerError {
			h.log.Error().Err(err).Str("attempt_id", attemptID).Msg("List session events failed")
		}
		response.FailWithMessage(c, status, code, msg)
		return
	}

	if events == nil {
		events = []model.SessionEvent{}
	}

	response.Success(c, http.StatusOK, gin.H{"events": events})
}
