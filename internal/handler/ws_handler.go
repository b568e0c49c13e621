package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-session/internal/middleware"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/service"
	ws "github.com/stemsi/exstem-session/internal/websocket"
)

// maxIDLength bounds path IDs before they reach Redis keys or the upstream URL.
const maxIDLength = 128

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler serves the exam-session stream.
type WSHandler struct {
	sessionService *service.SessionService
	log            zerolog.Logger
	upgrader       websocket.Upgrader
	speakTimeout   time.Duration
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(sessionService *service.SessionService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		sessionService: sessionService,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
		speakTimeout:   2 * time.Minute,
	}
}

// SessionStream godoc
// WS /ws/v1/student/packages/:package_id/session?token=...
// Upgrades to WebSocket and runs one exam-session controller for the
// connection. A newer connection for the same package takes the session over.
func (h *WSHandler) SessionStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	packageID := c.Param("package_id")
	if packageID == "" || len(packageID) > maxIDLength {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.NewConn(raw)
	defer conn.Close()

	studentID := claims.Student()
	connID := uuid.NewString()
	registry := h.sessionService.Registry()

	wsLog := h.log.With().
		Str("student_id", studentID).
		Str("package_id", packageID).
		Str("conn_id", connID).
		Str("request_id", response.RequestID(c)).
		Logger()

	ctrl := h.sessionService.NewController(studentID, packageID, c.Query("token"))
	stream := newSessionStream(conn, ctrl, wsLog, h.speakTimeout)
	stream.refresh = func(ctx context.Context) (bool, error) {
		return registry.Refresh(ctx, studentID, packageID, connID)
	}

	claimCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = registry.Claim(claimCtx, studentID, packageID, &service.LiveSession{
		ConnID:     connID,
		Controller: ctrl,
		Close:      stream.takeOver,
	})
	cancel()
	if err != nil {
		// The local claim holds; only cross-instance takeover is degraded.
		wsLog.Warn().Err(err).Msg("Failed to publish session ownership")
	}
	defer registry.Release(context.Background(), studentID, packageID, connID)

	wsLog.Info().Msg("Student connected")
	stream.run()
	wsLog.Info().Msg("Student disconnected")
}
