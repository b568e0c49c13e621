package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/service"
	"github.com/stemsi/exstem-session/internal/session"
)

// ContextKeyLiveSession is the Gin context key for the caller's live session.
const ContextKeyLiveSession = "live_session"

// RequireLiveSession resolves the caller's live session for :package_id on
// this instance. Requests for a package with no open stream are rejected.
func RequireLiveSession(registry *service.SessionRegistry) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := GetClaims(c)
		if claims == nil {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}

		packageID := c.Param("package_id")
		if packageID == "" {
			response.AbortFail(c, http.StatusBadRequest, response.ErrInvalidID)
			return
		}

		ctrl, ok := registry.Lookup(claims.Student(), packageID)
		if !ok {
			response.AbortFail(c, http.StatusNotFound, response.ErrSessionNotLive)
			return
		}

		c.Set(ContextKeyLiveSession, ctrl)
		c.Next()
	}
}

// GetLiveSession retrieves the controller resolved by RequireLiveSession.
func GetLiveSession(c *gin.Context) *session.Controller {
	val, exists := c.Get(ContextKeyLiveSession)
	if !exists {
		return nil
	}
	ctrl, ok := val.(*session.Controller)
	if !ok {
		return nil
	}
	return ctrl
}
