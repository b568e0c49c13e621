package handler

import (
	"errors"
	"net/http"

	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/round"
	"github.com/stemsi/exstem-session/internal/session"
	"github.com/stemsi/exstem-session/internal/speech"
	"github.com/stemsi/exstem-session/internal/upstream"
)

// classify maps a domain error to an HTTP status, an error code and a message
// safe to show to the student. An empty message means the code's default.
func classify(err error) (int, response.ErrCode, string) {
	var apiErr *upstream.APIError

	switch {
	case errors.Is(err, session.ErrInvalidTransition):
		return http.StatusConflict, response.ErrInvalidTransition, ""
	case errors.Is(err, session.ErrSubmissionInFlight):
		return http.StatusConflict, response.ErrSubmissionInFlight, ""
	case errors.Is(err, session.ErrClosed):
		return http.StatusGone, response.ErrSessionNotLive, ""
	case errors.Is(err, model.ErrUnknownQuestion):
		return http.StatusBadRequest, response.ErrUnknownQuestion, ""
	case errors.Is(err, model.ErrInsufficientTime):
		return http.StatusConflict, response.ErrInsufficientTime, ""
	case errors.Is(err, model.ErrRoundNotFound):
		return http.StatusNotFound, response.ErrRoundNotFound, ""
	case errors.Is(err, speech.ErrUnsupported):
		return http.StatusBadRequest, response.ErrSpeechUnsupported, ""
	case errors.Is(err, speech.ErrDisabled), errors.Is(err, speech.ErrPermissionDenied):
		return http.StatusForbidden, response.ErrDictationDisabled, ""
	case errors.Is(err, round.ErrNoQuestion),
		errors.Is(err, round.ErrOutOfRange),
		errors.Is(err, round.ErrNotMCQ),
		errors.Is(err, round.ErrBadOption):
		return http.StatusBadRequest, response.ErrValidation, err.Error()
	case errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized:
		return http.StatusUnauthorized, response.ErrTokenInvalid, ""
	case errors.As(err, &apiErr):
		return http.StatusBadGateway, response.ErrUpstream, apiErr.Message
	default:
		return http.StatusInternalServerError, response.ErrInternal, ""
	}
}
