package response

// ErrCode is a typed error code enum shared by REST responses and WebSocket
// error events.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired      ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid       ErrCode = "TOKEN_INVALID"
	ErrTokenExpired       ErrCode = "TOKEN_EXPIRED"
	ErrSessionInvalidated ErrCode = "SESSION_INVALIDATED"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrStudentAccessOnly ErrCode = "STUDENT_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"
	ErrUnknownAction  ErrCode = "UNKNOWN_ACTION"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound       ErrCode = "NOT_FOUND"
	ErrSessionNotLive ErrCode = "SESSION_NOT_LIVE"

	// ─── Exam session ──────────────────────────────────────────────────
	ErrInvalidTransition  ErrCode = "INVALID_TRANSITION"
	ErrSubmissionInFlight ErrCode = "SUBMISSION_IN_FLIGHT"
	ErrUnknownQuestion    ErrCode = "UNKNOWN_QUESTION"
	ErrInsufficientTime   ErrCode = "INSUFFICIENT_TIME"
	ErrRoundNotFound      ErrCode = "ROUND_NOT_FOUND"
	ErrSessionTakenOver   ErrCode = "SESSION_TAKEN_OVER"

	// ─── Speech ────────────────────────────────────────────────────────
	ErrSpeechUnsupported ErrCode = "SPEECH_UNSUPPORTED"
	ErrDictationDisabled ErrCode = "DICTATION_DISABLED"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrUpstream ErrCode = "UPSTREAM_ERROR"
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "Authentication token is required."
	case ErrTokenInvalid:
		return "Authentication token is invalid."
	case ErrTokenExpired:
		return "Authentication token has expired."
	case ErrSessionInvalidated:
		return "Your session has ended. Please sign in again."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrStudentAccessOnly:
		return "This resource is restricted to students."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "Invalid ID format."
	case ErrInvalidPayload:
		return "Invalid request payload."
	case ErrUnknownAction:
		return "Unknown action."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Resource not found."
	case ErrSessionNotLive:
		return "No live exam session for this package."

	// ─── Exam session ──────────────────────────────────────────────────
	case ErrInvalidTransition:
		return "That action is not available at this point of the exam."
	case ErrSubmissionInFlight:
		return "The round is already being submitted."
	case ErrUnknownQuestion:
		return "The question does not belong to the current round."
	case ErrInsufficientTime:
		return "There is not enough time left to start this round."
	case ErrRoundNotFound:
		return "The round could not be found in this package."
	case ErrSessionTakenOver:
		return "This exam was opened on another device or tab."

	// ─── Speech ────────────────────────────────────────────────────────
	case ErrSpeechUnsupported:
		return "Voice features are not supported on this device."
	case ErrDictationDisabled:
		return "Microphone access was denied. Voice input is disabled for this session."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrUpstream:
		return "The assessment service could not complete the request."
	case ErrInternal:
		return "Internal server error."
	default:
		return "An unexpected error occurred."
	}
}
