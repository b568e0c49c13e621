package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SessionEventType enumerates journaled controller events.
type SessionEventType string

const (
	EventAttemptStarted       SessionEventType = "attempt_started"
	EventRoundStarted         SessionEventType = "round_started"
	EventRoundRejected        SessionEventType = "round_rejected"
	EventRoundSubmitted       SessionEventType = "round_submitted"
	EventRoundSubmitFailed    SessionEventType = "round_submit_failed"
	EventRoundExpired         SessionEventType = "round_expired"
	EventAssessmentCompleted  SessionEventType = "assessment_completed"
	EventEvaluationFinished   SessionEventType = "evaluation_finished"
	EventEvaluationPollGaveUp SessionEventType = "evaluation_poll_gave_up"
)

// SessionEvent is one journal entry describing a controller transition.
type SessionEvent struct {
	ID        uuid.UUID        `json:"id"`
	AttemptID string           `json:"attempt_id"`
	PackageID string           `json:"package_id"`
	StudentID string           `json:"student_id"`
	RoundID   string           `json:"round_id,omitempty"`
	Type      SessionEventType `json:"type"`
	State     string           `json:"state"`
	Detail    json.RawMessage  `json:"detail,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}
