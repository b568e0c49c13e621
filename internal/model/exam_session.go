package model

import (
	"time"
)

// AttemptStatus enumerates the server-side attempt and evaluation states.
type AttemptStatus string

const (
	AttemptStatusInProgress       AttemptStatus = "in_progress"
	AttemptStatusSubmitted        AttemptStatus = "submitted"
	AttemptStatusEvaluating       AttemptStatus = "evaluating"
	AttemptStatusEvaluated        AttemptStatus = "evaluated"
	AttemptStatusCompleted        AttemptStatus = "completed"
	AttemptStatusEvaluationFailed AttemptStatus = "evaluation_failed"
)

// Terminal reports whether evaluation polling can stop at this status.
func (s AttemptStatus) Terminal() bool {
	switch s {
	case AttemptStatusEvaluated, AttemptStatusCompleted, AttemptStatusEvaluationFailed:
		return true
	}
	return false
}

// Attempt is one student's pass through one assessment package.
type Attempt struct {
	AttemptID                   string    `json:"attempt_id"`
	PackageID                   string    `json:"package_id"`
	StudentID                   string    `json:"student_id"`
	StartedAt                   time.Time `json:"started_at"`
	TotalRounds                 int       `json:"total_rounds"`
	CurrentRound                int       `json:"current_round"`
	OverallTimeRemainingSeconds *int      `json:"overall_time_remaining_seconds,omitempty"`
	TimeWindowRemainingSeconds  *int      `json:"time_window_remaining_seconds,omitempty"`
}

// StartAssessmentResult is returned by the start-assessment boundary.
type StartAssessmentResult struct {
	AttemptID    string `json:"attempt_id"`
	TotalRounds  int    `json:"total_rounds"`
	CurrentRound int    `json:"current_round"`
}

// AttemptStatusResult is returned by the attempt-status boundary. It serves both
// timer reconciliation and evaluation polling.
type AttemptStatusResult struct {
	Status                      AttemptStatus `json:"status"`
	OverallTimeRemainingSeconds *int          `json:"overall_time_remaining_seconds,omitempty"`
	TimeWindowRemainingSeconds  *int          `json:"time_window_remaining_seconds,omitempty"`
}
