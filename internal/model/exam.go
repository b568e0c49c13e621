package model

import (
	"time"
)

// RoundType enumerates the kinds of timed segments a package can contain.
type RoundType string

const (
	RoundTypeMCQ             RoundType = "mcq"
	RoundTypeCoding          RoundType = "coding"
	RoundTypeGroupDiscussion RoundType = "group_discussion"
	RoundTypeSpeaking        RoundType = "speaking"
	RoundTypeListening       RoundType = "listening"
)

// RoundProgress is the per-round metadata reported by the package-status boundary.
type RoundProgress struct {
	RoundID         string    `json:"round_id"`
	RoundNumber     int       `json:"round_number"`
	RoundName       string    `json:"round_name,omitempty"`
	RoundType       RoundType `json:"round_type,omitempty"`
	DurationMinutes int       `json:"duration_minutes"`
	Status          string    `json:"status,omitempty"`
}

// PackageStatus is returned by the package-status boundary.
type PackageStatus struct {
	RoundsProgress []RoundProgress `json:"rounds_progress"`
}

// FindRound returns the metadata for the given round number.
func (p *PackageStatus) FindRound(roundNumber int) (*RoundProgress, bool) {
	if p == nil {
		return nil, false
	}
	for i := range p.RoundsProgress {
		if p.RoundsProgress[i].RoundNumber == roundNumber {
			return &p.RoundsProgress[i], true
		}
	}
	return nil, false
}

// RoundQuestions is returned by the round-questions boundary.
type RoundQuestions struct {
	RoundStartTime              time.Time  `json:"round_start_time"`
	DurationMinutes             int        `json:"duration_minutes"`
	Questions                   []Question `json:"questions"`
	OverallTimeRemainingSeconds *int       `json:"overall_time_remaining_seconds,omitempty"`
	TimeWindowRemainingSeconds  *int       `json:"time_window_remaining_seconds,omitempty"`
}

// Round is one timed segment of an assessment, as held by a running session.
type Round struct {
	RoundID         string     `json:"round_id"`
	RoundNumber     int        `json:"round_number"`
	RoundName       string     `json:"round_name,omitempty"`
	RoundType       RoundType  `json:"round_type,omitempty"`
	DurationMinutes int        `json:"duration_minutes"`
	RoundStartTime  time.Time  `json:"round_start_time"`
	Questions       []Question `json:"questions"`
}

// Duration returns the round's allotted time.
func (r *Round) Duration() time.Duration {
	return time.Duration(r.DurationMinutes) * time.Minute
}

// HasQuestion reports whether questionID belongs to the round.
func (r *Round) HasQuestion(questionID string) bool {
	for i := range r.Questions {
		if r.Questions[i].QuestionID == questionID {
			return true
		}
	}
	return false
}

// SubmitRoundResult is returned by the round-submission boundary.
type SubmitRoundResult struct {
	AssessmentComplete bool     `json:"assessment_complete"`
	Score              *float64 `json:"score,omitempty"`
}
