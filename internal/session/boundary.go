package session

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-session/internal/answerstore"
	"github.com/stemsi/exstem-session/internal/clock"
	"github.com/stemsi/exstem-session/internal/model"
)

// Boundary is the remote assessment API the controller drives.
type Boundary interface {
	StartAssessment(ctx context.Context, packageID, studentID string) (*model.StartAssessmentResult, error)
	GetPackageStatus(ctx context.Context, packageID string) (*model.PackageStatus, error)
	GetRoundQuestions(ctx context.Context, packageID, roundID, attemptID string) (*model.RoundQuestions, error)
	SubmitRound(ctx context.Context, packageID, roundID, attemptID string, answers model.AnswerMap) (*model.SubmitRoundResult, error)
	GetAttemptStatus(ctx context.Context, packageID, attemptID string) (*model.AttemptStatusResult, error)
}

// EventSink receives a journal entry for every controller transition.
type EventSink interface {
	Record(ctx context.Context, ev model.SessionEvent) error
}

// NopSink discards events.
type NopSink struct{}

func (NopSink) Record(context.Context, model.SessionEvent) error { return nil }

// Options tunes a Controller. Zero intervals disable the matching background
// loop, which tests use to drive timers by hand.
type Options struct {
	Clock clock.Clock
	Store answerstore.Store
	Sink  EventSink
	Log   zerolog.Logger

	TickInterval        time.Duration
	ReconcileInterval   time.Duration
	PersistDebounce     time.Duration
	EvalPollInterval    time.Duration
	EvalPollMaxAttempts int
}

// DefaultOptions returns production timings with an in-memory store.
func DefaultOptions() Options {
	return Options{
		Clock:               clock.System{},
		Store:               answerstore.NewMemoryStore(),
		Sink:                NopSink{},
		Log:                 zerolog.Nop(),
		TickInterval:        time.Second,
		ReconcileInterval:   10 * time.Second,
		PersistDebounce:     500 * time.Millisecond,
		EvalPollInterval:    time.Second,
		EvalPollMaxAttempts: 30,
	}
}

func (o *Options) fill() {
	d := DefaultOptions()
	if o.Clock == nil {
		o.Clock = d.Clock
	}
	if o.Store == nil {
		o.Store = d.Store
	}
	if o.Sink == nil {
		o.Sink = d.Sink
	}
	if o.EvalPollInterval <= 0 {
		o.EvalPollInterval = d.EvalPollInterval
	}
	if o.EvalPollMaxAttempts <= 0 {
		o.EvalPollMaxAttempts = d.EvalPollMaxAttempts
	}
}
