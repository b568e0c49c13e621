package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-session/internal/answerstore"
	"github.com/stemsi/exstem-session/internal/clock"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/session"
	"github.com/stemsi/exstem-session/internal/upstream"
)

// EventReader reads the session journal.
type EventReader interface {
	ListByAttempt(ctx context.Context, attemptID, studentID string) ([]model.SessionEvent, error)
}

// BoundaryFactory builds the assessment API client for one student token.
type BoundaryFactory func(token string, skew *clock.Skewed) session.Boundary

// SessionService assembles exam-session controllers and serves their state.
type SessionService struct {
	cfg      *config.Config
	store    answerstore.Store
	sink     session.EventSink
	events   EventReader
	registry *SessionRegistry
	boundary BoundaryFactory
	log      zerolog.Logger
}

// NewSessionService creates a new SessionService talking to the configured
// upstream API.
func NewSessionService(
	cfg *config.Config,
	store answerstore.Store,
	sink session.EventSink,
	events EventReader,
	registry *SessionRegistry,
	log zerolog.Logger,
) *SessionService {
	s := &SessionService{
		cfg:      cfg,
		store:    store,
		sink:     sink,
		events:   events,
		registry: registry,
		log:      log.With().Str("component", "session_service").Logger(),
	}
	s.boundary = func(token string, skew *clock.Skewed) session.Boundary {
		return upstream.NewClient(cfg.UpstreamURL, token, cfg.UpstreamTimeout, skew, log)
	}
	return s
}

// WithBoundary replaces the upstream client factory.
func (s *SessionService) WithBoundary(f BoundaryFactory) *SessionService {
	s.boundary = f
	return s
}

// Registry returns the live-session registry.
func (s *SessionService) Registry() *SessionRegistry {
	return s.registry
}

// NewController creates a controller acting for studentID with token.
func (s *SessionService) NewController(studentID, packageID, token string) *session.Controller {
	skew := clock.NewSkewed(nil)
	return session.New(packageID, studentID, s.boundary(token, skew), session.Options{
		Clock:               skew,
		Store:               s.store,
		Sink:                s.sink,
		Log:                 s.log,
		TickInterval:        s.cfg.TickInterval,
		ReconcileInterval:   s.cfg.ReconcileInterval,
		PersistDebounce:     s.cfg.PersistDebounce,
		EvalPollInterval:    s.cfg.EvalPollInterval,
		EvalPollMaxAttempts: s.cfg.EvalPollMaxAttempts,
	})
}

// ListEvents returns a student's journal for one attempt.
func (s *SessionService) ListEvents(ctx context.Context, attemptID, studentID string) ([]model.SessionEvent, error) {
	if s.events == nil {
		return nil, fmt.Errorf("list session events: journal not configured")
	}
	events, err := s.events.ListByAttempt(ctx, attemptID, studentID)
	if err != nil {
		return nil, fmt.Errorf("list session events: %w", err)
	}
	return events, nil
}
