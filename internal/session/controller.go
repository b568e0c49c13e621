// Package session implements the exam-session state machine: round lifecycle,
// timers, answer persistence and exactly-once round submission.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/speech"
	"github.com/stemsi/exstem-session/internal/timer"
)

var (
	ErrInvalidTransition  = errors.New("action not allowed in the current session state")
	ErrSubmissionInFlight = errors.New("round submission already in progress")
	ErrClosed             = errors.New("session closed")
)

// storeTimeout bounds a single answer-store write or clear.
const storeTimeout = 5 * time.Second

// staleStatusAfter is the number of failed status fetches in a row after which
// the snapshot flags the overall and window countdowns as stale.
const staleStatusAfter = 3

// RoundInfo describes the round being prepared or taken.
type RoundInfo struct {
	RoundID         string          `json:"round_id"`
	RoundNumber     int             `json:"round_number"`
	RoundName       string          `json:"round_name,omitempty"`
	RoundType       model.RoundType `json:"round_type,omitempty"`
	DurationMinutes int             `json:"duration_minutes"`
	RoundStartTime  *time.Time      `json:"round_start_time,omitempty"`
}

// Evaluation tracks post-assessment result polling.
type Evaluation struct {
	Status model.AttemptStatus `json:"status,omitempty"`
	Polls  int                 `json:"polls"`
	Done   bool                `json:"done"`
	GaveUp bool                `json:"gave_up"`
}

// Snapshot is the controller's observable state.
type Snapshot struct {
	State        State            `json:"state"`
	PackageID    string           `json:"package_id"`
	AttemptID    string           `json:"attempt_id,omitempty"`
	TotalRounds  int              `json:"total_rounds"`
	CurrentRound int              `json:"current_round"`
	Round        *RoundInfo       `json:"round,omitempty"`
	Questions    []model.Question `json:"questions,omitempty"`
	Answers      model.AnswerMap  `json:"answers,omitempty"`
	Timers       timer.Snapshot   `json:"timers"`
	Submitting   bool             `json:"submitting"`
	LastScore    *float64         `json:"last_score,omitempty"`
	Error        string           `json:"error,omitempty"`
	Evaluation   *Evaluation      `json:"evaluation,omitempty"`
	StatusStale  bool             `json:"status_stale,omitempty"`
}

// Controller owns one student's session for one package.
type Controller struct {
	packageID string
	studentID string
	api       Boundary
	opts      Options
	log       zerolog.Logger

	coord   *timer.Coordinator
	recon   *timer.Reconciler
	persist *debouncer

	// submitting is the single submission latch shared by the user and timer
	// paths.
	submitting atomic.Bool

	// ops serializes user-initiated network actions other than submit.
	ops sync.Mutex

	life       context.Context
	cancelLife context.CancelFunc
	closeOnce  sync.Once

	mu           sync.Mutex
	state        State
	attemptID    string
	totalRounds  int
	currentRound int
	meta         *model.RoundProgress
	round        *model.Round
	answers      model.AnswerMap
	lastScore    *float64
	lastErr      string
	eval         *Evaluation
	roundCancel  context.CancelFunc
	dictation    *speech.Dictation
	subs         map[int]func(Snapshot)
	nextSub      int
	closed       bool
}

// New creates a controller in the instructions state.
func New(packageID, studentID string, api Boundary, opts Options) *Controller {
	opts.fill()
	log := opts.Log.With().
		Str("component", "session").
		Str("package_id", packageID).
		Str("student_id", studentID).
		Logger()

	c := &Controller{
		packageID: packageID,
		studentID: studentID,
		api:       api,
		opts:      opts,
		log:       log,
		state:     StateInstructions,
		subs:      map[int]func(Snapshot){},
	}
	c.life, c.cancelLife = context.WithCancel(context.Background())
	c.coord = timer.NewCoordinator(opts.Clock, log)
	c.coord.OnTick(func(timer.Snapshot) { c.notify() })
	c.recon = timer.NewReconciler(c.coord, c.fetchBudgets, opts.ReconcileInterval, log)
	c.persist = newDebouncer(opts.PersistDebounce, c.saveAnswers)
	return c
}

// AttachDictation lets the controller stop d whenever a round ends or the
// session closes.
func (c *Controller) AttachDictation(d *speech.Dictation) {
	c.mu.Lock()
	c.dictation = d
	c.mu.Unlock()
}

// Begin starts or resumes the attempt and moves to round instructions.
func (c *Controller) Begin(ctx context.Context) error {
	c.ops.Lock()
	defer c.ops.Unlock()

	if err := c.require(StateInstructions); err != nil {
		return err
	}

	res, err := c.api.StartAssessment(ctx, c.packageID, c.studentID)
	if err != nil {
		c.setError(err)
		return fmt.Errorf("start assessment: %w", err)
	}

	c.mu.Lock()
	c.attemptID = res.AttemptID
	c.totalRounds = res.TotalRounds
	c.currentRound = max(res.CurrentRound, 1)
	c.lastErr = ""
	c.log = c.log.With().Str("attempt_id", res.AttemptID).Logger()
	finished := c.totalRounds > 0 && c.currentRound > c.totalRounds
	if finished {
		c.completeLocked()
	} else {
		c.transitionLocked(StateRoundInstructions)
	}
	c.mu.Unlock()

	if !finished {
		// Seed the overall and window budgets so round instructions already
		// show them. A failed fetch is logged and retried by the reconciler.
		_ = c.recon.Once(ctx)
	}

	c.record(ctx, model.EventAttemptStarted, "", map[string]any{
		"total_rounds":  res.TotalRounds,
		"current_round": res.CurrentRound,
	})
	c.notify()

	if !finished {
		if _, err := c.resolveRound(ctx); err != nil {
			c.log.Warn().Err(err).Msg("Round metadata not resolved yet")
		}
	}
	return nil
}

// ResolveRound returns the metadata of the round about to start, fetching the
// package status if it is not known yet.
func (c *Controller) ResolveRound(ctx context.Context) (*model.RoundProgress, error) {
	c.ops.Lock()
	defer c.ops.Unlock()
	return c.resolveRound(ctx)
}

func (c *Controller) resolveRound(ctx context.Context) (*model.RoundProgress, error) {
	c.mu.Lock()
	if c.state != StateRoundInstructions {
		c.mu.Unlock()
		return nil, ErrInvalidTransition
	}
	if c.meta != nil && c.meta.RoundNumber == c.currentRound {
		m := *c.meta
		c.mu.Unlock()
		return &m, nil
	}
	number := c.currentRound
	c.mu.Unlock()

	meta, err := c.lookupRound(ctx, number)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.meta = meta
	c.mu.Unlock()
	c.notify()

	m := *meta
	return &m, nil
}

func (c *Controller) lookupRound(ctx context.Context, number int) (*model.RoundProgress, error) {
	status, err := c.api.GetPackageStatus(ctx, c.packageID)
	if err != nil {
		return nil, fmt.Errorf("get package status: %w", err)
	}
	meta, ok := status.FindRound(number)
	if !ok {
		return nil, fmt.Errorf("round %d: %w", number, model.ErrRoundNotFound)
	}
	m := *meta
	return &m, nil
}

// StartRound fetches the round's questions and starts its countdown. An empty
// roundID starts the resolved current round.
func (c *Controller) StartRound(ctx context.Context, roundID string) error {
	c.ops.Lock()
	defer c.ops.Unlock()

	if err := c.require(StateRoundInstructions); err != nil {
		return err
	}

	meta, err := c.resolveRound(ctx)
	if err != nil && roundID == "" {
		c.setError(err)
		return err
	}
	if roundID == "" {
		roundID = meta.RoundID
	}
	if meta == nil || meta.RoundID != roundID {
		meta = &model.RoundProgress{RoundID: roundID, RoundNumber: c.Snapshot().CurrentRound}
	}

	c.mu.Lock()
	attemptID := c.attemptID
	c.mu.Unlock()

	rq, err := c.api.GetRoundQuestions(ctx, c.packageID, roundID, attemptID)
	if errors.Is(err, model.ErrInsufficientTime) {
		c.log.Info().Str("round_id", roundID).Msg("Round rejected for insufficient time, ending assessment")
		c.mu.Lock()
		c.lastErr = err.Error()
		c.completeLocked()
		c.mu.Unlock()
		c.record(ctx, model.EventRoundRejected, roundID, map[string]any{"reason": err.Error()})
		c.notify()
		return nil
	}
	if err != nil {
		c.setError(err)
		return fmt.Errorf("get round questions: %w", err)
	}

	round := &model.Round{
		RoundID:         roundID,
		RoundNumber:     meta.RoundNumber,
		RoundName:       meta.RoundName,
		RoundType:       meta.RoundType,
		DurationMinutes: meta.DurationMinutes,
		RoundStartTime:  rq.RoundStartTime,
		Questions:       rq.Questions,
	}
	if rq.DurationMinutes > 0 {
		round.DurationMinutes = rq.DurationMinutes
	}
	if round.RoundStartTime.IsZero() {
		round.RoundStartTime = c.opts.Clock.Now()
	}

	restored := model.AnswerMap{}
	for qid, v := range c.opts.Store.Load(ctx, attemptID, roundID) {
		if round.HasQuestion(qid) {
			restored[qid] = v
		}
	}

	if rq.OverallTimeRemainingSeconds != nil || rq.TimeWindowRemainingSeconds != nil {
		c.coord.Reconcile(rq.OverallTimeRemainingSeconds, rq.TimeWindowRemainingSeconds)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.round = round
	c.meta = meta
	c.answers = restored
	c.lastErr = ""
	c.submitting.Store(false)
	c.transitionLocked(StateExam)
	c.coord.StartRound(round.RoundStartTime, round.Duration(), c.onExpire)
	c.startTimersLocked()
	c.mu.Unlock()

	if rq.OverallTimeRemainingSeconds == nil && rq.TimeWindowRemainingSeconds == nil {
		_ = c.recon.Once(ctx)
	}

	c.log.Info().
		Str("round_id", roundID).
		Int("round_number", round.RoundNumber).
		Int("restored_answers", len(restored)).
		Msg("Round started")
	c.record(ctx, model.EventRoundStarted, roundID, map[string]any{
		"round_number":     round.RoundNumber,
		"duration_minutes": round.DurationMinutes,
		"round_start_time": round.RoundStartTime,
	})
	c.notify()
	return nil
}

func (c *Controller) startTimersLocked() {
	ctx, cancel := context.WithCancel(c.life)
	c.roundCancel = cancel
	if c.opts.TickInterval > 0 {
		go c.coord.Run(ctx, c.opts.TickInterval)
	}
	if c.opts.ReconcileInterval > 0 {
		go c.recon.Run(ctx)
	}
}

func (c *Controller) stopTimersLocked() {
	c.coord.Stop()
	if c.roundCancel != nil {
		c.roundCancel()
		c.roundCancel = nil
	}
}

// SetAnswer records value for questionID in the current round.
func (c *Controller) SetAnswer(questionID, value string) error {
	return c.updateAnswer(questionID, func(string) string { return value })
}

// AppendAnswer appends a finalized dictation segment to questionID's answer.
func (c *Controller) AppendAnswer(questionID, segment string) error {
	return c.updateAnswer(questionID, func(old string) string {
		return speech.AppendSegment(old, segment)
	})
}

func (c *Controller) updateAnswer(questionID string, fn func(string) string) error {
	c.mu.Lock()
	if c.state != StateExam || c.round == nil {
		c.mu.Unlock()
		return ErrInvalidTransition
	}
	if c.submitting.Load() {
		c.mu.Unlock()
		return ErrSubmissionInFlight
	}
	if !c.round.HasQuestion(questionID) {
		c.mu.Unlock()
		return fmt.Errorf("answer %q: %w", questionID, model.ErrUnknownQuestion)
	}
	c.answers[questionID] = fn(c.answers[questionID])
	save := pendingSave{attemptID: c.attemptID, roundID: c.round.RoundID, answers: c.answers.Clone()}
	c.mu.Unlock()

	c.persist.Schedule(save)
	c.notify()
	return nil
}

// Answers returns a copy of the current round's answers.
func (c *Controller) Answers() model.AnswerMap {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.answers.Clone()
}

// SubmitRound submits the current round. Only one submission per round can
// reach the boundary; concurrent callers get ErrSubmissionInFlight.
func (c *Controller) SubmitRound(ctx context.Context) error {
	return c.submit(ctx, false)
}

func (c *Controller) onExpire() error {
	err := c.submit(c.life, true)
	if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

func (c *Controller) submit(ctx context.Context, auto bool) error {
	if err := c.require(StateExam); err != nil {
		return err
	}

	// Commit any interim dictation before the answers are captured.
	c.stopDictation()

	if !c.submitting.CompareAndSwap(false, true) {
		return ErrSubmissionInFlight
	}

	c.mu.Lock()
	if c.state != StateExam || c.closed {
		closed := c.closed
		c.mu.Unlock()
		c.submitting.Store(false)
		if closed {
			return ErrClosed
		}
		return ErrInvalidTransition
	}
	roundID := c.round.RoundID
	attemptID := c.attemptID
	answers := c.answers.Clone()
	c.mu.Unlock()
	c.notify()

	if auto {
		c.log.Info().Str("round_id", roundID).Msg("Round time expired, auto-submitting")
		c.record(ctx, model.EventRoundExpired, roundID, nil)
	}

	res, err := c.api.SubmitRound(ctx, c.packageID, roundID, attemptID, answers)
	if err != nil {
		c.mu.Lock()
		c.lastErr = err.Error()
		c.mu.Unlock()
		c.submitting.Store(false)

		c.log.Warn().Err(err).Str("round_id", roundID).Bool("auto", auto).Msg("Round submission failed")
		c.record(ctx, model.EventRoundSubmitFailed, roundID, map[string]any{"error": err.Error(), "auto": auto})
		c.notify()
		return fmt.Errorf("submit round: %w", err)
	}

	// The pending write must not land after the clear.
	c.persist.Cancel()
	clearCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	c.opts.Store.Clear(clearCtx, attemptID, roundID)
	cancel()

	c.mu.Lock()
	c.stopTimersLocked()
	c.lastScore = res.Score
	c.lastErr = ""
	if res.AssessmentComplete {
		c.completeLocked()
	} else {
		c.transitionLocked(StateRoundComplete)
	}
	c.mu.Unlock()
	c.submitting.Store(false)

	c.log.Info().
		Str("round_id", roundID).
		Bool("auto", auto).
		Bool("assessment_complete", res.AssessmentComplete).
		Int("answers", len(answers)).
		Msg("Round submitted")
	c.record(ctx, model.EventRoundSubmitted, roundID, map[string]any{
		"auto":                auto,
		"answers":             len(answers),
		"score":               res.Score,
		"assessment_complete": res.AssessmentComplete,
	})
	if res.AssessmentComplete {
		c.record(ctx, model.EventAssessmentCompleted, roundID, nil)
	}
	c.notify()
	return nil
}

// ContinueToNextRound moves from round_complete to the next round's
// instructions, or to assessment_complete when none is left.
func (c *Controller) ContinueToNextRound(ctx context.Context) error {
	c.ops.Lock()
	defer c.ops.Unlock()

	if err := c.require(StateRoundComplete); err != nil {
		return err
	}

	c.mu.Lock()
	next := c.currentRound + 1
	noMore := c.totalRounds > 0 && next > c.totalRounds
	c.mu.Unlock()

	var meta *model.RoundProgress
	if !noMore {
		m, err := c.lookupRound(ctx, next)
		switch {
		case errors.Is(err, model.ErrRoundNotFound):
			noMore = true
		case err != nil:
			c.setError(err)
			return err
		default:
			meta = m
		}
	}

	c.mu.Lock()
	if noMore {
		c.completeLocked()
	} else {
		c.currentRound = next
		c.meta = meta
		c.round = nil
		c.answers = nil
		c.lastScore = nil
		c.transitionLocked(StateRoundInstructions)
	}
	c.mu.Unlock()

	if noMore {
		c.record(ctx, model.EventAssessmentCompleted, "", nil)
	}
	c.notify()
	return nil
}

// Snapshot returns the current observable state.
func (c *Controller) Snapshot() Snapshot {
	timers := c.coord.Remaining()
	stale := c.recon.ConsecutiveFailures() >= staleStatusAfter

	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		State:        c.state,
		PackageID:    c.packageID,
		AttemptID:    c.attemptID,
		TotalRounds:  c.totalRounds,
		CurrentRound: c.currentRound,
		Timers:       timers,
		Submitting:   c.submitting.Load(),
		LastScore:    c.lastScore,
		Error:        c.lastErr,
		StatusStale:  stale,
	}
	switch {
	case c.round != nil && c.state == StateExam:
		start := c.round.RoundStartTime
		s.Round = &RoundInfo{
			RoundID:         c.round.RoundID,
			RoundNumber:     c.round.RoundNumber,
			RoundName:       c.round.RoundName,
			RoundType:       c.round.RoundType,
			DurationMinutes: c.round.DurationMinutes,
			RoundStartTime:  &start,
		}
		s.Questions = c.round.Questions
		s.Answers = c.answers.Clone()
	case c.meta != nil:
		s.Round = &RoundInfo{
			RoundID:         c.meta.RoundID,
			RoundNumber:     c.meta.RoundNumber,
			RoundName:       c.meta.RoundName,
			RoundType:       c.meta.RoundType,
			DurationMinutes: c.meta.DurationMinutes,
		}
	}
	if c.eval != nil {
		e := *c.eval
		s.Evaluation = &e
	}
	return s
}

// Subscribe registers fn to receive a snapshot after every change and timer
// tick. The returned func unregisters it.
func (c *Controller) Subscribe(fn func(Snapshot)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// Close stops every timer, poller and dictation session and flushes pending
// answers. Stored answers are kept for a later resume.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.stopTimersLocked()
		c.mu.Unlock()

		c.cancelLife()
		c.stopDictation()
		c.persist.Flush()
		c.log.Debug().Msg("Session closed")
	})
}

// completeLocked enters assessment_complete and starts evaluation polling.
func (c *Controller) completeLocked() {
	c.stopTimersLocked()
	c.transitionLocked(StateAssessmentComplete)
	if c.eval == nil && c.attemptID != "" {
		c.eval = &Evaluation{}
		go c.pollEvaluation(c.life, c.attemptID)
	}
}

func (c *Controller) transitionLocked(to State) {
	from := c.state
	if !from.CanTransition(to) {
		// Unreachable through the public API; every caller checks state first.
		c.log.Error().Str("from", string(from)).Str("to", string(to)).Msg("Rejected state transition")
		return
	}
	c.state = to
	c.log.Debug().Str("from", string(from)).Str("to", string(to)).Msg("State transition")
}

func (c *Controller) require(s State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.state != s {
		return fmt.Errorf("%w: in %s, need %s", ErrInvalidTransition, c.state, s)
	}
	return nil
}

func (c *Controller) setError(err error) {
	c.mu.Lock()
	c.lastErr = err.Error()
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) stopDictation() {
	c.mu.Lock()
	d := c.dictation
	c.mu.Unlock()
	if d != nil {
		if err := d.Stop(); err != nil {
			c.log.Debug().Err(err).Msg("Dictation stop failed")
		}
	}
}

func (c *Controller) fetchBudgets(ctx context.Context) (*int, *int, error) {
	c.mu.Lock()
	attemptID := c.attemptID
	c.mu.Unlock()

	st, err := c.api.GetAttemptStatus(ctx, c.packageID, attemptID)
	if err != nil {
		return nil, nil, err
	}
	return st.OverallTimeRemainingSeconds, st.TimeWindowRemainingSeconds, nil
}

func (c *Controller) saveAnswers(p pendingSave) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	c.opts.Store.Save(ctx, p.attemptID, p.roundID, p.answers)
}

func (c *Controller) record(ctx context.Context, typ model.SessionEventType, roundID string, detail map[string]any) {
	c.mu.Lock()
	ev := model.SessionEvent{
		ID:        uuid.New(),
		AttemptID: c.attemptID,
		PackageID: c.packageID,
		StudentID: c.studentID,
		RoundID:   roundID,
		Type:      typ,
		State:     string(c.state),
		CreatedAt: c.opts.Clock.Now().UTC(),
	}
	c.mu.Unlock()

	if detail != nil {
		raw, err := json.Marshal(detail)
		if err == nil {
			ev.Detail = raw
		}
	}
	if err := c.opts.Sink.Record(context.WithoutCancel(ctx), ev); err != nil {
		c.log.Warn().Err(err).Str("event", string(typ)).Msg("Failed to journal session event")
	}
}

func (c *Controller) notify() {
	c.mu.Lock()
	if len(c.subs) == 0 {
		c.mu.Unlock()
		return
	}
	subs := make([]func(Snapshot), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	snap := c.Snapshot()
	for _, fn := range subs {
		fn(snap)
	}
}
