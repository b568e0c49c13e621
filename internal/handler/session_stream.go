package handler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/round"
	"github.com/stemsi/exstem-session/internal/session"
	"github.com/stemsi/exstem-session/internal/speech"
	ws "github.com/stemsi/exstem-session/internal/websocket"
)

// sessionStream binds one socket to one controller. The read loop applies
// client actions; a separate loop pushes the latest state whenever anything
// changes.
type sessionStream struct {
	conn         *ws.Conn
	ctrl         *session.Controller
	renderer     *round.Renderer
	relay        *ws.Relay
	refresh      func(ctx context.Context) (bool, error)
	speakTimeout time.Duration
	log          zerolog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	changed chan struct{}
	wg      sync.WaitGroup

	mu        sync.Mutex
	greeted   bool
	dictation *speech.Dictation
	playback  *speech.Playback
	// target is the question dictation writes into. It is fixed when
	// dictation starts so navigation cannot redirect a running transcript.
	target   string
	roundKey string
}

func newSessionStream(conn *ws.Conn, ctrl *session.Controller, log zerolog.Logger, speakTimeout time.Duration) *sessionStream {
	s := &sessionStream{
		conn:         conn,
		ctrl:         ctrl,
		renderer:     round.NewRenderer(ctrl),
		relay:        ws.NewRelay(conn.WriteTyped),
		speakTimeout: speakTimeout,
		log:          log,
		changed:      make(chan struct{}, 1),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	// Until the browser says hello, assume it has no speech primitives.
	s.dictation = speech.NewDictation(nil, s.dictationCallbacks(), log)
	s.playback = speech.NewPlayback(nil)
	ctrl.AttachDictation(s.dictation)

	s.renderer.OnNavigate(s.onNavigate)
	return s
}

func (s *sessionStream) run() {
	unsubscribe := s.ctrl.Subscribe(func(session.Snapshot) { s.markChanged() })

	s.wg.Add(1)
	go s.pushLoop()
	s.markChanged()

	for {
		data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn().Err(err).Msg("Unexpected close")
			} else {
				s.log.Debug().Msg("Connection closed")
			}
			break
		}
		s.dispatch(data)
	}

	unsubscribe()
	s.cancel()
	s.wg.Wait()
	s.ctrl.Close()
}

// takeOver ends this stream because another connection owns the session now.
func (s *sessionStream) takeOver() {
	_ = s.conn.WriteError("", response.ErrSessionTakenOver, "")
	s.conn.CloseWith(websocket.ClosePolicyViolation, "session taken over")
}

func (s *sessionStream) dispatch(data []byte) {
	var env ws.RequestEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		_ = s.conn.WriteError("", response.ErrInvalidPayload, "")
		return
	}

	switch env.Action {
	case ws.ActionHello:
		var req ws.HelloRequest
		if s.decode(env.Action, data, &req) {
			s.handleHello(req)
		}
	case ws.ActionBegin:
		s.async(env.Action, s.ctrl.Begin)
	case ws.ActionStartRound:
		var req ws.StartRoundRequest
		if s.decode(env.Action, data, &req) {
			s.async(env.Action, func(ctx context.Context) error {
				return s.ctrl.StartRound(ctx, req.RoundID)
			})
		}
	case ws.ActionSetAnswer:
		var req ws.SetAnswerRequest
		if s.decode(env.Action, data, &req) {
			s.reply(env.Action, s.ctrl.SetAnswer(req.QuestionID, req.Answer))
		}
	case ws.ActionSelectOption:
		var req ws.SelectOptionRequest
		if s.decode(env.Action, data, &req) {
			s.refreshRound()
			s.reply(env.Action, s.renderer.SelectOption(*req.Option))
		}
	case ws.ActionNavigate:
		var req ws.NavigateRequest
		if s.decode(env.Action, data, &req) {
			s.handleNavigate(req)
		}
	case ws.ActionSubmitRound:
		// A submission that reached the server is allowed to finish even if
		// the socket drops meanwhile.
		s.async(env.Action, func(ctx context.Context) error {
			return s.ctrl.SubmitRound(context.WithoutCancel(ctx))
		})
	case ws.ActionContinue:
		s.async(env.Action, s.ctrl.ContinueToNextRound)
	case ws.ActionSpeak:
		s.handleSpeak()
	case ws.ActionDictationStart:
		s.handleDictationStart()
	case ws.ActionDictationStop:
		s.reply(env.Action, s.currentDictation().Stop())
	case ws.ActionTranscript:
		var req ws.TranscriptRequest
		if s.decode(env.Action, data, &req) {
			s.relay.Result(req.Text, req.Final)
		}
	case ws.ActionDictationEnd:
		s.relay.End()
		s.markChanged()
	case ws.ActionDictationError:
		var req ws.DictationErrorRequest
		if s.decode(env.Action, data, &req) {
			s.relay.Error(req.Error)
			s.markChanged()
		}
	case ws.ActionPlaybackDone:
		var req ws.PlaybackDoneRequest
		if s.decode(env.Action, data, &req) {
			s.relay.PlaybackDone(req.ID, req.Error)
		}
	case ws.ActionPing:
		s.handlePing()
	default:
		s.log.Warn().Str("action", string(env.Action)).Msg("Unknown action")
		_ = s.conn.WriteError(env.Action, response.ErrUnknownAction, "unknown action: "+string(env.Action))
	}
}

func (s *sessionStream) decode(action ws.Action, data []byte, dst interface{}) bool {
	fields, err := ws.Decode(data, dst)
	if err != nil {
		_ = s.conn.WriteError(action, response.ErrInvalidPayload, "")
		return false
	}
	if fields != nil {
		_ = s.conn.WriteValidation(action, fields)
		return false
	}
	return true
}

// async runs a network-bound action off the read loop so transcripts and
// pings keep flowing while it waits on the assessment API.
func (s *sessionStream) async(action ws.Action, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.reply(action, fn(s.ctx))
	}()
}

func (s *sessionStream) reply(action ws.Action, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) && s.ctx.Err() != nil {
		return
	}
	_, code, msg := classify(err)
	s.log.Debug().Err(err).Str("action", string(action)).Str("code", string(code)).Msg("Action failed")
	_ = s.conn.WriteError(action, code, msg)
}

func (s *sessionStream) handleHello(req ws.HelloRequest) {
	s.mu.Lock()
	if s.greeted {
		s.mu.Unlock()
		s.markChanged()
		return
	}
	s.greeted = true

	var engine speech.Engine
	if req.Dictation {
		engine = s.relay
	}
	var synth speech.Synthesizer
	if req.Playback {
		synth = s.relay
	}
	s.dictation = speech.NewDictation(engine, s.dictationCallbacks(), s.log)
	s.playback = speech.NewPlayback(synth)
	d, pb := s.dictation, s.playback
	s.mu.Unlock()

	if q, ok := s.renderer.Current(); ok {
		pb.SetQuestion(q.QuestionID)
	}
	s.ctrl.AttachDictation(d)
	s.log.Debug().Bool("dictation", req.Dictation).Bool("playback", req.Playback).Msg("Client capabilities")
	s.markChanged()
}

func (s *sessionStream) handleNavigate(req ws.NavigateRequest) {
	s.refreshRound()

	var err error
	switch {
	case req.Index != nil:
		err = s.renderer.GoTo(*req.Index)
	case req.Direction == "next":
		s.renderer.Next()
	case req.Direction == "prev":
		s.renderer.Prev()
	default:
		_ = s.conn.WriteValidation(ws.ActionNavigate, map[string]string{
			"direction": "direction or index is required",
		})
		return
	}
	s.reply(ws.ActionNavigate, err)
	s.markChanged()
}

func (s *sessionStream) handleSpeak() {
	s.refreshRound()
	q, ok := s.renderer.Current()
	if !ok {
		s.reply(ws.ActionSpeak, round.ErrNoQuestion)
		return
	}
	pb := s.currentPlayback()

	s.async(ws.ActionSpeak, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, s.speakTimeout)
		defer cancel()
		defer s.markChanged()

		_, err := pb.Speak(ctx, q.QuestionID, q.QuestionText)
		return err
	})
	s.markChanged()
}

func (s *sessionStream) handleDictationStart() {
	snap := s.ctrl.Snapshot()
	if snap.State != session.StateExam {
		s.reply(ws.ActionDictationStart, session.ErrInvalidTransition)
		return
	}
	s.syncRound(snap)
	q, ok := s.renderer.Current()
	if !ok {
		s.reply(ws.ActionDictationStart, round.ErrNoQuestion)
		return
	}

	s.mu.Lock()
	s.target = q.QuestionID
	d := s.dictation
	s.mu.Unlock()

	s.reply(ws.ActionDictationStart, d.Start())
	s.markChanged()
}

func (s *sessionStream) handlePing() {
	if s.refresh != nil {
		ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
		owned, err := s.refresh(ctx)
		cancel()
		switch {
		case err != nil:
			s.log.Warn().Err(err).Msg("Failed to refresh session ownership")
		case !owned:
			s.log.Info().Msg("Session owned by another connection, closing")
			s.takeOver()
			return
		}
	}
	_ = s.conn.WriteTyped(ws.PongResponse{Event: ws.EventPong})
}

func (s *sessionStream) dictationCallbacks() speech.Callbacks {
	return speech.Callbacks{
		OnInterim: func(string) { s.markChanged() },
		OnFinal: func(text string) {
			s.mu.Lock()
			target := s.target
			s.mu.Unlock()
			if target == "" {
				return
			}
			if err := s.ctrl.AppendAnswer(target, text); err != nil {
				s.log.Debug().Err(err).Str("question_id", target).Msg("Dropped dictation segment")
			}
		},
		OnError: func(err error) {
			s.reply(ws.ActionDictationError, err)
			s.markChanged()
		},
	}
}

// onNavigate resets listen-once playback for the new question and stops a
// dictation aimed at the previous one.
func (s *sessionStream) onNavigate(q model.Question) {
	s.mu.Lock()
	pb, d, target := s.playback, s.dictation, s.target
	s.mu.Unlock()

	pb.SetQuestion(q.QuestionID)
	if target != "" && target != q.QuestionID && d.Listening() {
		if err := d.Stop(); err != nil {
			s.log.Debug().Err(err).Msg("Dictation stop failed")
		}
	}
}

func (s *sessionStream) currentDictation() *speech.Dictation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dictation
}

func (s *sessionStream) currentPlayback() *speech.Playback {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playback
}

func (s *sessionStream) markChanged() {
	select {
	case s.changed <- struct{}{}:
	default:
	}
}

func (s *sessionStream) pushLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.changed:
			if err := s.conn.WriteTyped(s.buildState()); err != nil {
				s.log.Debug().Err(err).Msg("State push failed")
			}
		}
	}
}

func (s *sessionStream) buildState() ws.StateResponse {
	snap := s.ctrl.Snapshot()
	s.syncRound(snap)

	s.mu.Lock()
	d, pb := s.dictation, s.playback
	s.mu.Unlock()

	state := ws.StateResponse{
		Event:     ws.EventState,
		Session:   snap,
		Dictation: d.Status(),
		Playback:  ws.PlaybackStatus{Available: pb.Available()},
	}

	if s.renderer.Len() == 0 {
		return state
	}
	view := s.renderer.View()
	state.View = &view

	if q, ok := s.renderer.Current(); ok {
		qv := &ws.QuestionView{
			QuestionID:   q.QuestionID,
			QuestionText: q.QuestionText,
			QuestionType: string(q.QuestionType),
			Number:       view.Index + 1,
			Answer:       snap.Answers[q.QuestionID],
		}
		for _, opt := range q.Options {
			qv.Options = append(qv.Options, round.DisplayOption(opt))
		}
		state.Question = qv
		state.Playback.Played = pb.Played(q.QuestionID)
	}
	return state
}

// refreshRound loads the current round into the renderer ahead of the push
// loop.
func (s *sessionStream) refreshRound() {
	s.syncRound(s.ctrl.Snapshot())
}

// syncRound reloads the renderer when the session enters a different round or
// leaves the exam.
func (s *sessionStream) syncRound(snap session.Snapshot) {
	key := ""
	if snap.State == session.StateExam && snap.Round != nil {
		key = snap.AttemptID + "/" + snap.Round.RoundID
	}

	s.mu.Lock()
	if key == s.roundKey {
		s.mu.Unlock()
		return
	}
	s.roundKey = key
	s.target = ""
	s.mu.Unlock()

	if key == "" {
		s.renderer.Load(nil)
		return
	}
	s.renderer.Load(snap.Questions)
}
