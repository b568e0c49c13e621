package websocket

import (
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/round"
	"github.com/stemsi/exstem-session/internal/session"
	"github.com/stemsi/exstem-session/internal/speech"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionHello          Action = "hello"
	ActionBegin          Action = "begin"
	ActionStartRound     Action = "start_round"
	ActionSetAnswer      Action = "set_answer"
	ActionSelectOption   Action = "select_option"
	ActionNavigate       Action = "navigate"
	ActionSubmitRound    Action = "submit_round"
	ActionContinue       Action = "continue"
	ActionSpeak          Action = "speak"
	ActionDictationStart Action = "dictation_start"
	ActionDictationStop  Action = "dictation_stop"
	ActionTranscript     Action = "transcript"
	ActionDictationEnd   Action = "dictation_end"
	ActionDictationError Action = "dictation_error"
	ActionPlaybackDone   Action = "playback_done"
	ActionPing           Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// HelloRequest declares which speech primitives the browser has.
type HelloRequest struct {
	Action    Action `json:"action"`
	Dictation bool   `json:"dictation"`
	Playback  bool   `json:"playback"`
}

// StartRoundRequest starts a round. An empty round_id starts the current one.
type StartRoundRequest struct {
	Action  Action `json:"action"`
	RoundID string `json:"round_id" binding:"omitempty,max=128"`
}

// SetAnswerRequest replaces one question's answer text.
type SetAnswerRequest struct {
	Action     Action `json:"action"`
	QuestionID string `json:"question_id" binding:"required,max=128"`
	Answer     string `json:"answer" binding:"max=20000"`
}

// SelectOptionRequest picks an option of the current MCQ question by index.
type SelectOptionRequest struct {
	Action Action `json:"action"`
	Option *int   `json:"option" binding:"required,min=0,max=25"`
}

// NavigateRequest moves the question cursor, either by direction or to an
// absolute index.
type NavigateRequest struct {
	Action    Action `json:"action"`
	Direction string `json:"direction" binding:"omitempty,oneof=next prev"`
	Index     *int   `json:"index" binding:"omitempty,min=0"`
}

// TranscriptRequest carries one recognition result from the browser engine.
type TranscriptRequest struct {
	Action Action `json:"action"`
	Text   string `json:"text" binding:"max=5000"`
	Final  bool   `json:"final"`
}

// DictationErrorRequest reports a browser recognition error code
// ("not-allowed", "no-speech", ...).
type DictationErrorRequest struct {
	Action Action `json:"action"`
	Error  string `json:"error" binding:"required,max=128,ident"`
}

// PlaybackDoneRequest acknowledges a speak event.
type PlaybackDoneRequest struct {
	Action Action `json:"action"`
	ID     string `json:"id" binding:"required,max=64,ident"`
	Error  string `json:"error,omitempty" binding:"max=256"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventState     Event = "state"
	EventSpeak     Event = "speak"
	EventDictation Event = "dictation"
	EventError     Event = "error"
	EventPong      Event = "pong"
)

// DictationCommand tells the browser engine what to do.
type DictationCommand string

const (
	DictationStart DictationCommand = "start"
	DictationStop  DictationCommand = "stop"
)

// QuestionView is the question under the cursor, prepared for display.
type QuestionView struct {
	QuestionID   string   `json:"question_id"`
	QuestionText string   `json:"question_text"`
	QuestionType string   `json:"question_type"`
	Number       int      `json:"number"`
	Options      []string `json:"options,omitempty"`
	Answer       string   `json:"answer"`
}

// PlaybackStatus describes the listen-once control for the current question.
type PlaybackStatus struct {
	Available bool `json:"available"`
	Played    bool `json:"played"`
}

// StateResponse is pushed after every session change and timer tick.
type StateResponse struct {
	Event     Event            `json:"event"`
	Session   session.Snapshot `json:"session"`
	View      *round.View      `json:"view,omitempty"`
	Question  *QuestionView    `json:"question,omitempty"`
	Dictation speech.Status    `json:"dictation"`
	Playback  PlaybackStatus   `json:"playback"`
}

// SpeakResponse asks the browser to read text aloud and ack with the same ID.
type SpeakResponse struct {
	Event Event  `json:"event"`
	ID    string `json:"id"`
	Text  string `json:"text"`
}

type DictationResponse struct {
	Event   Event            `json:"event"`
	Command DictationCommand `json:"command"`
}

type ErrorResponse struct {
	Event   Event             `json:"event"`
	Code    response.ErrCode  `json:"code"`
	Error   string            `json:"error"`
	Action  Action            `json:"action,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
