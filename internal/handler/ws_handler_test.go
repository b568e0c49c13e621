package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-session/internal/answerstore"
	"github.com/stemsi/exstem-session/internal/clock"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/handler"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/router"
	"github.com/stemsi/exstem-session/internal/service"
	"github.com/stemsi/exstem-session/internal/session"
)

type fakeAPI struct {
	mu        sync.Mutex
	submitted map[string]model.AnswerMap
}

func (f *fakeAPI) StartAssessment(context.Context, string, string) (*model.StartAssessmentResult, error) {
	return &model.StartAssessmentResult{AttemptID: "att-1", TotalRounds: 1, CurrentRound: 1}, nil
}

func (f *fakeAPI) GetPackageStatus(context.Context, string) (*model.PackageStatus, error) {
	return &model.PackageStatus{RoundsProgress: []model.RoundProgress{
		{RoundID: "r1", RoundNumber: 1, RoundName: "Aptitude", RoundType: model.RoundTypeMCQ, DurationMinutes: 10},
	}}, nil
}

func (f *fakeAPI) GetRoundQuestions(context.Context, string, string, string) (*model.RoundQuestions, error) {
	return &model.RoundQuestions{
		RoundStartTime:  time.Now(),
		DurationMinutes: 10,
		Questions: []model.Question{
			{QuestionID: "q1", QuestionText: "2 + 2 = ?", QuestionType: model.QuestionTypeMCQ, Order: 1, Options: []string{"A. 3", "B. 4"}},
			{QuestionID: "q2", QuestionText: "Describe your last project.", QuestionType: model.QuestionTypeSpeech, Order: 2},
		},
	}, nil
}

func (f *fakeAPI) SubmitRound(_ context.Context, _, roundID, _ string, answers model.AnswerMap) (*model.SubmitRoundResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted[roundID] = answers.Clone()
	return &model.SubmitRoundResult{AssessmentComplete: true}, nil
}

func (f *fakeAPI) GetAttemptStatus(context.Context, string, string) (*model.AttemptStatusResult, error) {
	return &model.AttemptStatusResult{Status: model.AttemptStatusEvaluated}, nil
}

func (f *fakeAPI) answersFor(roundID string) model.AnswerMap {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitted[roundID]
}

type fakeEvents struct{}

func (fakeEvents) ListByAttempt(_ context.Context, attemptID, studentID string) ([]model.SessionEvent, error) {
	return []model.SessionEvent{{AttemptID: attemptID, StudentID: studentID, Type: model.EventAttemptStarted}}, nil
}

type gateway struct {
	srv   *httptest.Server
	api   *fakeAPI
	token string
}

type failingEvents struct{ err error }

func (f failingEvents) ListByAttempt(context.Context, string, string) ([]model.SessionEvent, error) {
	return nil, f.err
}

func newGateway(t *testing.T) *gateway {
	t.Helper()
	return newGatewayWithEvents(t, fakeEvents{})
}

func newGatewayWithEvents(t *testing.T, events service.EventReader) *gateway {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		GinMode:             gin.TestMode,
		JWTSecret:           "test-secret",
		EvalPollInterval:    10 * time.Millisecond,
		EvalPollMaxAttempts: 3,
	}
	log := zerolog.Nop()
	api := &fakeAPI{submitted: map[string]model.AnswerMap{}}

	auth := service.NewAuthService(cfg)
	registry := service.NewSessionRegistry(nil, time.Minute, log)
	sessions := service.NewSessionService(cfg, answerstore.NewMemoryStore(), session.NopSink{}, events, registry, log).
		WithBoundary(func(string, *clock.Skewed) session.Boundary { return api })

	r := router.SetupRouter(auth, registry, &router.Handlers{
		Session: handler.NewSessionHandler(sessions, log),
		WS:      handler.NewWSHandler(sessions, log, nil),
		System:  handler.NewSystemHandler(nil, nil, registry, log),
	}, cfg)

	token, err := auth.IssueStudentToken("stu-1", time.Hour)
	require.NoError(t, err)

	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		registry.CloseAll()
		srv.Close()
	})
	return &gateway{srv: srv, api: api, token: token}
}

func (g *gateway) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(g.srv.URL, "http") + "/ws/v1/student/packages/pkg-1/session?token=" + g.token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

type serverMsg struct {
	Event   string `json:"event"`
	Code    string `json:"code"`
	Command string `json:"command"`
	ID      string `json:"id"`
	Text    string `json:"text"`
	Session struct {
		State   string            `json:"state"`
		Answers map[string]string `json:"answers"`
	} `json:"session"`
	Question *struct {
		QuestionID string   `json:"question_id"`
		Options    []string `json:"options"`
	} `json:"question"`
	Dictation struct {
		Available bool `json:"available"`
		Listening bool `json:"listening"`
	} `json:"dictation"`
	Playback struct {
		Available bool `json:"available"`
		Played    bool `json:"played"`
	} `json:"playback"`
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

func readUntil(t *testing.T, conn *websocket.Conn, match func(serverMsg) bool) serverMsg {
	t.Helper()
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
		var msg serverMsg
		require.NoError(t, conn.ReadJSON(&msg))
		if match(msg) {
			return msg
		}
	}
}

func inState(state string) func(serverMsg) bool {
	return func(m serverMsg) bool { return m.Event == "state" && m.Session.State == state }
}

func TestSessionStream_FullRound(t *testing.T) {
	g := newGateway(t)
	conn := g.dial(t)

	readUntil(t, conn, inState("instructions"))

	send(t, conn, map[string]any{"action": "hello", "dictation": true, "playback": true})
	readUntil(t, conn, func(m serverMsg) bool { return m.Event == "state" && m.Dictation.Available && m.Playback.Available })

	send(t, conn, map[string]any{"action": "begin"})
	readUntil(t, conn, inState("round_instructions"))

	send(t, conn, map[string]any{"action": "start_round"})
	msg := readUntil(t, conn, func(m serverMsg) bool { return m.Event == "state" && m.Session.State == "exam" && m.Question != nil })
	assert.Equal(t, "q1", msg.Question.QuestionID)
	assert.Equal(t, []string{"3", "4"}, msg.Question.Options)

	// The letter is stored, not the option text.
	send(t, conn, map[string]any{"action": "select_option", "option": 1})
	readUntil(t, conn, func(m serverMsg) bool { return m.Event == "state" && m.Session.Answers["q1"] == "B" })

	send(t, conn, map[string]any{"action": "navigate", "direction": "next"})
	readUntil(t, conn, func(m serverMsg) bool { return m.Event == "state" && m.Question != nil && m.Question.QuestionID == "q2" })

	send(t, conn, map[string]any{"action": "dictation_start"})
	cmd := readUntil(t, conn, func(m serverMsg) bool { return m.Event == "dictation" })
	assert.Equal(t, "start", cmd.Command)

	send(t, conn, map[string]any{"action": "transcript", "text": "I built a compiler", "final": true})
	send(t, conn, map[string]any{"action": "transcript", "text": "in Go", "final": false})
	send(t, conn, map[string]any{"action": "dictation_stop"})
	readUntil(t, conn, func(m serverMsg) bool {
		return m.Event == "state" && m.Session.Answers["q2"] == "I built a compiler in Go"
	})

	send(t, conn, map[string]any{"action": "speak"})
	speak := readUntil(t, conn, func(m serverMsg) bool { return m.Event == "speak" })
	assert.Equal(t, "Describe your last project.", speak.Text)
	send(t, conn, map[string]any{"action": "playback_done", "id": speak.ID})
	readUntil(t, conn, func(m serverMsg) bool { return m.Event == "state" && m.Playback.Played })

	send(t, conn, map[string]any{"action": "submit_round"})
	readUntil(t, conn, inState("assessment_complete"))

	assert.Equal(t, model.AnswerMap{"q1": "B", "q2": "I built a compiler in Go"}, g.api.answersFor("r1"))

	// The live snapshot is also served over REST.
	req, err := http.NewRequest(http.MethodGet, g.srv.URL+"/api/v1/student/packages/pkg-1/session", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+g.token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Data session.Snapshot `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, session.StateAssessmentComplete, body.Data.State)
	assert.Equal(t, "att-1", body.Data.AttemptID)
}

func TestSessionStream_RejectsBadActions(t *testing.T) {
	g := newGateway(t)
	conn := g.dial(t)
	readUntil(t, conn, inState("instructions"))

	send(t, conn, map[string]any{"action": "teleport"})
	msg := readUntil(t, conn, func(m serverMsg) bool { return m.Event == "error" })
	assert.Equal(t, "UNKNOWN_ACTION", msg.Code)

	send(t, conn, map[string]any{"action": "submit_round"})
	msg = readUntil(t, conn, func(m serverMsg) bool { return m.Event == "error" })
	assert.Equal(t, "INVALID_TRANSITION", msg.Code)

	send(t, conn, map[string]any{"action": "set_answer", "answer": "x"})
	msg = readUntil(t, conn, func(m serverMsg) bool { return m.Event == "error" })
	assert.Equal(t, "VALIDATION_ERROR", msg.Code)

	send(t, conn, map[string]any{"action": "dictation_start"})
	msg = readUntil(t, conn, func(m serverMsg) bool { return m.Event == "error" })
	assert.Equal(t, "INVALID_TRANSITION", msg.Code)

	send(t, conn, map[string]any{"action": "ping"})
	readUntil(t, conn, func(m serverMsg) bool { return m.Event == "pong" })
}

func TestSessionStream_SecondConnectionTakesOver(t *testing.T) {
	g := newGateway(t)

	first := g.dial(t)
	readUntil(t, first, inState("instructions"))

	second := g.dial(t)
	readUntil(t, second, inState("instructions"))

	msg := readUntil(t, first, func(m serverMsg) bool { return m.Event == "error" })
	assert.Equal(t, "SESSION_TAKEN_OVER", msg.Code)

	require.NoError(t, first.SetReadDeadline(time.Now().Add(3*time.Second)))
	var err error
	for err == nil {
		_, _, err = first.ReadMessage()
	}
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)

	send(t, second, map[string]any{"action": "ping"})
	readUntil(t, second, func(m serverMsg) bool { return m.Event == "pong" })
}

func TestSessionStream_RequiresToken(t *testing.T) {
	g := newGateway(t)
	url := "ws" + strings.TrimPrefix(g.srv.URL, "http") + "/ws/v1/student/packages/pkg-1/session"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestListEventsAndHealth(t *testing.T) {
	g := newGateway(t)

	req, err := http.NewRequest(http.MethodGet, g.srv.URL+"/api/v1/student/attempts/att-1/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+g.token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Data struct {
			Events []model.SessionEvent `json:"events"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Data.Events, 1)
	assert.Equal(t, "stu-1", body.Data.Events[0].StudentID)

	health, err := http.Get(g.srv.URL + "/health")
	require.NoError(t, err)
	defer health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)

	notLive, err := http.NewRequest(http.MethodGet, g.srv.URL+"/api/v1/student/packages/pkg-9/session", nil)
	require.NoError(t, err)
	notLive.Header.Set("Authorization", "Bearer "+g.token)
	resp2, err := http.DefaultClient.Do(notLive)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
}

func (g *gateway) getJSON(t *testing.T, path string, out any) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, g.srv.URL+path, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+g.token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

type errorEnvelope struct {
	Error struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields"`
	} `json:"error"`
}

func TestListEvents_RejectsMalformedAttemptID(t *testing.T) {
	g := newGateway(t)

	var body errorEnvelope
	status := g.getJSON(t, "/api/v1/student/attempts/att~1/events", &body)

	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_ID", body.Error.Code)
	assert.Contains(t, body.Error.Fields, "attempt_id")
}

func TestListEvents_JournalFailure(t *testing.T) {
	g := newGatewayWithEvents(t, failingEvents{err: errors.New("connection refused")})

	var body errorEnvelope
	status := g.getJSON(t, "/api/v1/student/attempts/att-1/events", &body)

	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "INTERNAL_ERROR", body.Error.Code)
	assert.NotContains(t, body.Error.Message, "connection refused")
}
