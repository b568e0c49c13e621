package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-session/internal/clock"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/session"
	ws "github.com/stemsi/exstem-session/internal/websocket"
)

type stubBoundary struct{}

func (stubBoundary) StartAssessment(context.Context, string, string) (*model.StartAssessmentResult, error) {
	return &model.StartAssessmentResult{AttemptID: "att-1", TotalRounds: 1, CurrentRound: 1}, nil
}

func (stubBoundary) GetPackageStatus(context.Context, string) (*model.PackageStatus, error) {
	return &model.PackageStatus{RoundsProgress: []model.RoundProgress{
		{RoundID: "r1", RoundNumber: 1, RoundType: model.RoundTypeMCQ, DurationMinutes: 10},
	}}, nil
}

func (stubBoundary) GetRoundQuestions(context.Context, string, string, string) (*model.RoundQuestions, error) {
	return &model.RoundQuestions{
		RoundStartTime:  time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		DurationMinutes: 10,
		Questions: []model.Question{
			{QuestionID: "q1", QuestionType: model.QuestionTypeMCQ, Order: 1, Options: []string{"A. 3", "B. 4"}},
			{QuestionID: "q2", QuestionType: model.QuestionTypeText, Order: 2},
		},
	}, nil
}

func (stubBoundary) SubmitRound(context.Context, string, string, string, model.AnswerMap) (*model.SubmitRoundResult, error) {
	return &model.SubmitRoundResult{AssessmentComplete: true}, nil
}

func (stubBoundary) GetAttemptStatus(context.Context, string, string) (*model.AttemptStatusResult, error) {
	return &model.AttemptStatusResult{Status: model.AttemptStatusEvaluated}, nil
}

// serverConn returns the server side of a live WebSocket pair.
func serverConn(t *testing.T) *ws.Conn {
	t.Helper()
	conns := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- c
	}))
	t.Cleanup(srv.Close)

	client, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { client.Close() })

	select {
	case c := <-conns:
		t.Cleanup(func() { c.Close() })
		return ws.NewConn(c)
	case <-time.After(3 * time.Second):
		t.Fatal("websocket upgrade timed out")
		return nil
	}
}

// streamInExam returns a stream whose controller entered the exam without the
// push loop ever rebuilding the renderer.
func streamInExam(t *testing.T) *sessionStream {
	t.Helper()
	ctrl := session.New("pkg-1", "stu-1", stubBoundary{}, session.Options{
		Clock: clock.NewManual(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)),
		Log:   zerolog.Nop(),
	})
	t.Cleanup(ctrl.Close)

	s := newSessionStream(serverConn(t), ctrl, zerolog.Nop(), time.Second)
	t.Cleanup(s.cancel)

	ctx := context.Background()
	require.NoError(t, ctrl.Begin(ctx))
	require.NoError(t, ctrl.StartRound(ctx, ""))
	require.Zero(t, s.renderer.Len())
	return s
}

func TestSessionStream_SelectOptionRightAfterRoundStart(t *testing.T) {
	s := streamInExam(t)

	s.dispatch([]byte(`{"action":"select_option","option":1}`))

	assert.Equal(t, "B", s.ctrl.Answers()["q1"])
}

func TestSessionStream_NavigateRightAfterRoundStart(t *testing.T) {
	s := streamInExam(t)

	s.dispatch([]byte(`{"action":"navigate","direction":"next"}`))

	q, ok := s.renderer.Current()
	require.True(t, ok)
	assert.Equal(t, "q2", q.QuestionID)
}
