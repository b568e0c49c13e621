package main

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-session/internal/answerstore"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/session"
)

type scriptedAPI struct {
	mu        sync.Mutex
	submitted map[string]model.AnswerMap
}

func (f *scriptedAPI) StartAssessment(context.Context, string, string) (*model.StartAssessmentResult, error) {
	return &model.StartAssessmentResult{AttemptID: "att-1", TotalRounds: 1, CurrentRound: 1}, nil
}

func (f *scriptedAPI) GetPackageStatus(context.Context, string) (*model.PackageStatus, error) {
	return &model.PackageStatus{RoundsProgress: []model.RoundProgress{
		{RoundID: "r1", RoundNumber: 1, RoundName: "Aptitude", RoundType: model.RoundTypeMCQ, DurationMinutes: 10},
	}}, nil
}

func (f *scriptedAPI) GetRoundQuestions(context.Context, string, string, string) (*model.RoundQuestions, error) {
	return &model.RoundQuestions{
		RoundStartTime:  time.Now(),
		DurationMinutes: 10,
		Questions: []model.Question{
			{QuestionID: "q1", QuestionText: "2 + 2 = ?", QuestionType: model.QuestionTypeMCQ, Order: 1, Options: []string{"A. 3", "B. 4"}},
			{QuestionID: "q2", QuestionText: "Why Go?", QuestionType: model.QuestionTypeText, Order: 2},
		},
	}, nil
}

func (f *scriptedAPI) SubmitRound(_ context.Context, _, roundID, _ string, answers model.AnswerMap) (*model.SubmitRoundResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted[roundID] = answers.Clone()
	score := 90.0
	return &model.SubmitRoundResult{AssessmentComplete: true, Score: &score}, nil
}

func (f *scriptedAPI) GetAttemptStatus(context.Context, string, string) (*model.AttemptStatusResult, error) {
	return &model.AttemptStatusResult{Status: model.AttemptStatusEvaluated}, nil
}

// lockedBuffer lets evaluation polling write while the test reads.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func runScript(t *testing.T, script ...string) (string, *scriptedAPI) {
	t.Helper()
	api := &scriptedAPI{submitted: map[string]model.AnswerMap{}}
	ctrl := session.New("pkg-1", "stu-1", api, session.Options{
		Store:               answerstore.NewMemoryStore(),
		Log:                 zerolog.Nop(),
		EvalPollInterval:    10 * time.Millisecond,
		EvalPollMaxAttempts: 3,
	})
	t.Cleanup(ctrl.Close)

	out := &lockedBuffer{}
	in := strings.NewReader(strings.Join(script, "\n") + "\n")
	r := newRunner(ctrl, in, out, false, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.run(ctx))
	return out.String(), api
}

func TestRunner_FullRound(t *testing.T) {
	out, api := runScript(t,
		"begin",
		"start",
		"o b",
		"next",
		"a Fast builds",
		"go 1",
		"submit",
		"quit",
	)

	assert.Contains(t, out, "Round 1 of 1: Aptitude (10 min)")
	assert.Contains(t, out, "Question 1/2 [mcq]")
	assert.Contains(t, out, "Selected B.")
	assert.Contains(t, out, "Question 2/2 [text]")
	assert.Contains(t, out, "Saved.")
	assert.Contains(t, out, "* B. 4")
	assert.Contains(t, out, "Assessment complete. Score: 90.0.")

	assert.Equal(t, model.AnswerMap{"q1": "B", "q2": "Fast builds"}, api.submitted["r1"])
}

func TestRunner_RejectsOutOfPlaceCommands(t *testing.T) {
	out, api := runScript(t,
		"submit",
		"begin",
		"start",
		"next",
		"o a",
		"o z",
		"go 9",
		"frobnicate",
		"quit",
	)

	assert.Contains(t, out, "not possible right now")
	assert.Contains(t, out, "this question takes a typed answer")
	assert.Contains(t, out, "Unknown command \"frobnicate\"")
	assert.Contains(t, out, "question index out of range")
	assert.Empty(t, api.submitted)
}

func TestRunner_SpeechUnavailable(t *testing.T) {
	out, _ := runScript(t, "begin", "start", "dictate", "speak", "quit")

	assert.Equal(t, 2, strings.Count(out, "voice features are not available in the terminal"))
}

func TestRunner_Status(t *testing.T) {
	out, _ := runScript(t, "begin", "start", "status")

	assert.Contains(t, out, "State: exam")
	assert.Contains(t, out, "Attempt: att-1 (round 1 of 1)")
	assert.Contains(t, out, "Round: Aptitude")
	assert.Contains(t, out, "Round time left: 10:00")
}

func TestRunner_EndOfInputLeavesCleanly(t *testing.T) {
	out, _ := runScript(t)

	assert.Contains(t, out, "Assessment pkg-1. Type \"begin\" when ready.")
}

func TestClockText(t *testing.T) {
	assert.Equal(t, "00:00", clockText(-4))
	assert.Equal(t, "01:05", clockText(65))
	assert.Equal(t, "60:00", clockText(3600))
}
