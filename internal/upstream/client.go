// Package upstream is the HTTP client for the remote assessment API.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-session/internal/clock"
	"github.com/stemsi/exstem-session/internal/model"
)

// CodeInsufficientTime is the error code the API uses when a round cannot be
// started because the attempt's time is exhausted.
const CodeInsufficientTime = "INSUFFICIENT_TIME"

// maxErrorBody caps how much of a failed response is read.
const maxErrorBody = 64 << 10

// APIError is a non-2xx response from the assessment API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("upstream %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("upstream %d: %s", e.Status, e.Message)
}

// Unwrap maps API error codes onto domain errors.
func (e *APIError) Unwrap() error {
	if e.Code == CodeInsufficientTime || strings.Contains(strings.ToLower(e.Message), "insufficient time") {
		return model.ErrInsufficientTime
	}
	return nil
}

// envelope accepts both the {data, error} envelope and bare payloads.
type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Detail string `json:"detail"`
}

// Client calls the assessment API on behalf of one student.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	skew    *clock.Skewed
	log     zerolog.Logger
}

// NewClient creates a client. skew, when non-nil, learns the server clock
// offset from every response's Date header.
func NewClient(baseURL, token string, timeout time.Duration, skew *clock.Skewed, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
		skew:    skew,
		log:     log.With().Str("component", "upstream").Logger(),
	}
}

func (c *Client) StartAssessment(ctx context.Context, packageID, studentID string) (*model.StartAssessmentResult, error) {
	var out model.StartAssessmentResult
	body := map[string]string{"student_id": studentID}
	if err := c.do(ctx, http.MethodPost, "/assessments/"+url.PathEscape(packageID)+"/start", body, &out); err != nil {
		return nil, fmt.Errorf("start assessment: %w", err)
	}
	return &out, nil
}

func (c *Client) GetPackageStatus(ctx context.Context, packageID string) (*model.PackageStatus, error) {
	var out model.PackageStatus
	if err := c.do(ctx, http.MethodGet, "/assessments/"+url.PathEscape(packageID)+"/status", nil, &out); err != nil {
		return nil, fmt.Errorf("get package status: %w", err)
	}
	return &out, nil
}

// roundQuestionsWire tolerates start times without a zone offset.
type roundQuestionsWire struct {
	RoundStartTime              string           `json:"round_start_time"`
	DurationMinutes             int              `json:"duration_minutes"`
	Questions                   []model.Question `json:"questions"`
	OverallTimeRemainingSeconds *int             `json:"overall_time_remaining_seconds"`
	TimeWindowRemainingSeconds  *int             `json:"time_window_remaining_seconds"`
}

func (c *Client) GetRoundQuestions(ctx context.Context, packageID, roundID, attemptID string) (*model.RoundQuestions, error) {
	var wire roundQuestionsWire
	path := fmt.Sprintf("/assessments/%s/rounds/%s/questions?attempt_id=%s",
		url.PathEscape(packageID), url.PathEscape(roundID), url.QueryEscape(attemptID))
	if err := c.do(ctx, http.MethodGet, path, nil, &wire); err != nil {
		return nil, fmt.Errorf("get round questions: %w", err)
	}

	start, err := ParseTimestamp(wire.RoundStartTime)
	if err != nil {
		return nil, fmt.Errorf("get round questions: %w", err)
	}
	return &model.RoundQuestions{
		RoundStartTime:              start,
		DurationMinutes:             wire.DurationMinutes,
		Questions:                   wire.Questions,
		OverallTimeRemainingSeconds: wire.OverallTimeRemainingSeconds,
		TimeWindowRemainingSeconds:  wire.TimeWindowRemainingSeconds,
	}, nil
}

func (c *Client) SubmitRound(ctx context.Context, packageID, roundID, attemptID string, answers model.AnswerMap) (*model.SubmitRoundResult, error) {
	var out model.SubmitRoundResult
	body := struct {
		AttemptID string          `json:"attempt_id"`
		Answers   model.AnswerMap `json:"answers"`
	}{attemptID, answers.Clone()}
	path := fmt.Sprintf("/assessments/%s/rounds/%s/submit", url.PathEscape(packageID), url.PathEscape(roundID))
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, fmt.Errorf("submit round: %w", err)
	}
	return &out, nil
}

func (c *Client) GetAttemptStatus(ctx context.Context, packageID, attemptID string) (*model.AttemptStatusResult, error) {
	var out model.AttemptStatusResult
	path := fmt.Sprintf("/assessments/%s/attempts/%s/status", url.PathEscape(packageID), url.PathEscape(attemptID))
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("get attempt status: %w", err)
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	c.observeDate(resp)

	c.log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(started)).
		Msg("Upstream call")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil && len(env.Data) > 0 && !bytes.Equal(env.Data, []byte("null")) {
		raw = env.Data
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) observeDate(resp *http.Response) {
	if c.skew == nil {
		return
	}
	serverNow, err := http.ParseTime(resp.Header.Get("Date"))
	if err != nil {
		return
	}
	c.skew.Observe(serverNow, time.Now())
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}

	var env envelope
	if json.Unmarshal(raw, &env) == nil {
		switch {
		case env.Error != nil:
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		case env.Detail != "":
			apiErr.Message = env.Detail
		}
	} else if s := strings.TrimSpace(string(raw)); s != "" {
		apiErr.Message = s
	}
	return apiErr
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses an API timestamp. Values without a zone are UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.New("unrecognized timestamp " + s)
}
