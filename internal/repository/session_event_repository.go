package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stemsi/exstem-session/internal/model"
)

var sessionEventColumns = []string{
	"id", "attempt_id", "package_id", "student_id", "round_id",
	"event_type", "state", "detail", "created_at",
}

// SessionEventRepository handles the session journal.
type SessionEventRepository struct {
	pool *pgxpool.Pool
}

// NewSessionEventRepository creates a new SessionEventRepository.
func NewSessionEventRepository(pool *pgxpool.Pool) *SessionEventRepository {
	return &SessionEventRepository{pool: pool}
}

// CopyEvents bulk-inserts a batch. The whole batch fails on any bad row.
func (r *SessionEventRepository) CopyEvents(ctx context.Context, events []model.SessionEvent) error {
	rows := make([][]any, 0, len(events))
	for _, ev := range events {
		rows = append(rows, eventRow(ev))
	}

	_, err := r.pool.CopyFrom(ctx,
		pgx.Identifier{"session_events"},
		sessionEventColumns,
		pgx.CopyFromRows(rows),
	)
	return err
}

// InsertEvent inserts one event, ignoring duplicates of an already journaled ID.
func (r *SessionEventRepository) InsertEvent(ctx context.Context, ev model.SessionEvent) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO session_events (id, attempt_id, package_id, student_id, round_id, event_type, state, detail, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO NOTHING`,
		eventRow(ev)...,
	)
	return err
}

// ListByAttempt returns a student's journal for one attempt, oldest first.
func (r *SessionEventRepository) ListByAttempt(ctx context.Context, attemptID, studentID string) ([]model.SessionEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, attempt_id, package_id, student_id, COALESCE(round_id, ''), event_type, state, detail, created_at
		 FROM session_events
		 WHERE attempt_id = $1 AND student_id = $2
		 ORDER BY created_at, id`, attemptID, studentID,
	)
	if err != nil {
		return nil, fmt.Errorf("query session events: %w", err)
	}
	defer rows.Close()

	events := make([]model.SessionEvent, 0)
	for rows.Next() {
		var ev model.SessionEvent
		var detail []byte
		if err := rows.Scan(&ev.ID, &ev.AttemptID, &ev.PackageID, &ev.StudentID, &ev.RoundID,
			&ev.Type, &ev.State, &detail, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan session event: %w", err)
		}
		if len(detail) > 0 {
			ev.Detail = json.RawMessage(detail)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func eventRow(ev model.SessionEvent) []any {
	var detail []byte
	if len(ev.Detail) > 0 {
		detail = []byte(ev.Detail)
	}
	var roundID *string
	if ev.RoundID != "" {
		roundID = &ev.RoundID
	}
	return []any{
		ev.ID, ev.AttemptID, ev.PackageID, ev.StudentID, roundID,
		string(ev.Type), ev.State, detail, ev.CreatedAt,
	}
}
