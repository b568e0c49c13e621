package answerstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/model"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps answers in a local SQLite file, one row per key.
type SQLiteStore struct {
	db  *sql.DB
	log zerolog.Logger
}

// OpenSQLite opens (and creates if needed) the answer database at path.
// Use ":memory:" for an ephemeral store.
func OpenSQLite(path string, log zerolog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open answer db: %w", err)
	}
	// A single connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping answer db: %w", err)
	}

	_, err = db.Exec(`
	CREATE TABLE IF NOT EXISTS answers (
		key TEXT PRIMARY KEY,
		payload TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate answer db: %w", err)
	}

	return &SQLiteStore{
		db:  db,
		log: log.With().Str("component", "answer_store").Logger(),
	}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Save(ctx context.Context, attemptID, roundID string, answers model.AnswerMap) {
	key := config.CacheKey.AnswersKey(attemptID, roundID)

	raw, err := json.Marshal(answers)
	if err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("Marshal answers failed")
		return
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO answers (key, payload, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		key, string(raw), time.Now().UTC(),
	)
	if err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("Save answers failed")
	}
}

func (s *SQLiteStore) Load(ctx context.Context, attemptID, roundID string) model.AnswerMap {
	key := config.CacheKey.AnswersKey(attemptID, roundID)

	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM answers WHERE key = ?`, key).Scan(&raw)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.log.Error().Err(err).Str("key", key).Msg("Load answers failed")
		}
		return model.AnswerMap{}
	}

	answers := model.AnswerMap{}
	if err := json.Unmarshal([]byte(raw), &answers); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Discarding corrupt answers payload")
		return model.AnswerMap{}
	}
	return answers
}

func (s *SQLiteStore) Clear(ctx context.Context, attemptID, roundID string) {
	key := config.CacheKey.AnswersKey(attemptID, roundID)
	if _, err := s.db.ExecContext(ctx, `DELETE FROM answers WHERE key = ?`, key); err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("Clear answers failed")
	}
}
