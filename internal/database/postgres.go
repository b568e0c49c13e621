package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-session/internal/config"
)

// NewPostgresPool creates and validates the journal database pool.
func NewPostgresPool(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxDBConns
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	if _, ok := poolCfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		poolCfg.ConnConfig.RuntimeParams["application_name"] = "exstem-session"
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.Info().
		Int32("max_conns", cfg.MaxDBConns).
		Str("database", poolCfg.ConnConfig.Database).
		Msg("PostgreSQL connected")

	return pool, nil
}

// ErrJournalMissing means the migrations have not been applied.
var ErrJournalMissing = errors.New("session_events table not found; run `migrate up` first")

// Querier is the pool surface EnsureJournal needs.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// EnsureJournal checks that the journal table exists so the worker does not
// discover a missing schema one failed batch at a time.
func EnsureJournal(ctx context.Context, db Querier) error {
	var exists bool
	if err := db.QueryRow(ctx, `SELECT to_regclass('public.session_events') IS NOT NULL`).Scan(&exists); err != nil {
		return fmt.Errorf("check journal table: %w", err)
	}
	if !exists {
		return ErrJournalMissing
	}
	return nil
}
