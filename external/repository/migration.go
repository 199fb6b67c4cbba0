package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

var migrationStatements = []string{
	`DO $$ BEGIN CREATE TYPE asr_session_status AS ENUM ('running', 'completed', 'timed_out', 'faulted'); EXCEPTION WHEN duplicate_object THEN NULL; END $$`,
	`CREATE TABLE IF NOT EXISTS asr_sessions (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		provider TEXT NOT NULL,
		model TEXT NOT NULL,
		timezone TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		ended_at TIMESTAMPTZ,
		status asr_session_status NOT NULL DEFAULT 'running',
		stop_reason TEXT NOT NULL DEFAULT '',
		duration_seconds BIGINT NOT NULL DEFAULT 0,
		line_count INTEGER NOT NULL DEFAULT 0,
		billed_seconds INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_asr_sessions_started ON asr_sessions (started_at DESC)`,
	`CREATE TABLE IF NOT EXISTS transcript_lines (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		session_id UUID NOT NULL REFERENCES asr_sessions(id) ON DELETE CASCADE,
		line_index INTEGER NOT NULL,
		source_text TEXT NOT NULL,
		translated_text TEXT NOT NULL DEFAULT '',
		begin_ms BIGINT NOT NULL DEFAULT 0,
		end_ms BIGINT NOT NULL DEFAULT 0,
		spoken_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE(session_id, line_index)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_transcript_lines_session ON transcript_lines (session_id, line_index)`,
}

func RunMigration(ctx context.Context, pool *pgxpool.Pool) error {
	for i, s := range migrationStatements {
		stmt := strings.TrimSpace(s)
		if stmt == "" {
			continue
		}
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration statement %d: %w", i, err)
		}
	}
	return nil
}
