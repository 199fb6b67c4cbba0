package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/foxseedlab/vrchat-asr/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const sessionColumns = `id, provider, model, timezone, started_at, ended_at, status, stop_reason, duration_seconds, line_count, billed_seconds, created_at`

type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) repository.Repository {
	return &PostgresRepository{pool: pool}
}

func scanSession(row pgx.Row) (*repository.Session, error) {
	var s repository.Session
	var status string
	if err := row.Scan(&s.ID, &s.Provider, &s.Model, &s.Timezone, &s.StartedAt, &s.EndedAt, &status, &s.StopReason, &s.DurationSeconds, &s.LineCount, &s.BilledSeconds, &s.CreatedAt); err != nil {
		return nil, err
	}
	s.Status = repository.SessionStatus(status)
	return &s, nil
}

func (r *PostgresRepository) CreateSession(ctx context.Context, input repository.CreateSessionInput) (*repository.Session, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO asr_sessions (provider, model, timezone, started_at, status)
		 VALUES ($1, $2, $3, $4, 'running')
		 RETURNING `+sessionColumns,
		input.Provider, input.Model, input.Timezone, input.StartedAt)
	s, err := scanSession(row)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return s, nil
}

func (r *PostgresRepository) CompleteSession(ctx context.Context, input repository.CompleteSessionInput) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE asr_sessions
		 SET status = $2, ended_at = $3, stop_reason = $4, line_count = $5, billed_seconds = $6,
		     duration_seconds = GREATEST(0, EXTRACT(EPOCH FROM ($3 - started_at))::BIGINT)
		 WHERE id = $1`,
		input.SessionID, string(input.Status), input.EndedAt, input.StopReason, input.LineCount, input.BilledSeconds)
	if err != nil {
		return fmt.Errorf("complete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", repository.ErrSessionNotFound, input.SessionID)
	}
	return nil
}

func (r *PostgresRepository) GetSession(ctx context.Context, sessionID string) (*repository.Session, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM asr_sessions WHERE id = $1`, sessionID)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", repository.ErrSessionNotFound, sessionID)
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return s, nil
}

func (r *PostgresRepository) ListRecentSessions(ctx context.Context, limit int) ([]repository.Session, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM asr_sessions ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()
	var list []repository.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *s)
	}
	return list, rows.Err()
}

func (r *PostgresRepository) InsertLine(ctx context.Context, input repository.InsertLineInput) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO transcript_lines (session_id, line_index, source_text, translated_text, begin_ms, end_ms, spoken_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		input.SessionID, input.LineIndex, input.SourceText, input.TranslatedText, input.BeginMs, input.EndMs, input.SpokenAt)
	if err != nil {
		return fmt.Errorf("insert transcript line: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListLinesBySessionID(ctx context.Context, sessionID string) ([]repository.TranscriptLine, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, line_index, source_text, translated_text, begin_ms, end_ms, spoken_at, created_at
		 FROM transcript_lines WHERE session_id = $1 ORDER BY line_index ASC`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("list transcript lines: %w", err)
	}
	defer rows.Close()
	var list []repository.TranscriptLine
	for rows.Next() {
		var l repository.TranscriptLine
		if err := rows.Scan(&l.ID, &l.SessionID, &l.LineIndex, &l.SourceText, &l.TranslatedText, &l.BeginMs, &l.EndMs, &l.SpokenAt, &l.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, l)
	}
	return list, rows.Err()
}

// Shutdown closes the pool when the injector shuts down.
func (r *PostgresRepository) Shutdown() {
	r.pool.Close()
}
