package repository

import (
	"context"
	"errors"
	"time"
)

var ErrSessionNotFound = errors.New("session not found")

type CreateSessionInput struct {
	Provider  string
	Model     string
	Timezone  string
	StartedAt time.Time
}

type CompleteSessionInput struct {
	SessionID     string
	EndedAt       time.Time
	Status        SessionStatus
	StopReason    string
	LineCount     int
	BilledSeconds int
}

type InsertLineInput struct {
	SessionID      string
	LineIndex      int
	SourceText     string
	TranslatedText string
	BeginMs        int64
	EndMs          int64
	SpokenAt       time.Time
}

type SessionRepository interface {
	CreateSession(ctx context.Context, input CreateSessionInput) (*Session, error)
	CompleteSession(ctx context.Context, input CompleteSessionInput) error
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	ListRecentSessions(ctx context.Context, limit int) ([]Session, error)
}

type TranscriptRepository interface {
	InsertLine(ctx context.Context, input InsertLineInput) error
	ListLinesBySessionID(ctx context.Context, sessionID string) ([]TranscriptLine, error)
}

type Repository interface {
	SessionRepository
	TranscriptRepository
}
