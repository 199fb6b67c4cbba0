package repository

import "time"

type SessionStatus string

const (
	SessionStatusRunning   SessionStatus = "running"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusTimedOut  SessionStatus = "timed_out"
	SessionStatusFaulted   SessionStatus = "faulted"
)

// Session is one recognition session as recorded in the history.
type Session struct {
	ID              string
	Provider        string
	Model           string
	StartedAt       time.Time
	EndedAt         *time.Time
	Status          SessionStatus
	StopReason      string
	Timezone        string
	DurationSeconds int64
	LineCount       int
	BilledSeconds   int
	CreatedAt       time.Time
}

type TranscriptLine struct {
	ID             string
	SessionID      string
	LineIndex      int
	SourceText     string
	TranslatedText string
	BeginMs        int64
	EndMs          int64
	SpokenAt       time.Time
	CreatedAt      time.Time
}
