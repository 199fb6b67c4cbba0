package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/foxseedlab/vrchat-asr/internal/repository"
	"github.com/google/uuid"
)

// MemoryRepository keeps the history in process memory. It is used when no
// database_url is configured.
type MemoryRepository struct {
	mu       sync.RWMutex
	sessions map[string]*repository.Session
	lines    map[string][]repository.TranscriptLine
	now      func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		sessions: make(map[string]*repository.Session),
		lines:    make(map[string][]repository.TranscriptLine),
		now:      time.Now,
	}
}

var _ repository.Repository = (*MemoryRepository)(nil)

func (r *MemoryRepository) CreateSession(_ context.Context, input repository.CreateSessionInput) (*repository.Session, error) {
	s := &repository.Session{
		ID:        uuid.NewString(),
		Provider:  input.Provider,
		Model:     input.Model,
		Timezone:  input.Timezone,
		StartedAt: input.StartedAt,
		Status:    repository.SessionStatusRunning,
		CreatedAt: r.now(),
	}
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	copied := *s
	return &copied, nil
}

func (r *MemoryRepository) CompleteSession(_ context.Context, input repository.CompleteSessionInput) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[input.SessionID]
	if !ok {
		return fmt.Errorf("%w: %s", repository.ErrSessionNotFound, input.SessionID)
	}
	endedAt := input.EndedAt
	s.EndedAt = &endedAt
	s.Status = input.Status
	s.StopReason = input.StopReason
	s.LineCount = input.LineCount
	s.BilledSeconds = input.BilledSeconds
	s.DurationSeconds = max(0, int64(endedAt.Sub(s.StartedAt).Seconds()))
	return nil
}

func (r *MemoryRepository) GetSession(_ context.Context, sessionID string) (*repository.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", repository.ErrSessionNotFound, sessionID)
	}
	copied := *s
	return &copied, nil
}

func (r *MemoryRepository) ListRecentSessions(_ context.Context, limit int) ([]repository.Session, error) {
	r.mu.RLock()
	list := make([]repository.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		list = append(list, *s)
	}
	r.mu.RUnlock()
	sort.Slice(list, func(i, j int) bool {
		return list[i].StartedAt.After(list[j].StartedAt)
	})
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (r *MemoryRepository) InsertLine(_ context.Context, input repository.InsertLineInput) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[input.SessionID]; !ok {
		return fmt.Errorf("%w: %s", repository.ErrSessionNotFound, input.SessionID)
	}
	for _, l := range r.lines[input.SessionID] {
		if l.LineIndex == input.LineIndex {
			return fmt.Errorf("transcript line %d already exists for session %s", input.LineIndex, input.SessionID)
		}
	}
	r.lines[input.SessionID] = append(r.lines[input.SessionID], repository.TranscriptLine{
		ID:             uuid.NewString(),
		SessionID:      input.SessionID,
		LineIndex:      input.LineIndex,
		SourceText:     input.SourceText,
		TranslatedText: input.TranslatedText,
		BeginMs:        input.BeginMs,
		EndMs:          input.EndMs,
		SpokenAt:       input.SpokenAt,
		CreatedAt:      r.now(),
	})
	return nil
}

func (r *MemoryRepository) ListLinesBySessionID(_ context.Context, sessionID string) ([]repository.TranscriptLine, error) {
	r.mu.RLock()
	list := append([]repository.TranscriptLine(nil), r.lines[sessionID]...)
	r.mu.RUnlock()
	sort.Slice(list, func(i, j int) bool {
		return list[i].LineIndex < list[j].LineIndex
	})
	return list, nil
}
