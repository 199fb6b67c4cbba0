package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/foxseedlab/vrchat-asr/internal/repository"
)

func TestMemoryRepository_SessionLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	startedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	created, err := repo.CreateSession(ctx, repository.CreateSessionInput{
		Provider:  "dashscope",
		Model:     "paraformer-realtime-v1",
		Timezone:  "Asia/Tokyo",
		StartedAt: startedAt,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created.ID == "" || created.Status != repository.SessionStatusRunning {
		t.Fatalf("unexpected created session: %+v", created)
	}

	err = repo.CompleteSession(ctx, repository.CompleteSessionInput{
		SessionID:     created.ID,
		EndedAt:       startedAt.Add(90 * time.Second),
		Status:        repository.SessionStatusTimedOut,
		StopReason:    "idle timeout",
		LineCount:     2,
		BilledSeconds: 12,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := repo.GetSession(ctx, created.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != repository.SessionStatusTimedOut || got.DurationSeconds != 90 || got.EndedAt == nil {
		t.Fatalf("unexpected completed session: %+v", got)
	}
	if got.LineCount != 2 || got.BilledSeconds != 12 || got.StopReason != "idle timeout" {
		t.Fatalf("unexpected counters: %+v", got)
	}
}

func TestMemoryRepository_UnknownSession(t *testing.T) {
	repo := NewMemoryRepository()
	err := repo.CompleteSession(context.Background(), repository.CompleteSessionInput{SessionID: "missing"})
	if !errors.Is(err, repository.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if _, err := repo.GetSession(context.Background(), "missing"); !errors.Is(err, repository.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	err = repo.InsertLine(context.Background(), repository.InsertLineInput{SessionID: "missing"})
	if !errors.Is(err, repository.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestMemoryRepository_LinesOrderedAndUnique(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	s, _ := repo.CreateSession(ctx, repository.CreateSessionInput{StartedAt: time.Now()})

	for _, idx := range []int{1, 0, 2} {
		if err := repo.InsertLine(ctx, repository.InsertLineInput{SessionID: s.ID, LineIndex: idx, SourceText: "line"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if err := repo.InsertLine(ctx, repository.InsertLineInput{SessionID: s.ID, LineIndex: 1}); err == nil {
		t.Fatal("expected duplicate line index to be rejected")
	}

	lines, err := repo.ListLinesBySessionID(ctx, s.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(lines) != 3 {
		t.Fatalf("unexpected line count: %d", len(lines))
	}
	for i, l := range lines {
		if l.LineIndex != i {
			t.Fatalf("lines are not ordered: %+v", lines)
		}
	}
}

func TestMemoryRepository_ListRecentSessions(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if _, err := repo.CreateSession(ctx, repository.CreateSessionInput{Model: string(rune('a' + i)), StartedAt: base.Add(time.Duration(i) * time.Hour)}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	list, err := repo.ListRecentSessions(ctx, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 2 || list[0].Model != "c" || list[1].Model != "b" {
		t.Fatalf("unexpected recent sessions: %+v", list)
	}
}
