package badger

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/voicerelay/domain/entities"
)

func newTestRepository(t *testing.T) *TranscriptRepository {
	t.Helper()
	repo, err := NewTranscriptRepository(Options{InMemory: true}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewTranscriptRepository() error = %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestTranscriptRepository(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	base := time.Now().Add(-time.Hour)
	for i, content := range []string{"hello", "hi there", "weather?"} {
		err := repo.Append(ctx, entities.TranscriptEntry{
			SessionID: "session-1",
			Role:      entities.MessageRoleUser,
			Content:   content,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	repo.Append(ctx, entities.TranscriptEntry{SessionID: "session-10", Content: "other", Timestamp: base})

	entries, err := repo.Recent(ctx, "session-1", 2)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(entries) != 2 || entries[0].Content != "weather?" || entries[1].Content != "hi there" {
		t.Errorf("Unexpected entries %+v", entries)
	}
	if !entries[0].Timestamp.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("Expected timestamp to round trip, got %v", entries[0].Timestamp)
	}

	entries, _ = repo.Recent(ctx, "session-1", 0)
	if len(entries) != 3 {
		t.Errorf("Expected prefix to exclude session-10, got %d entries", len(entries))
	}

	entries, _ = repo.Recent(ctx, "missing", 5)
	if entries == nil || len(entries) != 0 {
		t.Errorf("Expected empty non-nil slice, got %#v", entries)
	}

	deleted, err := repo.DeleteOlderThan(ctx, base.Add(30*time.Second))
	if err != nil {
		t.Fatalf("DeleteOlderThan() error = %v", err)
	}
	if deleted != 2 {
		t.Errorf("Expected 2 deleted, got %d", deleted)
	}
	entries, _ = repo.Recent(ctx, "session-1", 0)
	if len(entries) != 2 {
		t.Errorf("Expected 2 remaining entries, got %d", len(entries))
	}
}

func TestTranscriptRepository_Validation(t *testing.T) {
	repo := newTestRepository(t)
	if err := repo.Append(context.Background(), entities.TranscriptEntry{}); err == nil {
		t.Error("Expected error for empty session ID")
	}
	if err := repo.Append(context.Background(), entities.TranscriptEntry{SessionID: "a/b"}); err == nil {
		t.Error("Expected error for session ID with separator")
	}
	if _, err := NewTranscriptRepository(Options{}, zaptest.NewLogger(t)); err == nil {
		t.Error("Expected error without Dir")
	}
}

func TestKeyTimestamp(t *testing.T) {
	ts, ok := keyTimestamp([]byte("transcript/s1/00000000000000000042/0000000001"))
	if !ok || ts != 42 {
		t.Errorf("keyTimestamp() = %d, %v", ts, ok)
	}
	if _, ok := keyTimestamp([]byte("transcript/bad")); ok {
		t.Error("Expected malformed key to fail")
	}
}
