package adapters

import (
	"context"
	"testing"
	"time"

	"github.com/satriahrh/voicerelay/domain/entities"
)

func TestMemoryTranscriptRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryTranscriptRepository()

	base := time.Now().Add(-time.Hour)
	entries := []entities.TranscriptEntry{
		{SessionID: "s1", Role: entities.MessageRoleUser, Content: "one", Timestamp: base},
		{SessionID: "s1", Role: entities.MessageRoleAssistant, Content: "two", Timestamp: base.Add(time.Minute)},
		{SessionID: "s1", Role: entities.MessageRoleUser, Content: "three", Timestamp: base.Add(time.Minute)},
		{SessionID: "s2", Role: entities.MessageRoleUser, Content: "other", Timestamp: base},
	}
	for _, entry := range entries {
		if err := repo.Append(ctx, entry); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	if err := repo.Append(ctx, entities.TranscriptEntry{Content: "orphan"}); err == nil {
		t.Error("Expected error for missing session ID")
	}

	got, err := repo.Recent(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(got) != 2 || got[0].Content != "three" || got[1].Content != "two" {
		t.Errorf("Expected newest first, got %+v", got)
	}

	got, _ = repo.Recent(ctx, "s1", 0)
	if len(got) != 3 || got[2].Content != "one" {
		t.Errorf("Expected all entries without limit, got %+v", got)
	}

	got, _ = repo.Recent(ctx, "missing", 10)
	if got == nil || len(got) != 0 {
		t.Errorf("Expected empty non-nil slice, got %#v", got)
	}

	deleted, err := repo.DeleteOlderThan(ctx, base.Add(30*time.Second))
	if err != nil {
		t.Fatalf("DeleteOlderThan() error = %v", err)
	}
	if deleted != 2 {
		t.Errorf("Expected 2 deleted, got %d", deleted)
	}
	got, _ = repo.Recent(ctx, "s2", 10)
	if len(got) != 0 {
		t.Errorf("Expected s2 to be empty, got %+v", got)
	}
}
