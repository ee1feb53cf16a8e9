package repositories

import (
	"context"
	"time"

	"github.com/satriahrh/voicerelay/domain/entities"
)

// TranscriptRepository is the append-only conversation log
type TranscriptRepository interface {
	Append(ctx context.Context, entry entities.TranscriptEntry) error
	// Recent returns up to limit entries for the session, most recent first
	Recent(ctx context.Context, sessionID string, limit int) ([]entities.TranscriptEntry, error)
	// DeleteOlderThan removes entries written before cutoff and reports how many
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
