package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/voicerelay/domain/entities"
	"github.com/satriahrh/voicerelay/domain/repositories"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500

	DefaultRetention = 7 * 24 * time.Hour
)

// ErrNoTranscriptStore is returned when the history API is used without a log
var ErrNoTranscriptStore = errors.New("transcript store is not configured")

// HistoryService reads and prunes the transcript log
type HistoryService struct {
	transcripts repositories.TranscriptRepository
	retention   time.Duration
	logger      *zap.Logger
}

// NewHistoryService creates a new history service
func NewHistoryService(transcripts repositories.TranscriptRepository, retention time.Duration, logger *zap.Logger) *HistoryService {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &HistoryService{
		transcripts: transcripts,
		retention:   retention,
		logger:      logger,
	}
}

// Recent returns the latest entries of a session, most recent first
func (s *HistoryService) Recent(ctx context.Context, sessionID string, limit int) ([]entities.TranscriptEntry, error) {
	if s.transcripts == nil {
		return nil, ErrNoTranscriptStore
	}
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	entries, err := s.transcripts.Recent(ctx, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read transcript for session %s: %w", sessionID, err)
	}
	if entries == nil {
		entries = []entities.TranscriptEntry{}
	}
	return entries, nil
}

// Prune deletes entries older than the retention window
func (s *HistoryService) Prune(ctx context.Context) (int64, error) {
	if s.transcripts == nil {
		return 0, nil
	}

	cutoff := time.Now().Add(-s.retention)
	removed, err := s.transcripts.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune transcripts: %w", err)
	}

	s.logger.Info("Pruned transcript log",
		zap.Time("cutoff", cutoff),
		zap.Int64("removed", removed))
	return removed, nil
}
