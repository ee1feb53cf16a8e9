package adapters

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/satriahrh/voicerelay/domain/entities"
	"github.com/satriahrh/voicerelay/domain/repositories"
)

// MemoryTranscriptRepository keeps transcript entries in process memory
type MemoryTranscriptRepository struct {
	mu       sync.RWMutex
	sessions map[string][]entities.TranscriptEntry // session_id -> entries in append order
}

var _ repositories.TranscriptRepository = (*MemoryTranscriptRepository)(nil)

// NewMemoryTranscriptRepository creates a new in-memory transcript repository
func NewMemoryTranscriptRepository() *MemoryTranscriptRepository {
	return &MemoryTranscriptRepository{
		sessions: make(map[string][]entities.TranscriptEntry),
	}
}

// Append implements repositories.TranscriptRepository
func (m *MemoryTranscriptRepository) Append(ctx context.Context, entry entities.TranscriptEntry) error {
	if entry.SessionID == "" {
		return errors.New("session ID cannot be empty")
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[entry.SessionID] = append(m.sessions[entry.SessionID], entry)
	return nil
}

// Recent implements repositories.TranscriptRepository
func (m *MemoryTranscriptRepository) Recent(ctx context.Context, sessionID string, limit int) ([]entities.TranscriptEntry, error) {
	m.mu.RLock()
	stored := m.sessions[sessionID]
	entries := make([]entities.TranscriptEntry, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		entries = append(entries, stored[i])
	}
	m.mu.RUnlock()

	// reversed append order breaks timestamp ties
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})

	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// DeleteOlderThan implements repositories.TranscriptRepository
func (m *MemoryTranscriptRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int64
	for sessionID, entries := range m.sessions {
		kept := entries[:0]
		for _, entry := range entries {
			if entry.Timestamp.Before(cutoff) {
				deleted++
				continue
			}
			kept = append(kept, entry)
		}
		if len(kept) == 0 {
			delete(m.sessions, sessionID)
			continue
		}
		m.sessions[sessionID] = kept
	}
	return deleted, nil
}
