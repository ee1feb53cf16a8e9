package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/satriahrh/voicerelay/domain/entities"
	"github.com/satriahrh/voicerelay/domain/repositories"
)

const (
	// transcriptKeyPrefix prefixes the per-session sorted set
	transcriptKeyPrefix = "transcript:"
	// sessionIndexKey scores every session by its last write
	sessionIndexKey = "transcript:sessions"
	// defaultTTL bounds idle sessions even without pruning
	defaultTTL = 7 * 24 * time.Hour
)

// NewClientFromEnv builds a client from REDIS_URL
func NewClientFromEnv() (*redis.Client, error) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		url = "redis://localhost:6379/0"
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

// TranscriptRepository keeps each session's log in a sorted set scored by
// timestamp in microseconds.
type TranscriptRepository struct {
	client *redis.Client
	ttl    time.Duration
}

var _ repositories.TranscriptRepository = (*TranscriptRepository)(nil)

// NewTranscriptRepository creates a new Redis transcript repository
func NewTranscriptRepository(client *redis.Client, ttl time.Duration) *TranscriptRepository {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &TranscriptRepository{
		client: client,
		ttl:    ttl,
	}
}

// Append implements repositories.TranscriptRepository
func (r *TranscriptRepository) Append(ctx context.Context, entry entities.TranscriptEntry) error {
	if entry.SessionID == "" {
		return errors.New("session ID cannot be empty")
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	val, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	key := r.key(entry.SessionID)
	score := float64(entry.Timestamp.UnixMicro())

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: val})
		pipe.Expire(ctx, key, r.ttl)
		pipe.ZAdd(ctx, sessionIndexKey, redis.Z{Score: score, Member: entry.SessionID})
		return nil
	})
	return err
}

// Recent implements repositories.TranscriptRepository
func (r *TranscriptRepository) Recent(ctx context.Context, sessionID string, limit int) ([]entities.TranscriptEntry, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}

	vals, err := r.client.ZRevRange(ctx, r.key(sessionID), 0, stop).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}

	entries := make([]entities.TranscriptEntry, 0, len(vals))
	for _, val := range vals {
		var entry entities.TranscriptEntry
		if err := json.Unmarshal([]byte(val), &entry); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// DeleteOlderThan implements repositories.TranscriptRepository
func (r *TranscriptRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	sessions, err := r.client.ZRange(ctx, sessionIndexKey, 0, -1).Result()
	if err != nil && err != redis.Nil {
		return 0, err
	}

	maxScore := "(" + strconv.FormatInt(cutoff.UnixMicro(), 10)

	var deleted int64
	for _, sessionID := range sessions {
		n, err := r.client.ZRemRangeByScore(ctx, r.key(sessionID), "-inf", maxScore).Result()
		if err != nil {
			return deleted, err
		}
		deleted += n
	}

	// sessions whose last write is older than cutoff are now empty
	if err := r.client.ZRemRangeByScore(ctx, sessionIndexKey, "-inf", maxScore).Err(); err != nil {
		return deleted, err
	}
	return deleted, nil
}

func (r *TranscriptRepository) key(sessionID string) string {
	return transcriptKeyPrefix + sessionID
}
