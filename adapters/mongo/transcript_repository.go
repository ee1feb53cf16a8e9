package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/satriahrh/voicerelay/domain/entities"
	"github.com/satriahrh/voicerelay/domain/repositories"
)

const transcriptCollection = "chat_history"

// TranscriptRepository stores transcript entries in the chat_history collection
type TranscriptRepository struct {
	collection *mongo.Collection
	logger     *zap.Logger
}

var _ repositories.TranscriptRepository = (*TranscriptRepository)(nil)

// NewTranscriptRepository creates a new MongoDB transcript repository
func NewTranscriptRepository(db *mongo.Database, logger *zap.Logger) *TranscriptRepository {
	collection := db.Collection(transcriptCollection)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		_, err := collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
			{Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "timestamp", Value: -1}}},
			{Keys: bson.D{{Key: "timestamp", Value: 1}}},
		})
		if err != nil {
			logger.Error("Failed to create transcript indexes", zap.Error(err))
		} else {
			logger.Info("Transcript indexes created successfully")
		}
	}()

	return &TranscriptRepository{
		collection: collection,
		logger:     logger,
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

	if _, err := r.collection.InsertOne(ctx, entry); err != nil {
		return fmt.Errorf("failed to insert transcript entry: %w", err)
	}
	return nil
}

// Recent implements repositories.TranscriptRepository
func (r *TranscriptRepository) Recent(ctx context.Context, sessionID string, limit int) ([]entities.TranscriptEntry, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, bson.M{"session_id": sessionID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find transcript entries: %w", err)
	}
	defer cursor.Close(ctx)

	entries := []entities.TranscriptEntry{}
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode transcript entries: %w", err)
	}
	return entries, nil
}

// DeleteOlderThan implements repositories.TranscriptRepository
func (r *TranscriptRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.collection.DeleteMany(ctx, bson.M{"timestamp": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, fmt.Errorf("failed to delete old transcript entries: %w", err)
	}
	return result.DeletedCount, nil
}
