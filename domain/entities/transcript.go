package entities

import "time"

// TranscriptEntry is one persisted line of the conversation log
type TranscriptEntry struct {
	SessionID string      `json:"session_id" bson:"session_id" msgpack:"session_id"`
	Role      MessageRole `json:"role" bson:"role" msgpack:"role"`
	Content   string      `json:"content" bson:"content" msgpack:"content"`
	Timestamp time.Time   `json:"timestamp" bson:"timestamp" msgpack:"timestamp"`
}

// NewTranscriptEntry builds a log entry from a session turn
func NewTranscriptEntry(sessionID string, turn Turn) TranscriptEntry {
	return TranscriptEntry{
		SessionID: sessionID,
		Role:      turn.Role,
		Content:   turn.Content,
		Timestamp: turn.Timestamp,
	}
}
