package api

import (
	"github.com/satriahrh/voicerelay/domain/entities"
)

// HealthResponse reports service liveness and which providers are configured
type HealthResponse struct {
	Status   string          `json:"status"`
	Service  string          `json:"service"`
	APIs     map[string]bool `json:"apis"`
	Sessions int             `json:"sessions"`
}

// HistoryResponse is the transcript log of one session, most recent first
type HistoryResponse struct {
	Status  string                     `json:"status"`
	History []entities.TranscriptEntry `json:"history"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
