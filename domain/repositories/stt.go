package repositories

import (
	"context"
	"time"
)

// SpeechToText abstracts streaming speech recognition services
type SpeechToText interface {
	// Connect opens a recognition session with the provider
	Connect(ctx context.Context, config AudioConfig) (SpeechToTextStreaming, error)
}

// AudioConfig represents audio configuration for speech recognition
type AudioConfig struct {
	SampleRate int    `json:"sample_rate"`
	Encoding   string `json:"encoding"`
	Language   string `json:"language"`
}

// AudioSource yields audio frames to a recognition session.
// Pull returns ok=false once the source has been stopped.
type AudioSource interface {
	Pull(timeout time.Duration) (frame []byte, ok bool)
}

// SpeechToTextStreaming is one open recognition session
type SpeechToTextStreaming interface {
	// Stream blocks while it pumps frames from source to the provider and
	// publishes provider events. It returns nil when source ends or ctx is done.
	// Nothing is written to events after Stream returns, so the caller may
	// close it.
	Stream(ctx context.Context, source AudioSource, events chan<- TranscriptEvent) error
	// ForceEndpoint asks the provider to finalize the current turn now
	ForceEndpoint() error
	// Close terminates the provider session and releases the connection
	Close() error
}

// TranscriptEvent is one of BeginEvent, TurnEvent, TerminationEvent or ErrorEvent
type TranscriptEvent interface {
	transcriptEvent()
}

// BeginEvent is published once the provider accepted the session
type BeginEvent struct {
	ID        string
	ExpiresAt time.Time
}

// TurnEvent carries interim or end-of-turn transcript text
type TurnEvent struct {
	Text       string
	EndOfTurn  bool
	Formatted  bool
	Confidence float64
}

// TerminationEvent is published when the provider closed the session
type TerminationEvent struct {
	AudioDuration time.Duration
}

// ErrorEvent reports a provider-side failure
type ErrorEvent struct {
	Err error
}

func (BeginEvent) transcriptEvent()       {}
func (TurnEvent) transcriptEvent()        {}
func (TerminationEvent) transcriptEvent() {}
func (ErrorEvent) transcriptEvent()       {}
