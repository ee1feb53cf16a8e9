package domain

import (
	"errors"
	"fmt"
)

// Stage sentinels. Wrap them with StageError or fmt.Errorf and match with errors.Is.
var (
	ErrIngest        = errors.New("ingest error")
	ErrTranscription = errors.New("transcription error")
	ErrModel         = errors.New("model error")
	ErrSynthesis     = errors.New("synthesis error")
	ErrTool          = errors.New("tool error")
	ErrConfig        = errors.New("config error")

	// ErrClientClosed is returned by outbound sinks once the client went away
	ErrClientClosed = errors.New("client connection closed")
)

// StageError attaches a pipeline stage to an underlying error
type StageError struct {
	Stage error
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%v: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() []error {
	return []error{e.Stage, e.Err}
}

// NewStageError wraps err with a stage sentinel
func NewStageError(stage, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Err: err}
}

// ToolError is a skill failure whose Message is safe to speak to the user
type ToolError struct {
	Tool    string
	Message string
	Err     error
}

func (e *ToolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tool %s: %s: %v", e.Tool, e.Message, e.Err)
	}
	return fmt.Sprintf("tool %s: %s", e.Tool, e.Message)
}

func (e *ToolError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrTool}
	}
	return []error{ErrTool, e.Err}
}

// Fallback replies spoken or shown to the user when a stage fails
const (
	FallbackTranscription = "I couldn't understand the audio. Could you try speaking again?"
	FallbackModel         = "I'm having trouble thinking right now. Could you try again in a moment?"
	FallbackSynthesis     = "I understood you, but I'm having trouble speaking right now. Please try again."
	FallbackGeneric       = "I'm having trouble connecting right now. Please try again."
)

// FallbackMessage picks the user-facing text for a stage error
func FallbackMessage(err error) string {
	switch {
	case errors.Is(err, ErrTranscription):
		return FallbackTranscription
	case errors.Is(err, ErrModel):
		return FallbackModel
	case errors.Is(err, ErrSynthesis):
		return FallbackSynthesis
	}
	return FallbackGeneric
}
