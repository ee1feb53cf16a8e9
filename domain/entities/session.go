package entities

import (
	"errors"
	"fmt"
	"time"
)

// SessionState represents the lifecycle state of a voice session
type SessionState string

const (
	SessionStateConnecting SessionState = "connecting"
	SessionStateActive     SessionState = "active"
	SessionStateDraining   SessionState = "draining"
	SessionStateClosed     SessionState = "closed"
)

// MessageRole represents the role of a turn speaker
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// Turn is one utterance in a conversation. Turns are never modified once appended.
type Turn struct {
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
}

// Session represents one connected client and its conversation
type Session struct {
	ID        string
	CreatedAt time.Time
	State     SessionState
	History   []Turn
}

// NewSession creates a new session in the connecting state
func NewSession(id string) *Session {
	return &Session{
		ID:        id,
		CreatedAt: time.Now(),
		State:     SessionStateConnecting,
		History:   make([]Turn, 0),
	}
}

// AddTurn appends a turn to the session history
func (s *Session) AddTurn(role MessageRole, content string) Turn {
	turn := Turn{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
	s.History = append(s.History, turn)
	return turn
}

// HistorySnapshot returns a copy of the history that is safe to hand to providers
func (s *Session) HistorySnapshot() []Turn {
	out := make([]Turn, len(s.History))
	copy(out, s.History)
	return out
}

// ErrInvalidTransition is returned when a state change skips or reverses the lifecycle
var ErrInvalidTransition = errors.New("invalid session state transition")

// Transition moves the session to the next lifecycle state.
// Allowed: connecting->active, connecting->closed, active->draining, draining->closed.
func (s *Session) Transition(to SessionState) error {
	if !CanTransition(s.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.State, to)
	}
	s.State = to
	return nil
}

// CanTransition reports whether a state change is allowed
func CanTransition(from, to SessionState) bool {
	switch from {
	case SessionStateConnecting:
		return to == SessionStateActive || to == SessionStateClosed
	case SessionStateActive:
		return to == SessionStateDraining
	case SessionStateDraining:
		return to == SessionStateClosed
	}
	return false
}
