package websocket

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/satriahrh/voicerelay/domain"
	"github.com/satriahrh/voicerelay/domain/repositories"
)

// maxControlDataLength bounds the echo payload of a ping
const maxControlDataLength = 256

var errEmptyMessage = errors.New("empty message")

// MessageValidator parses inbound text frames from the client
type MessageValidator struct{}

// NewMessageValidator creates a new message validator
func NewMessageValidator() *MessageValidator {
	return &MessageValidator{}
}

// ValidateMessage parses a control message and rejects unknown types
func (v *MessageValidator) ValidateMessage(messageBytes []byte) (domain.ControlMessage, error) {
	if len(messageBytes) == 0 {
		return domain.ControlMessage{}, errEmptyMessage
	}

	var msg domain.ControlMessage
	if err := json.Unmarshal(messageBytes, &msg); err != nil {
		return domain.ControlMessage{}, fmt.Errorf("invalid JSON format: %w", err)
	}

	switch msg.Type {
	case domain.MessageTypeEndTurn:
		return msg, nil
	case domain.MessageTypePing:
		if len(msg.Data) > maxControlDataLength {
			return domain.ControlMessage{}, fmt.Errorf("ping data exceeds %d bytes", maxControlDataLength)
		}
		return msg, nil
	case "":
		return domain.ControlMessage{}, errors.New("message missing type field")
	default:
		return domain.ControlMessage{}, fmt.Errorf("unsupported message type: %s", msg.Type)
	}
}

// CreateErrorMessage creates a standardized error advisory
func CreateErrorMessage(code, message string) domain.InfoMessage {
	return domain.InfoMessage{
		Type:    domain.MessageTypeError,
		Code:    code,
		Message: message,
	}
}

// CreateInfoMessage creates a non-error advisory
func CreateInfoMessage(code, message string) domain.InfoMessage {
	return domain.InfoMessage{
		Type:    domain.MessageTypeInfo,
		Code:    code,
		Message: message,
	}
}

// CreatePongMessage creates a pong response message
func CreatePongMessage(data string) domain.PongMessage {
	return domain.PongMessage{
		Type: domain.MessageTypePong,
		Data: data,
	}
}

func createTranscriptMessage(event repositories.TurnEvent) domain.TranscriptMessage {
	return domain.TranscriptMessage{
		Type:       domain.MessageTypeTranscript,
		Transcript: event.Text,
		EndOfTurn:  event.EndOfTurn,
		IsPartial:  !event.EndOfTurn,
		Confidence: event.Confidence,
	}
}
