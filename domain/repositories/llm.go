package repositories

import (
	"context"
	"iter"

	"github.com/google/jsonschema-go/jsonschema"
)

// LargeLanguageModel abstracts any chat/LLM provider
type LargeLanguageModel interface {
	// Generate streams the model reply for the request. A chunk carries either
	// text or a tool call.
	Generate(ctx context.Context, req ChatRequest) iter.Seq2[ChatChunk, error]
}

// ChatRequest is everything the model needs for one turn
type ChatRequest struct {
	SystemPrompt string
	History      []ChatMessage
	Message      string
	Tools        []ToolDeclaration
}

// ChatMessage represents a single message in a conversation
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Role defines the type of message sender
type Role string

const (
	UserRole      Role = "user"
	AssistantRole Role = "assistant"
)

// ChatChunk is one streamed piece of a model reply
type ChatChunk struct {
	Text     string
	ToolCall *ToolCall
}

// ToolDeclaration describes a callable skill to the model
type ToolDeclaration struct {
	Name        string
	Description string
	Parameters  *jsonschema.Schema
}

// ToolCall is a structured request from the model to run a skill
type ToolCall struct {
	Name string
	Args map[string]any
}
