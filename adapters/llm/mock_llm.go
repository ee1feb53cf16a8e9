package llm

import (
	"context"
	"iter"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/voicerelay/domain/repositories"
)

// MockLLM answers without a network. A message like "weather in Paris"
// becomes a get_current_weather call, anything else is echoed back.
type MockLLM struct {
	logger *zap.Logger

	mu       sync.Mutex
	requests []repositories.ChatRequest
}

var _ repositories.LargeLanguageModel = (*MockLLM)(nil)

// NewMockLLM creates a new mock LLM
func NewMockLLM(logger *zap.Logger) *MockLLM {
	return &MockLLM{logger: logger}
}

// Generate implements repositories.LargeLanguageModel
func (m *MockLLM) Generate(ctx context.Context, req repositories.ChatRequest) iter.Seq2[repositories.ChatChunk, error] {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	return func(yield func(repositories.ChatChunk, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(repositories.ChatChunk{}, err)
			return
		}

		if city := weatherCity(req.Message); city != "" && hasTool(req.Tools, "get_current_weather") {
			m.logger.Debug("Mock LLM calling weather tool", zap.String("city", city))
			yield(repositories.ChatChunk{ToolCall: &repositories.ToolCall{
				Name: "get_current_weather",
				Args: map[string]any{"city": city},
			}}, nil)
			return
		}

		if !yield(repositories.ChatChunk{Text: "You said: "}, nil) {
			return
		}
		yield(repositories.ChatChunk{Text: req.Message}, nil)
	}
}

// Requests returns every request received so far
func (m *MockLLM) Requests() []repositories.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]repositories.ChatRequest(nil), m.requests...)
}

func hasTool(tools []repositories.ToolDeclaration, name string) bool {
	for _, tool := range tools {
		if tool.Name == name {
			return true
		}
	}
	return false
}

func weatherCity(message string) string {
	if !strings.Contains(strings.ToLower(message), "weather") {
		return ""
	}
	words := strings.Fields(message)
	for i, word := range words {
		if strings.EqualFold(word, "in") && i+1 < len(words) {
			return strings.Trim(words[i+1], ".,!?")
		}
	}
	return ""
}
