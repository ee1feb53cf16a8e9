package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"go.uber.org/zap/zaptest"
	"google.golang.org/genai"

	"github.com/satriahrh/voicerelay/domain"
	"github.com/satriahrh/voicerelay/domain/repositories"
)

func TestValidateGeminiConfig(t *testing.T) {
	tests := []struct {
		name    string
		config  GeminiConfig
		wantErr bool
	}{
		{name: "valid", config: GeminiConfig{APIKey: "k"}},
		{name: "missing key", config: GeminiConfig{}, wantErr: true},
		{name: "temperature too high", config: GeminiConfig{APIKey: "k", Temperature: 3}, wantErr: true},
		{name: "topP too high", config: GeminiConfig{APIKey: "k", TopP: 1.5}, wantErr: true},
		{name: "negative topK", config: GeminiConfig{APIKey: "k", TopK: -1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateGeminiConfig(tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateGeminiConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, domain.ErrConfig) {
				t.Errorf("Expected config error, got %v", err)
			}
		})
	}
}

func TestBuildContents(t *testing.T) {
	contents := buildContents(repositories.ChatRequest{
		History: []repositories.ChatMessage{
			{Role: repositories.UserRole, Content: "hello"},
			{Role: repositories.AssistantRole, Content: "hi there"},
			{Role: repositories.UserRole, Content: "tell me a joke"},
		},
		Message: "a short one",
	})

	if len(contents) != 3 {
		t.Fatalf("Expected 3 contents after merging, got %d", len(contents))
	}
	if contents[1].Role != string(genai.RoleModel) {
		t.Errorf("Expected model role, got %s", contents[1].Role)
	}
	last := contents[2]
	if last.Role != string(genai.RoleUser) || len(last.Parts) != 2 {
		t.Errorf("Expected merged user content with 2 parts, got %+v", last)
	}
}

func TestConvertSchema(t *testing.T) {
	schema := &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"city":  {Type: "string", Description: "City name"},
			"units": {Type: "string", Enum: []any{"metric", "imperial"}},
			"days":  {Type: "array", Items: &jsonschema.Schema{Type: "integer"}},
		},
		Required: []string{"city"},
	}

	got := convertSchema(schema)
	if got.Type != genai.TypeObject {
		t.Errorf("Expected object type, got %s", got.Type)
	}
	if got.Properties["city"].Type != genai.TypeString || got.Properties["city"].Description != "City name" {
		t.Errorf("Unexpected city property %+v", got.Properties["city"])
	}
	if len(got.Properties["units"].Enum) != 2 {
		t.Errorf("Expected enum values to carry over, got %v", got.Properties["units"].Enum)
	}
	if got.Properties["days"].Items.Type != genai.TypeInteger {
		t.Errorf("Expected integer items, got %s", got.Properties["days"].Items.Type)
	}
	if len(got.Required) != 1 || got.Required[0] != "city" {
		t.Errorf("Unexpected required %v", got.Required)
	}
	if convertSchema(nil) != nil {
		t.Error("Expected nil schema to stay nil")
	}
}

func TestResponseChunks(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				{Text: "Let me check."},
				{FunctionCall: &genai.FunctionCall{Name: "get_current_weather", Args: map[string]any{"city": "Paris"}}},
			}},
		}},
	}

	chunks := responseChunks(resp)
	if len(chunks) != 2 {
		t.Fatalf("Expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].Text != "Let me check." {
		t.Errorf("Unexpected text chunk %+v", chunks[0])
	}
	if chunks[1].ToolCall == nil || chunks[1].ToolCall.Args["city"] != "Paris" {
		t.Errorf("Unexpected tool chunk %+v", chunks[1])
	}
	if responseChunks(&genai.GenerateContentResponse{}) != nil {
		t.Error("Expected no chunks without candidates")
	}
}

func newGeminiServer(t *testing.T, failures int32, events ...string) (*httptest.Server, *atomic.Int32) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= failures {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"error":{"code":500,"message":"internal","status":"INTERNAL"}}`)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, event := range events {
			fmt.Fprintf(w, "data: %s\r\n\r\n", event)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func collect(t *testing.T, llm repositories.LargeLanguageModel, req repositories.ChatRequest) ([]repositories.ChatChunk, error) {
	t.Helper()
	var chunks []repositories.ChatChunk
	for chunk, err := range llm.Generate(context.Background(), req) {
		if err != nil {
			return chunks, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

func TestGeminiLLM_GenerateText(t *testing.T) {
	srv, _ := newGeminiServer(t, 0,
		`{"candidates":[{"content":{"role":"model","parts":[{"text":"Hello "}]},"index":0}]}`,
		`{"candidates":[{"content":{"role":"model","parts":[{"text":"friend"}]},"finishReason":"STOP","index":0}]}`,
	)

	llm, err := NewGeminiLLM(context.Background(), GeminiConfig{APIKey: "k", BaseURL: srv.URL + "/"}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewGeminiLLM() error = %v", err)
	}

	chunks, err := collect(t, llm, repositories.ChatRequest{SystemPrompt: "be nice", Message: "hi"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	var text string
	for _, c := range chunks {
		text += c.Text
	}
	if text != "Hello friend" {
		t.Errorf("Expected 'Hello friend', got %q", text)
	}
}

func TestGeminiLLM_RetriesBeforeFirstChunk(t *testing.T) {
	retryBackoff = time.Millisecond
	defer func() { retryBackoff = time.Second }()

	srv, calls := newGeminiServer(t, 1,
		`{"candidates":[{"content":{"role":"model","parts":[{"functionCall":{"name":"get_current_weather","args":{"city":"Paris"}}}]},"finishReason":"STOP","index":0}]}`,
	)

	llm, err := NewGeminiLLM(context.Background(), GeminiConfig{APIKey: "k", BaseURL: srv.URL + "/"}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewGeminiLLM() error = %v", err)
	}

	chunks, err := collect(t, llm, repositories.ChatRequest{Message: "weather in Paris"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if calls.Load() < 2 {
		t.Errorf("Expected a retry, got %d calls", calls.Load())
	}
	if len(chunks) != 1 || chunks[0].ToolCall == nil || chunks[0].ToolCall.Name != "get_current_weather" {
		t.Errorf("Expected one tool call chunk, got %+v", chunks)
	}
}

func TestGeminiLLM_GivesUp(t *testing.T) {
	retryBackoff = time.Millisecond
	defer func() { retryBackoff = time.Second }()

	srv, _ := newGeminiServer(t, 100)

	llm, err := NewGeminiLLM(context.Background(), GeminiConfig{APIKey: "k", BaseURL: srv.URL + "/"}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewGeminiLLM() error = %v", err)
	}

	_, err = collect(t, llm, repositories.ChatRequest{Message: "hi"})
	if !errors.Is(err, domain.ErrModel) {
		t.Fatalf("Expected model error, got %v", err)
	}
}
