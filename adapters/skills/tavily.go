package skills

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/jsonschema-go/jsonschema"
	"go.uber.org/zap"

	"github.com/satriahrh/voicerelay/domain"
	"github.com/satriahrh/voicerelay/domain/repositories"
)

const (
	// TavilyToolName is the function name the model calls
	TavilyToolName = "get_real_time_answer"

	defaultTavilyBaseURL = "https://api.tavily.com"
	noAnswerText         = "No answer available."
)

// Tavily answers real-time questions through the Tavily search API
type Tavily struct {
	apiKey  string
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

var _ repositories.Skill = (*Tavily)(nil)

// NewTavily creates a new Tavily skill
func NewTavily(apiKey string, logger *zap.Logger, opts ...Option) *Tavily {
	o := newOptions(defaultTavilyBaseURL, opts)
	return &Tavily{
		apiKey:  apiKey,
		baseURL: o.baseURL,
		client:  o.httpClient,
		logger:  logger,
	}
}

// Declaration implements repositories.Skill
func (t *Tavily) Declaration() repositories.ToolDeclaration {
	return repositories.ToolDeclaration{
		Name:        TavilyToolName,
		Description: "Fetch real-time answers from the Tavily API for a given query.",
		Parameters: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"query": {Type: "string", Description: "The user's query to fetch real-time answers."},
			},
			Required: []string{"query"},
		},
	}
}

type tavilySearchRequest struct {
	Query string `json:"query"`
}

type tavilySearchResponse struct {
	Answer  string `json:"answer"`
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

// Call implements repositories.Skill
func (t *Tavily) Call(ctx context.Context, args map[string]any) (string, error) {
	if t.apiKey == "" {
		return "", &domain.ToolError{
			Tool:    TavilyToolName,
			Message: "Tavily API key is missing. Please set TAVILY_KEY in the environment.",
		}
	}

	query := stringArg(args, "query")
	if query == "" {
		return "", &domain.ToolError{Tool: TavilyToolName, Message: "Sorry, I need a question to look up."}
	}

	body, err := json.Marshal(tavilySearchRequest{Query: query})
	if err != nil {
		return "", &domain.ToolError{Tool: TavilyToolName, Message: fmt.Sprintf("Exception occurred: %v", err), Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return "", &domain.ToolError{Tool: TavilyToolName, Message: fmt.Sprintf("Exception occurred: %v", err), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	t.logger.Info("Sending Tavily search", zap.String("query", query))

	resp, err := t.client.Do(req)
	if err != nil {
		return "", &domain.ToolError{Tool: TavilyToolName, Message: fmt.Sprintf("Exception occurred: %v", err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &domain.ToolError{
			Tool:    TavilyToolName,
			Message: fmt.Sprintf("API error: %d - %s", resp.StatusCode, readErrorBody(resp)),
		}
	}

	var data tavilySearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", &domain.ToolError{Tool: TavilyToolName, Message: fmt.Sprintf("Exception occurred: %v", err), Err: err}
	}

	answer := data.Answer
	source := ""
	if answer == "" && len(data.Results) > 0 {
		answer = data.Results[0].Content
		source = data.Results[0].URL
	}
	if answer == "" {
		answer = noAnswerText
	}
	if source != "" {
		return fmt.Sprintf("%s Source: %s", answer, source), nil
	}
	return answer, nil
}
