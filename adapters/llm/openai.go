package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"os"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"go.uber.org/zap"

	"github.com/satriahrh/voicerelay/domain"
	"github.com/satriahrh/voicerelay/domain/repositories"
)

const (
	defaultOpenAIModel = "gpt-4o-mini"

	openAIFinishReasonStop      = "stop"
	openAIFinishReasonToolCalls = "tool_calls"
)

// OpenAIConfig holds configuration for any OpenAI compatible chat endpoint
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int64
}

// ValidateOpenAIConfig validates the OpenAIConfig
func ValidateOpenAIConfig(config OpenAIConfig) error {
	if config.APIKey == "" {
		return fmt.Errorf("%w: OpenAI API key is required", domain.ErrConfig)
	}
	if config.Temperature < 0 || config.Temperature > 2 {
		return fmt.Errorf("%w: temperature must be between 0 and 2, got %f", domain.ErrConfig, config.Temperature)
	}
	return nil
}

// NewOpenAIConfigFromEnv creates a new OpenAIConfig from environment variables
func NewOpenAIConfigFromEnv() OpenAIConfig {
	return OpenAIConfig{
		APIKey:  os.Getenv("OPENAI_API_KEY"),
		BaseURL: os.Getenv("OPENAI_BASE_URL"),
		Model:   os.Getenv("OPENAI_MODEL"),
	}
}

// OpenAILLM implements the LargeLanguageModel interface with the chat
// completions API
type OpenAILLM struct {
	client      openai.Client
	model       string
	temperature float64
	maxTokens   int64
	logger      *zap.Logger
}

var _ repositories.LargeLanguageModel = (*OpenAILLM)(nil)

// NewOpenAILLM creates a new OpenAI LLM instance
func NewOpenAILLM(config OpenAIConfig, logger *zap.Logger) (*OpenAILLM, error) {
	if err := ValidateOpenAIConfig(config); err != nil {
		return nil, err
	}

	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	model := config.Model
	if model == "" {
		model = defaultOpenAIModel
		logger.Info("Using default model", zap.String("model", model))
	}

	return &OpenAILLM{
		client:      openai.NewClient(opts...),
		model:       model,
		temperature: config.Temperature,
		maxTokens:   config.MaxTokens,
		logger:      logger,
	}, nil
}

// Generate streams a reply. Tool call deltas are accumulated and yielded
// once the call is complete.
func (o *OpenAILLM) Generate(ctx context.Context, req repositories.ChatRequest) iter.Seq2[repositories.ChatChunk, error] {
	return func(yield func(repositories.ChatChunk, error) bool) {
		stream := o.client.Chat.Completions.NewStreaming(ctx, o.buildParams(req))
		defer stream.Close()

		var running *openai.ChatCompletionChunkChoiceDeltaToolCall
		commit := func() bool {
			if running == nil {
				return true
			}
			call := running
			running = nil

			args := map[string]any{}
			if call.Function.Arguments != "" {
				if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
					o.logger.Warn("Failed to parse tool arguments",
						zap.String("tool", call.Function.Name),
						zap.Error(err))
					args = map[string]any{}
				}
			}
			return yield(repositories.ChatChunk{
				ToolCall: &repositories.ToolCall{Name: call.Function.Name, Args: args},
			}, nil)
		}

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]

			if s := choice.Delta.Content; s != "" {
				if !yield(repositories.ChatChunk{Text: s}, nil) {
					return
				}
			}

			for _, t := range choice.Delta.ToolCalls {
				switch {
				case running == nil:
					if t.ID != "" {
						running = &t
					}
				case t.ID == "" || t.ID == running.ID:
					running.Function.Name += t.Function.Name
					running.Function.Arguments += t.Function.Arguments
				default:
					if !commit() {
						return
					}
					running = &t
				}
			}

			switch choice.FinishReason {
			case openAIFinishReasonToolCalls, openAIFinishReasonStop:
				commit()
				return
			}
		}

		if err := stream.Err(); err != nil {
			o.logger.Error("OpenAI generation failed", zap.Error(err))
			yield(repositories.ChatChunk{}, domain.NewStageError(domain.ErrModel, err))
			return
		}
		commit()
	}
}

func (o *OpenAILLM) buildParams(req repositories.ChatRequest) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.History)+2)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	for _, msg := range req.History {
		switch msg.Role {
		case repositories.AssistantRole:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		default:
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}
	messages = append(messages, openai.UserMessage(req.Message))

	params := openai.ChatCompletionNewParams{
		Messages: messages,
		Model:    openai.ChatModel(o.model),
	}
	if o.temperature > 0 {
		params.Temperature = param.NewOpt(o.temperature)
	}
	if o.maxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(o.maxTokens)
	}

	for _, tool := range req.Tools {
		params.Tools = append(params.Tools, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        tool.Name,
				Description: param.NewOpt(tool.Description),
				Parameters:  convertFunctionParameters(tool.Parameters),
			},
		})
	}

	return params
}

func convertFunctionParameters(schema *jsonschema.Schema) openai.FunctionParameters {
	if schema == nil {
		return nil
	}
	b, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var m openai.FunctionParameters
	if err := json.Unmarshal(b, &m); err != nil {
		return nil
	}
	return m
}
