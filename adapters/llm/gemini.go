package llm

import (
	"context"
	"fmt"
	"iter"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/satriahrh/voicerelay/domain"
	"github.com/satriahrh/voicerelay/domain/repositories"
)

const (
	defaultModel          = "gemini-2.0-flash"
	defaultTemperature    = 0.7
	defaultTopP           = 0.95
	defaultTopK           = 40
	defaultMaxTokens      = 1024
	defaultTimeoutSeconds = 30
	maxAttempts           = 3
)

// retryBackoff is multiplied by the attempt number between retries
var retryBackoff = time.Second

// GeminiConfig holds configuration for the Gemini adapter
// Required fields:
// - APIKey: Google AI API key
// Optional fields with defaults:
// - Model: model name (default: "gemini-2.0-flash")
// - Temperature, TopP, TopK: sampling parameters
// - MaxOutputTokens: reply length cap (default: 1024)
// - TimeoutSeconds: per-turn deadline (default: 30)
// - BaseURL: API endpoint override
type GeminiConfig struct {
	APIKey          string
	Model           string
	Temperature     float32
	TopP            float32
	TopK            float32
	MaxOutputTokens int
	TimeoutSeconds  int
	BaseURL         string
}

// ValidateGeminiConfig validates the GeminiConfig
func ValidateGeminiConfig(config GeminiConfig) error {
	if config.APIKey == "" {
		return fmt.Errorf("%w: Google AI API key is required", domain.ErrConfig)
	}

	if config.Temperature < 0 || config.Temperature > 2 {
		return fmt.Errorf("%w: temperature must be between 0 and 2, got %f", domain.ErrConfig, config.Temperature)
	}

	if config.TopP < 0 || config.TopP > 1 {
		return fmt.Errorf("%w: topP must be between 0 and 1, got %f", domain.ErrConfig, config.TopP)
	}

	if config.TopK < 0 {
		return fmt.Errorf("%w: topK must be positive, got %f", domain.ErrConfig, config.TopK)
	}

	if config.TimeoutSeconds < 0 {
		return fmt.Errorf("%w: timeout must be positive, got %d", domain.ErrConfig, config.TimeoutSeconds)
	}

	return nil
}

// NewGeminiConfigFromEnv creates a new GeminiConfig from environment variables
func NewGeminiConfigFromEnv() GeminiConfig {
	config := GeminiConfig{
		APIKey:  os.Getenv("GEMINI_API_KEY"),
		Model:   os.Getenv("GEMINI_MODEL"),
		BaseURL: os.Getenv("GEMINI_BASE_URL"),
	}

	if v, err := strconv.ParseFloat(os.Getenv("GEMINI_TEMPERATURE"), 32); err == nil {
		config.Temperature = float32(v)
	}
	if v, err := strconv.ParseFloat(os.Getenv("GEMINI_TOP_P"), 32); err == nil {
		config.TopP = float32(v)
	}
	if v, err := strconv.ParseFloat(os.Getenv("GEMINI_TOP_K"), 32); err == nil {
		config.TopK = float32(v)
	}
	if v, err := strconv.Atoi(os.Getenv("GEMINI_MAX_OUTPUT_TOKENS")); err == nil {
		config.MaxOutputTokens = v
	}
	if v, err := strconv.Atoi(os.Getenv("GEMINI_TIMEOUT_SECONDS")); err == nil {
		config.TimeoutSeconds = v
	}

	return config
}

// GeminiLLM implements the LargeLanguageModel interface using Google's Gemini API
type GeminiLLM struct {
	client          *genai.Client
	logger          *zap.Logger
	model           string
	temperature     float32
	topP            float32
	topK            float32
	maxOutputTokens int
	timeout         time.Duration
}

var _ repositories.LargeLanguageModel = (*GeminiLLM)(nil)

// NewGeminiLLM creates a new Gemini LLM instance
func NewGeminiLLM(ctx context.Context, config GeminiConfig, logger *zap.Logger) (*GeminiLLM, error) {
	if err := ValidateGeminiConfig(config); err != nil {
		return nil, err
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if config.BaseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: config.BaseURL}
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := config.Model
	if model == "" {
		model = defaultModel
		logger.Info("Using default model", zap.String("model", model))
	}

	temperature := config.Temperature
	if temperature == 0 {
		temperature = defaultTemperature
		logger.Info("Using default temperature", zap.Float32("temperature", temperature))
	}

	topP := config.TopP
	if topP == 0 {
		topP = defaultTopP
		logger.Info("Using default topP", zap.Float32("topP", topP))
	}

	topK := config.TopK
	if topK == 0 {
		topK = defaultTopK
		logger.Info("Using default topK", zap.Float32("topK", topK))
	}

	maxOutputTokens := config.MaxOutputTokens
	if maxOutputTokens == 0 {
		maxOutputTokens = defaultMaxTokens
		logger.Info("Using default maxOutputTokens", zap.Int("maxOutputTokens", maxOutputTokens))
	}

	timeoutSeconds := config.TimeoutSeconds
	if timeoutSeconds == 0 {
		timeoutSeconds = defaultTimeoutSeconds
		logger.Info("Using default timeoutSeconds", zap.Int("timeoutSeconds", timeoutSeconds))
	}

	return &GeminiLLM{
		client:          client,
		logger:          logger,
		model:           model,
		temperature:     temperature,
		topP:            topP,
		topK:            topK,
		maxOutputTokens: maxOutputTokens,
		timeout:         time.Duration(timeoutSeconds) * time.Second,
	}, nil
}

// Generate streams a reply. Failed attempts are retried only while nothing
// has been yielded yet.
func (g *GeminiLLM) Generate(ctx context.Context, req repositories.ChatRequest) iter.Seq2[repositories.ChatChunk, error] {
	return func(yield func(repositories.ChatChunk, error) bool) {
		ctx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		contents := buildContents(req)
		config := g.buildConfig(req)

		var lastErr error
		for attempt := 0; attempt < maxAttempts; attempt++ {
			started := false
			lastErr = nil

			for resp, err := range g.client.Models.GenerateContentStream(ctx, g.model, contents, config) {
				if err != nil {
					lastErr = err
					break
				}
				for _, chunk := range responseChunks(resp) {
					started = true
					if !yield(chunk, nil) {
						return
					}
				}
			}

			if lastErr == nil {
				return
			}
			if started || ctx.Err() != nil {
				break
			}

			g.logger.Warn("Failed to generate content, retrying",
				zap.Int("attempt", attempt+1),
				zap.Error(lastErr))

			if attempt < maxAttempts-1 {
				select {
				case <-time.After(time.Duration(attempt+1) * retryBackoff):
				case <-ctx.Done():
					yield(repositories.ChatChunk{}, domain.NewStageError(domain.ErrModel, ctx.Err()))
					return
				}
			}
		}

		g.logger.Error("Gemini generation failed", zap.Error(lastErr))
		yield(repositories.ChatChunk{}, domain.NewStageError(domain.ErrModel, lastErr))
	}
}

func (g *GeminiLLM) buildConfig(req repositories.ChatRequest) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{
		SafetySettings:  defaultSafetySettings,
		Temperature:     genai.Ptr(g.temperature),
		TopP:            genai.Ptr(g.topP),
		TopK:            genai.Ptr(g.topK),
		MaxOutputTokens: int32(g.maxOutputTokens),
	}

	if req.SystemPrompt != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{genai.NewPartFromText(req.SystemPrompt)},
		}
	}

	if len(req.Tools) > 0 {
		declarations := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, tool := range req.Tools {
			declarations = append(declarations, &genai.FunctionDeclaration{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  convertSchema(tool.Parameters),
			})
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: declarations}}
	}

	return config
}
