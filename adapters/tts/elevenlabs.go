package tts

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/satriahrh/voicerelay/domain"
	"github.com/satriahrh/voicerelay/domain/repositories"
)

const (
	defaultAPIBaseURL   = "wss://api.elevenlabs.io/v1"
	defaultVoiceID      = "21m00Tcm4TlvDq8ikWAM" // Rachel voice
	defaultOutputFormat = "mp3_44100_128"
	defaultModelID      = "eleven_flash_v2_5"
	defaultStability    = 0.5
	defaultClarity      = 0.75
)

// chunkLengthSchedule controls how much text ElevenLabs buffers before
// generating each audio segment
var chunkLengthSchedule = []int{120, 160, 250, 290}

// ElevenLabsConfig holds configuration for the ElevenLabsTTS adapter
// Required fields:
// - APIKey: Your Eleven Labs API key
// Optional fields with defaults:
// - APIBaseURL: The websocket base URL (default: "wss://api.elevenlabs.io/v1")
// - VoiceID: The voice ID to use (default: "21m00Tcm4TlvDq8ikWAM" - Rachel voice)
// - ModelID: The model ID to use (default: "eleven_flash_v2_5")
// - OutputFormat: The output format (default: "mp3_44100_128")
// - Stability: Voice stability value between 0 and 1 (default: 0.5)
// - Clarity: Voice clarity/similarity boost value between 0 and 1 (default: 0.75)
type ElevenLabsConfig struct {
	APIKey       string
	APIBaseURL   string
	VoiceID      string
	ModelID      string
	OutputFormat string
	Stability    float64
	Clarity      float64
}

// ElevenLabsTTS implements TextToSpeech with the ElevenLabs stream-input
// websocket
type ElevenLabsTTS struct {
	apiKey       string
	apiBaseURL   string
	voiceID      string
	modelID      string
	outputFormat string
	stability    float64
	clarity      float64
	logger       *zap.Logger
}

// Ensure ElevenLabsTTS implements the TextToSpeech interface
var _ repositories.TextToSpeech = (*ElevenLabsTTS)(nil)

// ElevenLabsVoiceSettings represents voice settings for Eleven Labs API
type ElevenLabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type elevenLabsGenerationConfig struct {
	ChunkLengthSchedule []int `json:"chunk_length_schedule"`
}

type elevenLabsInitMessage struct {
	Text             string                     `json:"text"`
	VoiceSettings    ElevenLabsVoiceSettings    `json:"voice_settings"`
	GenerationConfig elevenLabsGenerationConfig `json:"generation_config"`
}

type elevenLabsTextMessage struct {
	Text                 string `json:"text"`
	TryTriggerGeneration bool   `json:"try_trigger_generation,omitempty"`
}

type elevenLabsResponse struct {
	Audio   *string `json:"audio"`
	IsFinal bool    `json:"isFinal"`
	Error   string  `json:"error"`
	Message string  `json:"message"`
}

// ValidateElevenLabsConfig validates the ElevenLabsConfig
func ValidateElevenLabsConfig(config ElevenLabsConfig) error {
	if config.APIKey == "" {
		return fmt.Errorf("%w: eleven labs API key is required", domain.ErrConfig)
	}

	if config.Stability < 0 || config.Stability > 1 {
		return fmt.Errorf("%w: stability must be between 0 and 1, got %f", domain.ErrConfig, config.Stability)
	}

	if config.Clarity < 0 || config.Clarity > 1 {
		return fmt.Errorf("%w: clarity must be between 0 and 1, got %f", domain.ErrConfig, config.Clarity)
	}

	return nil
}

// NewElevenLabsTTS creates a new Eleven Labs TTS instance
func NewElevenLabsTTS(config ElevenLabsConfig, logger *zap.Logger) (*ElevenLabsTTS, error) {
	if err := ValidateElevenLabsConfig(config); err != nil {
		return nil, err
	}

	apiBaseURL := config.APIBaseURL
	if apiBaseURL == "" {
		apiBaseURL = defaultAPIBaseURL
		logger.Info("Using default API base URL", zap.String("apiBaseURL", apiBaseURL))
	}

	voiceID := config.VoiceID
	if voiceID == "" {
		voiceID = defaultVoiceID
		logger.Info("Using default voice ID", zap.String("voiceID", voiceID))
	}

	modelID := config.ModelID
	if modelID == "" {
		modelID = defaultModelID
		logger.Info("Using default model ID", zap.String("modelID", modelID))
	}

	outputFormat := config.OutputFormat
	if outputFormat == "" {
		outputFormat = defaultOutputFormat
		logger.Info("Using default output format", zap.String("outputFormat", outputFormat))
	}

	stability := config.Stability
	if stability == 0 {
		stability = defaultStability
		logger.Info("Using default stability", zap.Float64("stability", stability))
	}

	clarity := config.Clarity
	if clarity == 0 {
		clarity = defaultClarity
		logger.Info("Using default clarity", zap.Float64("clarity", clarity))
	}

	return &ElevenLabsTTS{
		apiKey:       config.APIKey,
		apiBaseURL:   strings.TrimRight(apiBaseURL, "/"),
		voiceID:      voiceID,
		modelID:      modelID,
		outputFormat: outputFormat,
		stability:    stability,
		clarity:      clarity,
		logger:       logger,
	}, nil
}

// AudioFormat reports the container of the produced audio
func (e *ElevenLabsTTS) AudioFormat() string {
	switch {
	case strings.HasPrefix(e.outputFormat, "mp3"):
		return "MP3"
	case strings.HasPrefix(e.outputFormat, "pcm"):
		return "PCM"
	default:
		return strings.ToUpper(e.outputFormat)
	}
}

// Connect opens a stream-input session for the configured voice
func (e *ElevenLabsTTS) Connect(ctx context.Context) (repositories.SynthesisStream, error) {
	q := url.Values{}
	q.Set("model_id", e.modelID)
	q.Set("output_format", e.outputFormat)
	endpoint := fmt.Sprintf("%s/text-to-speech/%s/stream-input?%s", e.apiBaseURL, e.voiceID, q.Encode())

	header := http.Header{}
	header.Set("xi-api-key", e.apiKey)

	conn, err := dialWS(ctx, endpoint, header)
	if err != nil {
		return nil, domain.NewStageError(domain.ErrSynthesis, err)
	}

	e.logger.Debug("Connected to Eleven Labs",
		zap.String("voiceID", e.voiceID),
		zap.String("modelID", e.modelID))

	return &elevenLabsStream{conn: conn, stability: e.stability, clarity: e.clarity}, nil
}

type elevenLabsStream struct {
	conn      *wsConn
	stability float64
	clarity   float64
}

// Configure sends the opening message. The voice itself is fixed per
// connection so only the stability override applies.
func (s *elevenLabsStream) Configure(voice repositories.VoiceConfig) error {
	stability := s.stability
	if voice.Stability > 0 {
		stability = voice.Stability
	}
	return s.conn.writeJSON(elevenLabsInitMessage{
		Text: " ",
		VoiceSettings: ElevenLabsVoiceSettings{
			Stability:       stability,
			SimilarityBoost: s.clarity,
		},
		GenerationConfig: elevenLabsGenerationConfig{ChunkLengthSchedule: chunkLengthSchedule},
	})
}

func (s *elevenLabsStream) SendText(text string, end bool) error {
	// the API expects text to end with a space
	if !strings.HasSuffix(text, " ") {
		text += " "
	}
	if err := s.conn.writeJSON(elevenLabsTextMessage{Text: text, TryTriggerGeneration: true}); err != nil {
		return err
	}
	if end {
		return s.conn.writeJSON(elevenLabsTextMessage{Text: ""})
	}
	return nil
}

func (s *elevenLabsStream) Recv() (repositories.SynthesisMessage, error) {
	var resp elevenLabsResponse
	if err := s.conn.readJSON(&resp); err != nil {
		return repositories.SynthesisMessage{}, err
	}
	if resp.Error != "" {
		return repositories.SynthesisMessage{}, fmt.Errorf("%s: %s", resp.Error, resp.Message)
	}

	msg := repositories.SynthesisMessage{Final: resp.IsFinal}
	if resp.Audio != nil && *resp.Audio != "" {
		audio, err := base64.StdEncoding.DecodeString(*resp.Audio)
		if err != nil {
			return repositories.SynthesisMessage{}, errors.Join(errors.New("invalid audio payload"), err)
		}
		msg.Audio = audio
	}
	return msg, nil
}

func (s *elevenLabsStream) Close() error {
	return s.conn.close()
}

// NewElevenLabsConfigFromEnv creates a new ElevenLabsConfig from environment variables
func NewElevenLabsConfigFromEnv() ElevenLabsConfig {
	config := ElevenLabsConfig{
		APIKey:       os.Getenv("ELEVEN_LABS_API_KEY"),
		APIBaseURL:   os.Getenv("ELEVEN_LABS_API_BASE_URL"),
		VoiceID:      os.Getenv("ELEVEN_LABS_VOICE_ID"),
		ModelID:      os.Getenv("ELEVEN_LABS_MODEL_ID"),
		OutputFormat: os.Getenv("ELEVEN_LABS_OUTPUT_FORMAT"),
	}

	if stabilityStr := os.Getenv("ELEVEN_LABS_STABILITY"); stabilityStr != "" {
		if stability, err := strconv.ParseFloat(stabilityStr, 64); err == nil && stability >= 0 && stability <= 1 {
			config.Stability = stability
		}
	}

	if clarityStr := os.Getenv("ELEVEN_LABS_CLARITY"); clarityStr != "" {
		if clarity, err := strconv.ParseFloat(clarityStr, 64); err == nil && clarity >= 0 && clarity <= 1 {
			config.Clarity = clarity
		}
	}

	return config
}
