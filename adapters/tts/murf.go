package tts

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/satriahrh/voicerelay/domain"
	"github.com/satriahrh/voicerelay/domain/repositories"
)

const (
	defaultMurfURL         = "wss://api.murf.ai/v1/speech/stream-input"
	defaultMurfSampleRate  = 44100
	defaultMurfFormat      = "WAV"
	defaultMurfChannelType = "MONO"
	defaultMurfVoiceID     = "en-US-amara"
	defaultMurfStyle       = "Conversational"
)

// MurfConfig holds configuration for the Murf streaming adapter
// Required fields:
// - APIKey: Murf API key
// Optional fields with defaults:
// - URL: stream-input endpoint (default: "wss://api.murf.ai/v1/speech/stream-input")
// - SampleRate: output sample rate (default: 44100)
// - Format: output container (default: "WAV")
type MurfConfig struct {
	APIKey     string
	URL        string
	SampleRate int
	Format     string
}

// ValidateMurfConfig validates the MurfConfig
func ValidateMurfConfig(config MurfConfig) error {
	if config.APIKey == "" {
		return fmt.Errorf("%w: murf API key is required", domain.ErrConfig)
	}
	if config.SampleRate < 0 {
		return fmt.Errorf("%w: sample rate must be positive, got %d", domain.ErrConfig, config.SampleRate)
	}
	return nil
}

// NewMurfConfigFromEnv creates a new MurfConfig from environment variables
func NewMurfConfigFromEnv() MurfConfig {
	config := MurfConfig{
		APIKey: os.Getenv("MURF_API_KEY"),
		URL:    os.Getenv("MURF_URL"),
		Format: os.Getenv("MURF_FORMAT"),
	}
	if v, err := strconv.Atoi(os.Getenv("MURF_SAMPLE_RATE")); err == nil && v > 0 {
		config.SampleRate = v
	}
	return config
}

// MurfTTS implements TextToSpeech with Murf's websocket streaming API
type MurfTTS struct {
	apiKey     string
	url        string
	sampleRate int
	format     string
	logger     *zap.Logger
}

var _ repositories.TextToSpeech = (*MurfTTS)(nil)

// NewMurfTTS creates a new Murf TTS instance
func NewMurfTTS(config MurfConfig, logger *zap.Logger) (*MurfTTS, error) {
	if err := ValidateMurfConfig(config); err != nil {
		return nil, err
	}

	endpoint := config.URL
	if endpoint == "" {
		endpoint = defaultMurfURL
		logger.Info("Using default Murf URL", zap.String("url", endpoint))
	}

	sampleRate := config.SampleRate
	if sampleRate == 0 {
		sampleRate = defaultMurfSampleRate
		logger.Info("Using default sample rate", zap.Int("sampleRate", sampleRate))
	}

	format := config.Format
	if format == "" {
		format = defaultMurfFormat
		logger.Info("Using default output format", zap.String("format", format))
	}

	return &MurfTTS{
		apiKey:     config.APIKey,
		url:        endpoint,
		sampleRate: sampleRate,
		format:     format,
		logger:     logger,
	}, nil
}

// AudioFormat reports the container of the produced audio
func (m *MurfTTS) AudioFormat() string {
	return m.format
}

// Connect opens a Murf stream with a fresh context id
func (m *MurfTTS) Connect(ctx context.Context) (repositories.SynthesisStream, error) {
	u, err := url.Parse(m.url)
	if err != nil {
		return nil, domain.NewStageError(domain.ErrSynthesis, err)
	}
	q := u.Query()
	q.Set("api-key", m.apiKey)
	q.Set("sample_rate", strconv.Itoa(m.sampleRate))
	q.Set("channel_type", defaultMurfChannelType)
	q.Set("format", m.format)
	u.RawQuery = q.Encode()

	conn, err := dialWS(ctx, u.String(), nil)
	if err != nil {
		return nil, domain.NewStageError(domain.ErrSynthesis, err)
	}

	contextID := uuid.NewString()
	m.logger.Debug("Connected to Murf", zap.String("contextID", contextID))

	return &murfStream{conn: conn, contextID: contextID}, nil
}

type murfVoiceConfig struct {
	VoiceID   string `json:"voiceId"`
	Style     string `json:"style"`
	Rate      int    `json:"rate"`
	Pitch     int    `json:"pitch"`
	Variation int    `json:"variation"`
}

type murfConfigMessage struct {
	VoiceConfig murfVoiceConfig `json:"voice_config"`
	ContextID   string          `json:"context_id"`
}

type murfTextMessage struct {
	Text      string `json:"text"`
	ContextID string `json:"context_id"`
	End       bool   `json:"end"`
}

type murfResponse struct {
	Audio string `json:"audio"`
	Final bool   `json:"final"`
	Error string `json:"error"`
}

type murfStream struct {
	conn      *wsConn
	contextID string
}

func (s *murfStream) Configure(voice repositories.VoiceConfig) error {
	if voice.VoiceID == "" {
		voice.VoiceID = defaultMurfVoiceID
	}
	if voice.Style == "" {
		voice.Style = defaultMurfStyle
	}
	return s.conn.writeJSON(murfConfigMessage{
		VoiceConfig: murfVoiceConfig{
			VoiceID:   voice.VoiceID,
			Style:     voice.Style,
			Rate:      voice.Rate,
			Pitch:     voice.Pitch,
			Variation: voice.Variation,
		},
		ContextID: s.contextID,
	})
}

func (s *murfStream) SendText(text string, end bool) error {
	return s.conn.writeJSON(murfTextMessage{Text: text, ContextID: s.contextID, End: end})
}

func (s *murfStream) Recv() (repositories.SynthesisMessage, error) {
	var resp murfResponse
	if err := s.conn.readJSON(&resp); err != nil {
		return repositories.SynthesisMessage{}, err
	}
	if resp.Error != "" {
		return repositories.SynthesisMessage{}, errors.New(resp.Error)
	}

	msg := repositories.SynthesisMessage{Final: resp.Final}
	if resp.Audio != "" {
		audio, err := base64.StdEncoding.DecodeString(resp.Audio)
		if err != nil {
			return repositories.SynthesisMessage{}, fmt.Errorf("invalid audio payload: %w", err)
		}
		msg.Audio = audio
	}
	return msg, nil
}

func (s *murfStream) Close() error {
	return s.conn.close()
}
