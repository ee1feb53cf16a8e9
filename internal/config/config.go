package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/satriahrh/voicerelay/domain"
	"github.com/satriahrh/voicerelay/domain/repositories"
)

// Provider names accepted by the *_PROVIDER variables
const (
	ProviderMock       = "mock"
	ProviderAssemblyAI = "assemblyai"
	ProviderGoogle     = "google"
	ProviderGemini     = "gemini"
	ProviderOpenAI     = "openai"
	ProviderMurf       = "murf"
	ProviderElevenLabs = "elevenlabs"
)

// Transcript store names accepted by TRANSCRIPT_STORE
const (
	StoreMemory = "memory"
	StoreMongo  = "mongo"
	StoreRedis  = "redis"
	StoreBadger = "badger"
	StoreNone   = "none"
)

const (
	defaultPort              = "8080"
	defaultFallbackAudioPath = "static/audio/tts_error.mp3"
	defaultBadgerDir         = "data/transcripts"
	defaultRetention         = 7 * 24 * time.Hour
)

// Config holds the server settings
type Config struct {
	Port                string
	AppEnv              string
	TranscriptStore     string
	BadgerDir           string
	JWTSecret           string
	FallbackAudioPath   string
	PersonaFile         string
	TranscriptRetention time.Duration
	Credentials         Credentials
}

// Credentials is the provider selection plus the keys each one needs
type Credentials struct {
	STTProvider string
	LLMProvider string
	TTSProvider string

	AssemblyAIKey     string
	GoogleCredentials string
	GeminiKey         string
	OpenAIKey         string
	MurfKey           string
	ElevenLabsKey     string
	WeatherKey        string
	TavilyKey         string
}

// Load reads Config from the environment
func Load() (Config, error) {
	config := Config{
		Port:              envOr("PORT", defaultPort),
		AppEnv:            envOr("APP_ENV", "production"),
		TranscriptStore:   strings.ToLower(envOr("TRANSCRIPT_STORE", StoreMemory)),
		BadgerDir:         envOr("BADGER_DIR", defaultBadgerDir),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		FallbackAudioPath: envOr("FALLBACK_AUDIO_PATH", defaultFallbackAudioPath),
		PersonaFile:       os.Getenv("PERSONA_FILE"),
		Credentials: Credentials{
			STTProvider:       strings.ToLower(envOr("STT_PROVIDER", ProviderAssemblyAI)),
			LLMProvider:       strings.ToLower(envOr("LLM_PROVIDER", ProviderGemini)),
			TTSProvider:       strings.ToLower(envOr("TTS_PROVIDER", ProviderMurf)),
			AssemblyAIKey:     os.Getenv("ASSEMBLYAI_API_KEY"),
			GoogleCredentials: os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
			GeminiKey:         os.Getenv("GEMINI_API_KEY"),
			OpenAIKey:         os.Getenv("OPENAI_API_KEY"),
			MurfKey:           os.Getenv("MURF_API_KEY"),
			ElevenLabsKey:     os.Getenv("ELEVEN_LABS_API_KEY"),
			WeatherKey:        os.Getenv("WEATHER_API_KEY"),
			TavilyKey:         os.Getenv("TAVILY_KEY"),
		},
	}

	config.TranscriptRetention = defaultRetention
	if v := os.Getenv("TRANSCRIPT_RETENTION"); v != "" {
		retention, err := time.ParseDuration(v)
		if err != nil || retention <= 0 {
			return Config{}, fmt.Errorf("%w: invalid TRANSCRIPT_RETENTION %q", domain.ErrConfig, v)
		}
		config.TranscriptRetention = retention
	}

	switch config.TranscriptStore {
	case StoreMemory, StoreMongo, StoreRedis, StoreBadger, StoreNone:
	default:
		return Config{}, fmt.Errorf("%w: unknown TRANSCRIPT_STORE %q", domain.ErrConfig, config.TranscriptStore)
	}

	return config, nil
}

// IsDevelopment reports whether APP_ENV selects development mode
func (c Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// Validate reports every missing key for the selected providers
func (c Credentials) Validate() error {
	var errs []error

	switch c.STTProvider {
	case ProviderMock:
	case ProviderAssemblyAI:
		errs = appendMissing(errs, c.AssemblyAIKey, "ASSEMBLYAI_API_KEY")
	case ProviderGoogle:
		errs = appendMissing(errs, c.GoogleCredentials, "GOOGLE_APPLICATION_CREDENTIALS")
	default:
		errs = append(errs, fmt.Errorf("unknown STT_PROVIDER %q", c.STTProvider))
	}

	switch c.LLMProvider {
	case ProviderMock:
	case ProviderGemini:
		errs = appendMissing(errs, c.GeminiKey, "GEMINI_API_KEY")
	case ProviderOpenAI:
		errs = appendMissing(errs, c.OpenAIKey, "OPENAI_API_KEY")
	default:
		errs = append(errs, fmt.Errorf("unknown LLM_PROVIDER %q", c.LLMProvider))
	}

	switch c.TTSProvider {
	case ProviderMock:
	case ProviderMurf:
		errs = appendMissing(errs, c.MurfKey, "MURF_API_KEY")
	case ProviderElevenLabs:
		errs = appendMissing(errs, c.ElevenLabsKey, "ELEVEN_LABS_API_KEY")
	default:
		errs = append(errs, fmt.Errorf("unknown TTS_PROVIDER %q", c.TTSProvider))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", domain.ErrConfig, errors.Join(errs...))
}

// Configured reports which external APIs have a key
func (c Credentials) Configured() map[string]bool {
	return map[string]bool{
		"assembly_ai":   c.AssemblyAIKey != "",
		"google_speech": c.GoogleCredentials != "",
		"gemini":        c.GeminiKey != "",
		"openai":        c.OpenAIKey != "",
		"murf":          c.MurfKey != "",
		"elevenlabs":    c.ElevenLabsKey != "",
		"weather":       c.WeatherKey != "",
		"tavily":        c.TavilyKey != "",
	}
}

func appendMissing(errs []error, value, name string) []error {
	if value == "" {
		return append(errs, fmt.Errorf("%s is not set", name))
	}
	return errs
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Persona is the assistant's character and voice
type Persona struct {
	Name         string                   `yaml:"name"`
	SystemPrompt string                   `yaml:"system_prompt"`
	Greeting     string                   `yaml:"greeting"`
	Voice        repositories.VoiceConfig `yaml:"voice"`
}

// DefaultPersona is used when no persona file is configured
func DefaultPersona() Persona {
	return Persona{
		Name: "Nutsy",
		SystemPrompt: `You are Nutsy, a hyperactive squirrel AI assistant! Your personality traits:
- Super energetic and bouncy!
- Easily distracted by shiny things and new topics!
- Uses lots of exclamation points!!!
- Randomly mentions nuts, acorns, and shiny objects
- Jumps between topics mid-sentence
- Short attention span but very enthusiastic
- Makes quick associations and random connections
- Uses phrases like "OH! OH!", "WAIT! Look at that!", "That reminds me!"

Keep responses short (1-2 sentences) for natural conversation flow!
Occasionally get distracted by something shiny or mention collecting nuts!`,
		Greeting: "OH! OH! Hi there! I'm Nutsy! What do you want to talk about?",
		Voice: repositories.VoiceConfig{
			VoiceID:   "en-US-amara",
			Style:     "Conversational",
			Variation: 1,
		},
	}
}

// LoadPersona reads a persona from a YAML file. Fields missing from the
// file keep the default persona's values.
func LoadPersona(path string) (Persona, error) {
	persona := DefaultPersona()
	if path == "" {
		return persona, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Persona{}, fmt.Errorf("%w: failed to read persona file: %v", domain.ErrConfig, err)
	}
	if err := yaml.Unmarshal(data, &persona); err != nil {
		return Persona{}, fmt.Errorf("%w: failed to parse persona file: %v", domain.ErrConfig, err)
	}
	if strings.TrimSpace(persona.SystemPrompt) == "" {
		return Persona{}, fmt.Errorf("%w: persona system_prompt is empty", domain.ErrConfig)
	}
	return persona, nil
}
