package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/satriahrh/voicerelay/adapters"
	badgerstore "github.com/satriahrh/voicerelay/adapters/badger"
	"github.com/satriahrh/voicerelay/adapters/llm"
	mongostore "github.com/satriahrh/voicerelay/adapters/mongo"
	redisstore "github.com/satriahrh/voicerelay/adapters/redis"
	"github.com/satriahrh/voicerelay/adapters/skills"
	"github.com/satriahrh/voicerelay/adapters/stt"
	"github.com/satriahrh/voicerelay/adapters/tts"
	"github.com/satriahrh/voicerelay/domain/repositories"
	"github.com/satriahrh/voicerelay/internal/api"
	"github.com/satriahrh/voicerelay/internal/auth"
	"github.com/satriahrh/voicerelay/internal/config"
	"github.com/satriahrh/voicerelay/internal/websocket"
	"github.com/satriahrh/voicerelay/usecase"
)

// audioTextToSpeech is a synthesis adapter that knows its output container
type audioTextToSpeech interface {
	repositories.TextToSpeech
	AudioFormat() string
}

func main() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// Initialize logger
	var logger *zap.Logger
	if cfg.IsDevelopment() {
		logger, _ = zap.NewDevelopment()
	} else {
		logger, _ = zap.NewProduction()
	}
	defer logger.Sync()

	persona, err := config.LoadPersona(cfg.PersonaFile)
	if err != nil {
		logger.Fatal("Failed to load persona", zap.Error(err))
	}

	ctx := context.Background()

	transcripts, closeStore, err := newTranscriptStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open transcript store", zap.Error(err))
	}
	defer closeStore()

	hubConfig := websocket.HubConfig{
		ValidateCredentials: cfg.Credentials.Validate,
		Greeting:            persona.Greeting,
	}

	// Sessions are rejected in CONNECTING while credentials are missing, so
	// the server still starts and reports its state on /health.
	if err := cfg.Credentials.Validate(); err != nil {
		logger.Warn("Provider credentials incomplete, sessions will be rejected", zap.Error(err))
	} else {
		speechToText, err := newSpeechToText(cfg.Credentials.STTProvider, logger)
		if err != nil {
			logger.Fatal("Failed to initialize speech-to-text", zap.Error(err))
		}
		languageModel, err := newLanguageModel(ctx, cfg.Credentials.LLMProvider, logger)
		if err != nil {
			logger.Fatal("Failed to initialize language model", zap.Error(err))
		}
		textToSpeech, err := newTextToSpeech(cfg.Credentials.TTSProvider, logger)
		if err != nil {
			logger.Fatal("Failed to initialize text-to-speech", zap.Error(err))
		}

		skillSet := skills.Default(skills.Config{
			WeatherAPIKey: cfg.Credentials.WeatherKey,
			TavilyAPIKey:  cfg.Credentials.TavilyKey,
		}, logger)

		hubConfig.STT = speechToText
		hubConfig.Conversation = usecase.NewConversationService(languageModel, skillSet, transcripts, persona.SystemPrompt, logger)
		hubConfig.Relay = usecase.NewRelayService(textToSpeech, usecase.RelayConfig{
			Voice:         persona.Voice,
			AudioFormat:   textToSpeech.AudioFormat(),
			FallbackAudio: loadFallbackAudio(cfg.FallbackAudioPath, logger),
		}, logger)

		logger.Info("Providers initialized",
			zap.String("stt", cfg.Credentials.STTProvider),
			zap.String("llm", cfg.Credentials.LLMProvider),
			zap.String("tts", cfg.Credentials.TTSProvider),
			zap.Int("skills", len(skillSet)))
	}

	hub := websocket.NewHub(hubConfig, logger)

	history := usecase.NewHistoryService(transcripts, cfg.TranscriptRetention, logger)
	cleanup := websocket.NewSessionCleanupService(history, 0, 0, logger)
	if transcripts != nil {
		cleanup.Start()
		defer cleanup.Stop()
	}

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	signer := auth.NewSigner(cfg.JWTSecret, 0)
	if !signer.Enabled() {
		logger.Info("JWT_SECRET not set, /ws accepts unauthenticated clients")
	}

	api.InitRoutes(e, api.Dependencies{
		Hub:     hub,
		History: history,
		APIs:    cfg.Credentials.Configured,
		Signer:  signer,
	}, logger)

	// Graceful shutdown
	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Server started",
		zap.String("port", cfg.Port),
		zap.String("persona", persona.Name),
		zap.String("transcriptStore", cfg.TranscriptStore))

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Server is shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := hub.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Sessions did not drain in time", zap.Error(err))
	}
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

func newSpeechToText(provider string, logger *zap.Logger) (repositories.SpeechToText, error) {
	switch provider {
	case config.ProviderAssemblyAI:
		return stt.NewAssemblyAISpeechToText(stt.NewAssemblyAIConfigFromEnv(), logger)
	case config.ProviderGoogle:
		return stt.NewGoogleSpeechToText(stt.NewGoogleConfigFromEnv(), logger)
	case config.ProviderMock:
		return stt.NewMockSpeechToText([]repositories.TurnEvent{
			{Text: "What is the weather in", Confidence: 0.6},
			{Text: "What is the weather in Paris?", EndOfTurn: true, Formatted: true, Confidence: 0.95},
		}, logger), nil
	}
	return nil, fmt.Errorf("unknown STT provider %q", provider)
}

func newLanguageModel(ctx context.Context, provider string, logger *zap.Logger) (repositories.LargeLanguageModel, error) {
	switch provider {
	case config.ProviderGemini:
		return llm.NewGeminiLLM(ctx, llm.NewGeminiConfigFromEnv(), logger)
	case config.ProviderOpenAI:
		return llm.NewOpenAILLM(llm.NewOpenAIConfigFromEnv(), logger)
	case config.ProviderMock:
		return llm.NewMockLLM(logger), nil
	}
	return nil, fmt.Errorf("unknown LLM provider %q", provider)
}

func newTextToSpeech(provider string, logger *zap.Logger) (audioTextToSpeech, error) {
	switch provider {
	case config.ProviderMurf:
		return tts.NewMurfTTS(tts.NewMurfConfigFromEnv(), logger)
	case config.ProviderElevenLabs:
		return tts.NewElevenLabsTTS(tts.NewElevenLabsConfigFromEnv(), logger)
	case config.ProviderMock:
		return tts.NewMockTextToSpeech(3, logger), nil
	}
	return nil, fmt.Errorf("unknown TTS provider %q", provider)
}

// newTranscriptStore opens the configured log. A nil repository means
// transcripts are not persisted.
func newTranscriptStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (repositories.TranscriptRepository, func(), error) {
	noop := func() {}

	switch cfg.TranscriptStore {
	case config.StoreNone:
		return nil, noop, nil

	case config.StoreMemory:
		return adapters.NewMemoryTranscriptRepository(), noop, nil

	case config.StoreMongo:
		client, err := mongostore.NewClient(ctx, mongostore.NewConfigFromEnv(), logger)
		if err != nil {
			return nil, noop, err
		}
		closeFn := func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := client.Close(closeCtx); err != nil {
				logger.Warn("Failed to disconnect from MongoDB", zap.Error(err))
			}
		}
		return mongostore.NewTranscriptRepository(client.Database, logger), closeFn, nil

	case config.StoreRedis:
		client, err := redisstore.NewClientFromEnv()
		if err != nil {
			return nil, noop, err
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, noop, fmt.Errorf("failed to reach redis: %w", err)
		}
		closeFn := func() {
			if err := client.Close(); err != nil {
				logger.Warn("Failed to close redis client", zap.Error(err))
			}
		}
		return redisstore.NewTranscriptRepository(client, cfg.TranscriptRetention), closeFn, nil

	case config.StoreBadger:
		repo, err := badgerstore.NewTranscriptRepository(badgerstore.Options{Dir: cfg.BadgerDir}, logger)
		if err != nil {
			return nil, noop, err
		}
		closeFn := func() {
			if err := repo.Close(); err != nil {
				logger.Warn("Failed to close badger", zap.Error(err))
			}
		}
		return repo, closeFn, nil
	}

	return nil, noop, fmt.Errorf("unknown transcript store %q", cfg.TranscriptStore)
}

// loadFallbackAudio reads the clip played when synthesis fails. A missing
// file disables the clip.
func loadFallbackAudio(path string, logger *zap.Logger) []byte {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("Fallback audio unavailable", zap.String("path", path), zap.Error(err))
		return nil
	}
	logger.Info("Loaded fallback audio", zap.String("path", path), zap.Int("bytes", len(data)))
	return data
}
