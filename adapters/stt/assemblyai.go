package stt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/satriahrh/voicerelay/domain"
	"github.com/satriahrh/voicerelay/domain/repositories"
)

const (
	defaultAssemblyAIURL        = "wss://streaming.assemblyai.com/v3/ws"
	defaultAssemblyAISampleRate = 16000
	defaultPullTimeout          = 100 * time.Millisecond
	defaultTerminateTimeout     = 3 * time.Second
	handshakeTimeout            = 10 * time.Second
	writeWait                   = 5 * time.Second

	// AssemblyAI accepts audio messages between 50ms and 1000ms long
	minChunkDuration = 50 * time.Millisecond
	maxChunkDuration = 1000 * time.Millisecond
)

var errStreamClosed = errors.New("stream closed")

// AssemblyAIConfig holds configuration for the AssemblyAI realtime adapter
// Required fields:
// - APIKey: AssemblyAI API key
// Optional fields with defaults:
// - URL: streaming endpoint (default: "wss://streaming.assemblyai.com/v3/ws")
// - SampleRate: PCM16 sample rate (default: 16000)
// - FormatTurns: ask for punctuated end-of-turn transcripts (default: true)
type AssemblyAIConfig struct {
	APIKey      string
	URL         string
	SampleRate  int
	FormatTurns bool
	PullTimeout time.Duration
}

// ValidateAssemblyAIConfig validates the AssemblyAIConfig
func ValidateAssemblyAIConfig(config AssemblyAIConfig) error {
	if config.APIKey == "" {
		return fmt.Errorf("%w: assemblyai API key is required", domain.ErrConfig)
	}
	if config.SampleRate < 0 {
		return fmt.Errorf("%w: sample rate must be positive, got %d", domain.ErrConfig, config.SampleRate)
	}
	if config.URL != "" {
		if _, err := url.Parse(config.URL); err != nil {
			return fmt.Errorf("%w: invalid assemblyai url: %v", domain.ErrConfig, err)
		}
	}
	return nil
}

// NewAssemblyAIConfigFromEnv creates a new AssemblyAIConfig from environment variables
func NewAssemblyAIConfigFromEnv() AssemblyAIConfig {
	config := AssemblyAIConfig{
		APIKey:      os.Getenv("ASSEMBLYAI_API_KEY"),
		URL:         os.Getenv("ASSEMBLYAI_URL"),
		FormatTurns: true,
	}

	if v := os.Getenv("ASSEMBLYAI_SAMPLE_RATE"); v != "" {
		if rate, err := strconv.Atoi(v); err == nil && rate > 0 {
			config.SampleRate = rate
		}
	}
	if v := os.Getenv("ASSEMBLYAI_FORMAT_TURNS"); v != "" {
		if formatTurns, err := strconv.ParseBool(v); err == nil {
			config.FormatTurns = formatTurns
		}
	}

	return config
}

// AssemblyAISpeechToText implements SpeechToText with AssemblyAI's v3 realtime API
type AssemblyAISpeechToText struct {
	apiKey      string
	url         string
	sampleRate  int
	formatTurns bool
	pullTimeout time.Duration
	dialer      *websocket.Dialer
	logger      *zap.Logger
}

var _ repositories.SpeechToText = (*AssemblyAISpeechToText)(nil)

// NewAssemblyAISpeechToText creates a new AssemblyAI adapter
func NewAssemblyAISpeechToText(config AssemblyAIConfig, logger *zap.Logger) (*AssemblyAISpeechToText, error) {
	if err := ValidateAssemblyAIConfig(config); err != nil {
		return nil, err
	}

	endpoint := config.URL
	if endpoint == "" {
		endpoint = defaultAssemblyAIURL
		logger.Info("Using default AssemblyAI URL", zap.String("url", endpoint))
	}

	sampleRate := config.SampleRate
	if sampleRate == 0 {
		sampleRate = defaultAssemblyAISampleRate
		logger.Info("Using default sample rate", zap.Int("sampleRate", sampleRate))
	}

	pullTimeout := config.PullTimeout
	if pullTimeout == 0 {
		pullTimeout = defaultPullTimeout
	}

	return &AssemblyAISpeechToText{
		apiKey:      config.APIKey,
		url:         endpoint,
		sampleRate:  sampleRate,
		formatTurns: config.FormatTurns,
		pullTimeout: pullTimeout,
		dialer:      &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		logger:      logger,
	}, nil
}

// Connect opens a realtime session
func (a *AssemblyAISpeechToText) Connect(ctx context.Context, config repositories.AudioConfig) (repositories.SpeechToTextStreaming, error) {
	sampleRate := a.sampleRate
	if config.SampleRate > 0 {
		sampleRate = config.SampleRate
	}

	u, err := url.Parse(a.url)
	if err != nil {
		return nil, domain.NewStageError(domain.ErrTranscription, err)
	}
	q := u.Query()
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	q.Set("encoding", "pcm_s16le")
	q.Set("format_turns", strconv.FormatBool(a.formatTurns))
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", a.apiKey)

	conn, resp, err := a.dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, domain.NewStageError(domain.ErrTranscription, err)
	}

	bytesPerSecond := sampleRate * 2
	a.logger.Info("Connected to AssemblyAI", zap.Int("sampleRate", sampleRate))

	return &assemblyAIStream{
		conn:        conn,
		pullTimeout: a.pullTimeout,
		minChunk:    int(int64(bytesPerSecond) * int64(minChunkDuration) / int64(time.Second)),
		maxChunk:    int(int64(bytesPerSecond) * int64(maxChunkDuration) / int64(time.Second)),
		logger:      a.logger,
	}, nil
}

// assemblyAIMessage covers every server message type of the v3 API
type assemblyAIMessage struct {
	Type                 string  `json:"type"`
	ID                   string  `json:"id"`
	ExpiresAt            int64   `json:"expires_at"`
	Transcript           string  `json:"transcript"`
	EndOfTurn            bool    `json:"end_of_turn"`
	TurnIsFormatted      bool    `json:"turn_is_formatted"`
	EndOfTurnConfidence  float64 `json:"end_of_turn_confidence"`
	AudioDurationSeconds float64 `json:"audio_duration_seconds"`
	Error                string  `json:"error"`
}

type assemblyAIStream struct {
	conn        *websocket.Conn
	pullTimeout time.Duration
	minChunk    int
	maxChunk    int
	logger      *zap.Logger

	writeMu    sync.Mutex
	terminated bool
	closed     bool
	closeOnce  sync.Once
}

// Stream pumps frames to AssemblyAI until source ends, then sends Terminate
// and waits briefly for the Termination message. The reader goroutine has
// exited by the time Stream returns, so events has no writer left.
func (s *assemblyAIStream) Stream(ctx context.Context, source repositories.AudioSource, events chan<- repositories.TranscriptEvent) error {
	stop := make(chan struct{})
	readErr := make(chan error, 1)
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		readErr <- s.readLoop(ctx, events, stop)
	}()
	defer func() {
		close(stop)
		// Unblocks a pending ReadMessage; the connection itself stays open
		// until Close.
		_ = s.conn.SetReadDeadline(time.Now())
		<-readDone
	}()

	var pending []byte
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return err
		default:
		}

		frame, ok := source.Pull(s.pullTimeout)
		if !ok {
			if len(pending) > 0 {
				_ = s.writeAudio(pending)
			}
			if err := s.terminate(); err != nil {
				return domain.NewStageError(domain.ErrTranscription, err)
			}
			select {
			case err := <-readErr:
				return err
			case <-ctx.Done():
				return nil
			case <-time.After(defaultTerminateTimeout):
				s.logger.Warn("Timed out waiting for AssemblyAI termination")
				return nil
			}
		}

		pending = append(pending, frame...)
		for len(pending) >= s.minChunk {
			n := min(len(pending), s.maxChunk)
			if err := s.writeAudio(pending[:n]); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return domain.NewStageError(domain.ErrTranscription, err)
			}
			pending = pending[n:]
		}
	}
}

func (s *assemblyAIStream) readLoop(ctx context.Context, events chan<- repositories.TranscriptEvent, stop <-chan struct{}) error {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-stop:
				return nil
			default:
			}
			if ctx.Err() != nil || s.isClosed() || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return domain.NewStageError(domain.ErrTranscription, err)
		}

		var msg assemblyAIMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("Failed to parse AssemblyAI message", zap.Error(err))
			continue
		}

		var event repositories.TranscriptEvent
		switch msg.Type {
		case "Begin":
			s.logger.Info("AssemblyAI session started", zap.String("id", msg.ID))
			event = repositories.BeginEvent{ID: msg.ID, ExpiresAt: time.Unix(msg.ExpiresAt, 0)}
		case "Turn":
			if msg.Transcript == "" {
				continue
			}
			event = repositories.TurnEvent{
				Text:       msg.Transcript,
				EndOfTurn:  msg.EndOfTurn,
				Formatted:  msg.TurnIsFormatted,
				Confidence: msg.EndOfTurnConfidence,
			}
		case "Termination":
			s.logger.Info("AssemblyAI session terminated",
				zap.Float64("audioDurationSeconds", msg.AudioDurationSeconds))
			event = repositories.TerminationEvent{
				AudioDuration: time.Duration(msg.AudioDurationSeconds * float64(time.Second)),
			}
		default:
			if msg.Error == "" {
				s.logger.Debug("Ignoring AssemblyAI message", zap.String("type", msg.Type))
				continue
			}
			event = repositories.ErrorEvent{Err: domain.NewStageError(domain.ErrTranscription, errors.New(msg.Error))}
		}

		select {
		case events <- event:
		case <-ctx.Done():
			return nil
		case <-stop:
			return nil
		}

		if _, ok := event.(repositories.TerminationEvent); ok {
			return nil
		}
	}
}

func (s *assemblyAIStream) writeAudio(frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return errStreamClosed
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (s *assemblyAIStream) writeJSON(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return errStreamClosed
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(v)
}

func (s *assemblyAIStream) terminate() error {
	s.writeMu.Lock()
	if s.terminated || s.closed {
		s.writeMu.Unlock()
		return nil
	}
	s.terminated = true
	s.writeMu.Unlock()

	return s.writeJSON(map[string]string{"type": "Terminate"})
}

// ForceEndpoint asks AssemblyAI to end the current turn immediately
func (s *assemblyAIStream) ForceEndpoint() error {
	return s.writeJSON(map[string]string{"type": "ForceEndpoint"})
}

func (s *assemblyAIStream) isClosed() bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.closed
}

// Close sends Terminate if it has not been sent and closes the connection
func (s *assemblyAIStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if terr := s.terminate(); terr != nil {
			s.logger.Debug("Failed to send AssemblyAI terminate", zap.Error(terr))
		}
		s.writeMu.Lock()
		s.closed = true
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}
