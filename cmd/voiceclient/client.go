package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/satriahrh/voicerelay/internal/auth"
)

const (
	sampleRate     = 16000
	bytesPerSample = 2
)

type options struct {
	url             string
	audioPath       string
	outDir          string
	token           string
	clientID        string
	turns           int
	frame           time.Duration
	trailingSilence time.Duration
	timeout         time.Duration
	endTurn         bool
	verbose         bool
}

func defaultOptions() *options {
	return &options{
		url:             "ws://localhost:8080/ws",
		outDir:          ".",
		clientID:        "voiceclient",
		turns:           1,
		frame:           100 * time.Millisecond,
		trailingSilence: 1500 * time.Millisecond,
		timeout:         time.Minute,
		endTurn:         true,
	}
}

// inbound is the union of every server message the client understands
type inbound struct {
	Type        string  `json:"type"`
	SessionID   string  `json:"session_id"`
	Transcript  string  `json:"transcript"`
	EndOfTurn   bool    `json:"end_of_turn"`
	IsPartial   bool    `json:"is_partial"`
	Confidence  float64 `json:"confidence"`
	Text        string  `json:"text"`
	ChunkIndex  int     `json:"chunk_index"`
	Base64Audio string  `json:"base64_audio"`
	TotalChunks int     `json:"total_chunks"`
	AudioFormat string  `json:"audio_format"`
	Fallback    bool    `json:"fallback"`
	Code        string  `json:"code"`
	Message     string  `json:"message"`
}

func run(parent context.Context, opts *options, logger *zap.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	audio, err := os.ReadFile(opts.audioPath)
	if err != nil {
		return fmt.Errorf("failed to read audio: %w", err)
	}
	if err := os.MkdirAll(opts.outDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	token, err := sessionToken(opts)
	if err != nil {
		return err
	}
	headers := http.Header{}
	if token != "" {
		headers.Set("Authorization", "Bearer "+token)
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, opts.url, headers)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("websocket connection failed with status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("websocket connection failed: %w", err)
	}
	defer conn.Close()
	logger.Info("Connected", zap.String("url", opts.url))

	replies := make(chan string, opts.turns)
	readErr := make(chan error, 1)
	go func() {
		readErr <- receive(conn, opts.outDir, replies, logger)
	}()

	streamCtx, stopStream := context.WithCancel(ctx)
	streamDone := make(chan error, 1)
	go func() {
		streamDone <- stream(streamCtx, conn, audio, opts, logger)
	}()

	received := 0
	var runErr error
wait:
	for received < opts.turns {
		select {
		case path := <-replies:
			received++
			fmt.Printf("[saved] %s\n", path)
		case err := <-readErr:
			runErr = err
			break wait
		case <-ctx.Done():
			runErr = ctx.Err()
			break wait
		}
	}

	stopStream()
	if err := <-streamDone; err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("Streaming stopped early", zap.Error(err))
	}

	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)

	if runErr != nil && received < opts.turns {
		return fmt.Errorf("received %d of %d replies: %w", received, opts.turns, runErr)
	}
	return nil
}

func sessionToken(opts *options) (string, error) {
	if opts.token != "" {
		return opts.token, nil
	}
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return "", nil
	}
	token, err := auth.NewSigner(secret, time.Hour).GenerateSessionToken(opts.clientID)
	if err != nil {
		return "", fmt.Errorf("failed to mint session token: %w", err)
	}
	return token, nil
}

// stream sends the file in real time, then trailing silence and end_turn.
// It owns every write to conn until it returns.
func stream(ctx context.Context, conn *websocket.Conn, audio []byte, opts *options, logger *zap.Logger) error {
	frameSize := int(int64(sampleRate*bytesPerSample) * int64(opts.frame) / int64(time.Second))
	if frameSize <= 0 {
		return fmt.Errorf("frame duration %s is too short", opts.frame)
	}

	silence := make([]byte, int(int64(sampleRate*bytesPerSample)*int64(opts.trailingSilence)/int64(time.Second)))
	payload := append(append([]byte{}, audio...), silence...)

	ticker := time.NewTicker(opts.frame)
	defer ticker.Stop()

	frames := 0
	for start := 0; start < len(payload); start += frameSize {
		end := min(start+frameSize, len(payload))
		if err := conn.WriteMessage(websocket.BinaryMessage, payload[start:end]); err != nil {
			return err
		}
		frames++

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	logger.Info("Audio streamed", zap.Int("frames", frames), zap.Int("bytes", len(audio)))

	if opts.endTurn {
		if err := conn.WriteJSON(map[string]string{"type": "end_turn"}); err != nil {
			return err
		}
	}

	<-ctx.Done()
	return ctx.Err()
}

// receive prints server messages and saves each reply's audio. A reply is
// counted only after the user said something, so a greeting is not.
func receive(conn *websocket.Conn, outDir string, replies chan<- string, logger *zap.Logger) error {
	var (
		heardUser bool
		audio     []byte
		saved     int
	)

	for {
		var msg inbound
		if err := conn.ReadJSON(&msg); err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				return fmt.Errorf("server closed the session: %d %s", closeErr.Code, closeErr.Text)
			}
			return err
		}

		switch msg.Type {
		case "session_started":
			fmt.Printf("[session] %s\n", msg.SessionID)
		case "transcript":
			if msg.IsPartial {
				logger.Debug("Partial transcript", zap.String("text", msg.Transcript))
				continue
			}
			heardUser = true
			fmt.Printf("[you] %s (%.2f)\n", msg.Transcript, msg.Confidence)
		case "assistant_message":
			fmt.Printf("[assistant] %s\n", msg.Text)
		case "audio_chunk":
			chunk, err := decodeAudio(msg.Base64Audio)
			if err != nil {
				logger.Warn("Dropping undecodable chunk", zap.Int("chunkIndex", msg.ChunkIndex), zap.Error(err))
				continue
			}
			audio = append(audio, chunk...)
		case "audio_complete":
			if len(audio) == 0 {
				logger.Warn("Reply had no audio", zap.Int("totalChunks", msg.TotalChunks))
			}
			if !heardUser {
				audio = audio[:0]
				continue
			}
			saved++
			name := fmt.Sprintf("reply-%d.%s", saved, strings.ToLower(msg.AudioFormat))
			path := filepath.Join(outDir, name)
			if err := os.WriteFile(path, audio, 0o644); err != nil {
				return fmt.Errorf("failed to save reply: %w", err)
			}
			audio = nil
			select {
			case replies <- path:
			default:
			}
		case "info", "error":
			fmt.Printf("[%s] %s\n", msg.Type, msg.Message)
		case "pong":
		default:
			logger.Debug("Unhandled message", zap.String("type", msg.Type))
		}
	}
}
