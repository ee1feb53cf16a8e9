package stt

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/voicerelay/domain/repositories"
)

// MockSpeechToText replays a fixed script of transcript events. The script is
// published once the first non-silent frame is pulled.
type MockSpeechToText struct {
	Script     []repositories.TurnEvent
	ConnectErr error

	mu      sync.Mutex
	streams []*MockSpeechToTextStream
	logger  *zap.Logger
}

// NewMockSpeechToText creates a new mock speech-to-text service
func NewMockSpeechToText(script []repositories.TurnEvent, logger *zap.Logger) *MockSpeechToText {
	return &MockSpeechToText{
		Script: script,
		logger: logger,
	}
}

// Connect creates a new mock streaming session
func (m *MockSpeechToText) Connect(ctx context.Context, config repositories.AudioConfig) (repositories.SpeechToTextStreaming, error) {
	if m.ConnectErr != nil {
		return nil, m.ConnectErr
	}

	m.logger.Info("Initializing mock streaming transcription",
		zap.Int("sampleRate", config.SampleRate),
		zap.String("language", config.Language))

	stream := &MockSpeechToTextStream{script: m.Script, logger: m.logger}
	m.mu.Lock()
	m.streams = append(m.streams, stream)
	m.mu.Unlock()
	return stream, nil
}

// Streams returns every session opened so far
func (m *MockSpeechToText) Streams() []*MockSpeechToTextStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*MockSpeechToTextStream, len(m.streams))
	copy(out, m.streams)
	return out
}

// MockSpeechToTextStream is a mock implementation of streaming speech recognition
type MockSpeechToTextStream struct {
	script []repositories.TurnEvent
	logger *zap.Logger

	frames         atomic.Int64
	forcedEndpoint atomic.Int64
	closed         atomic.Bool
}

// Stream publishes Begin, then the script after the first non-silent frame,
// and Termination when the source ends
func (m *MockSpeechToTextStream) Stream(ctx context.Context, source repositories.AudioSource, events chan<- repositories.TranscriptEvent) error {
	publish := func(ev repositories.TranscriptEvent) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if !publish(repositories.BeginEvent{ID: "mock", ExpiresAt: time.Now().Add(time.Hour)}) {
		return nil
	}

	played := false
	for {
		if ctx.Err() != nil {
			return nil
		}
		frame, ok := source.Pull(defaultPullTimeout)
		if !ok {
			publish(repositories.TerminationEvent{})
			return nil
		}
		m.frames.Add(1)

		if played || isSilent(frame) {
			continue
		}
		played = true
		for _, ev := range m.script {
			if !publish(ev) {
				return nil
			}
		}
	}
}

// ForceEndpoint records the request
func (m *MockSpeechToTextStream) ForceEndpoint() error {
	m.forcedEndpoint.Add(1)
	return nil
}

// Close marks the stream as terminated
func (m *MockSpeechToTextStream) Close() error {
	m.closed.Store(true)
	return nil
}

// Frames returns the number of frames pulled, silence included
func (m *MockSpeechToTextStream) Frames() int64 { return m.frames.Load() }

// ForcedEndpoints returns how many times ForceEndpoint was called
func (m *MockSpeechToTextStream) ForcedEndpoints() int64 { return m.forcedEndpoint.Load() }

// Closed reports whether Close was called
func (m *MockSpeechToTextStream) Closed() bool { return m.closed.Load() }

func isSilent(frame []byte) bool {
	for _, b := range frame {
		if b != 0 {
			return false
		}
	}
	return true
}
