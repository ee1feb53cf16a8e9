package tts

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/voicerelay/domain/repositories"
)

// MockTextToSpeech produces ChunksPerText fake audio chunks for every text.
// FailAfter > 0 makes Recv fail after that many chunks.
type MockTextToSpeech struct {
	ChunksPerText int
	FailAfter     int
	ConnectErr    error
	logger        *zap.Logger

	mu    sync.Mutex
	texts []string
}

var _ repositories.TextToSpeech = (*MockTextToSpeech)(nil)

// NewMockTextToSpeech creates a new mock TTS
func NewMockTextToSpeech(chunksPerText int, logger *zap.Logger) *MockTextToSpeech {
	return &MockTextToSpeech{ChunksPerText: chunksPerText, logger: logger}
}

// AudioFormat reports the container of the produced audio
func (m *MockTextToSpeech) AudioFormat() string {
	return "WAV"
}

// Connect implements repositories.TextToSpeech
func (m *MockTextToSpeech) Connect(ctx context.Context) (repositories.SynthesisStream, error) {
	if m.ConnectErr != nil {
		return nil, m.ConnectErr
	}
	return &mockSynthesisStream{ctx: ctx, owner: m}, nil
}

// Texts returns every text sent for synthesis
func (m *MockTextToSpeech) Texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.texts...)
}

type mockSynthesisStream struct {
	ctx     context.Context
	owner   *MockTextToSpeech
	pending bool
	sent    int
}

func (s *mockSynthesisStream) Configure(voice repositories.VoiceConfig) error {
	return nil
}

func (s *mockSynthesisStream) SendText(text string, end bool) error {
	s.owner.mu.Lock()
	s.owner.texts = append(s.owner.texts, text)
	s.owner.mu.Unlock()
	s.owner.logger.Debug("Mock synthesis", zap.String("text", text))
	s.pending = true
	return nil
}

func (s *mockSynthesisStream) Recv() (repositories.SynthesisMessage, error) {
	if err := s.ctx.Err(); err != nil {
		return repositories.SynthesisMessage{}, err
	}
	if !s.pending {
		return repositories.SynthesisMessage{}, errors.New("no text sent")
	}
	if s.owner.FailAfter > 0 && s.sent >= s.owner.FailAfter {
		return repositories.SynthesisMessage{}, errors.New("mock synthesis failure")
	}
	if s.sent >= s.owner.ChunksPerText {
		return repositories.SynthesisMessage{Final: true}, nil
	}
	s.sent++
	return repositories.SynthesisMessage{Audio: []byte{'R', 'I', 'F', 'F', byte(s.sent)}}, nil
}

func (s *mockSynthesisStream) Close() error {
	return nil
}
