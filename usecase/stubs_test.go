package usecase

import (
	"context"
	"errors"
	"iter"
	"sync"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/satriahrh/voicerelay/domain"
	"github.com/satriahrh/voicerelay/domain/entities"
	"github.com/satriahrh/voicerelay/domain/repositories"
)

type stubLLM struct {
	chunks   []repositories.ChatChunk
	err      error
	requests []repositories.ChatRequest
}

func (s *stubLLM) Generate(ctx context.Context, req repositories.ChatRequest) iter.Seq2[repositories.ChatChunk, error] {
	s.requests = append(s.requests, req)
	return func(yield func(repositories.ChatChunk, error) bool) {
		for _, c := range s.chunks {
			if !yield(c, nil) {
				return
			}
		}
		if s.err != nil {
			yield(repositories.ChatChunk{}, s.err)
		}
	}
}

type stubSkill struct {
	name  string
	reply string
	err   error
	calls []map[string]any
}

func (s *stubSkill) Declaration() repositories.ToolDeclaration {
	return repositories.ToolDeclaration{
		Name:        s.name,
		Description: "stub skill",
		Parameters:  &jsonschema.Schema{Type: "object"},
	}
}

func (s *stubSkill) Call(ctx context.Context, args map[string]any) (string, error) {
	s.calls = append(s.calls, args)
	return s.reply, s.err
}

type memoryTranscripts struct {
	mu      sync.Mutex
	entries []entities.TranscriptEntry
	err     error
}

func (m *memoryTranscripts) Append(ctx context.Context, entry entities.TranscriptEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memoryTranscripts) Recent(ctx context.Context, sessionID string, limit int) ([]entities.TranscriptEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []entities.TranscriptEntry
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if m.entries[i].SessionID == sessionID {
			out = append(out, m.entries[i])
		}
	}
	return out, m.err
}

func (m *memoryTranscripts) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.entries[:0]
	var removed int64
	for _, e := range m.entries {
		if e.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept
	return removed, m.err
}

type stubTTS struct {
	messages   []repositories.SynthesisMessage
	connectErr error
	recvErr    error

	voice repositories.VoiceConfig
	texts []string
}

func (s *stubTTS) Connect(ctx context.Context) (repositories.SynthesisStream, error) {
	if s.connectErr != nil {
		return nil, s.connectErr
	}
	return &stubSynthesisStream{tts: s}, nil
}

type stubSynthesisStream struct {
	tts  *stubTTS
	next int
}

func (s *stubSynthesisStream) Configure(voice repositories.VoiceConfig) error {
	s.tts.voice = voice
	return nil
}

func (s *stubSynthesisStream) SendText(text string, end bool) error {
	s.tts.texts = append(s.tts.texts, text)
	return nil
}

func (s *stubSynthesisStream) Recv() (repositories.SynthesisMessage, error) {
	if s.next >= len(s.tts.messages) {
		if s.tts.recvErr != nil {
			return repositories.SynthesisMessage{}, s.tts.recvErr
		}
		return repositories.SynthesisMessage{}, errors.New("stream exhausted")
	}
	msg := s.tts.messages[s.next]
	s.next++
	return msg, nil
}

func (s *stubSynthesisStream) Close() error { return nil }

// recordingSink collects outbound messages; after closeAfter sends it reports
// the client as gone
type recordingSink struct {
	messages   []any
	closeAfter int
}

func (s *recordingSink) SendJSON(ctx context.Context, v any) error {
	if s.closeAfter > 0 && len(s.messages) >= s.closeAfter {
		return domain.ErrClientClosed
	}
	s.messages = append(s.messages, v)
	return nil
}
