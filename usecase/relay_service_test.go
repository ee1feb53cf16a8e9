package usecase

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/voicerelay/domain"
	"github.com/satriahrh/voicerelay/domain/repositories"
)

var testVoice = repositories.VoiceConfig{VoiceID: "en-US-amara", Style: "Conversational", Variation: 1}

func TestRelayService_RelaysChunksInOrder(t *testing.T) {
	tts := &stubTTS{messages: []repositories.SynthesisMessage{
		{Audio: []byte("chunk-one")},
		{Audio: []byte("chunk-two")},
		{Audio: []byte("chunk-three"), Final: true},
	}}
	relay := NewRelayService(tts, RelayConfig{Voice: testVoice}, zaptest.NewLogger(t))
	sink := &recordingSink{}

	res, err := relay.Relay(context.Background(), sink, "Hello there")
	if err != nil {
		t.Fatalf("Relay() error = %v", err)
	}

	if tts.voice != testVoice {
		t.Errorf("Expected voice config to be sent, got %+v", tts.voice)
	}
	if len(tts.texts) != 1 || tts.texts[0] != "Hello there" {
		t.Errorf("Expected full text in one message, got %v", tts.texts)
	}

	if res.Chunks != 3 {
		t.Errorf("Expected 3 chunks, got %d", res.Chunks)
	}
	if len(sink.messages) != 4 {
		t.Fatalf("Expected 3 chunks and 1 completion, got %d messages", len(sink.messages))
	}

	want := []string{"chunk-one", "chunk-two", "chunk-three"}
	total := 0
	for i, w := range want {
		chunk, ok := sink.messages[i].(domain.AudioChunkMessage)
		if !ok {
			t.Fatalf("Expected audio chunk at %d, got %T", i, sink.messages[i])
		}
		if chunk.ChunkIndex != i+1 {
			t.Errorf("Expected chunk index %d, got %d", i+1, chunk.ChunkIndex)
		}
		decoded, _ := base64.StdEncoding.DecodeString(chunk.Base64Audio)
		if string(decoded) != w {
			t.Errorf("Expected chunk %q, got %q", w, decoded)
		}
		total += len(chunk.Base64Audio)
	}

	complete, ok := sink.messages[3].(domain.AudioCompleteMessage)
	if !ok {
		t.Fatalf("Expected completion message, got %T", sink.messages[3])
	}
	if complete.TotalChunks != 3 || complete.TotalBase64Chars != total {
		t.Errorf("Unexpected completion %+v", complete)
	}
	if complete.AudioFormat != "WAV" {
		t.Errorf("Expected WAV format, got %s", complete.AudioFormat)
	}
}

func TestRelayService_EmptyTextIsSkipped(t *testing.T) {
	tts := &stubTTS{connectErr: errors.New("should not connect")}
	relay := NewRelayService(tts, RelayConfig{}, zaptest.NewLogger(t))
	sink := &recordingSink{}

	if _, err := relay.Relay(context.Background(), sink, "  "); err != nil {
		t.Fatalf("Relay() error = %v", err)
	}
	if len(sink.messages) != 0 {
		t.Errorf("Expected no messages, got %d", len(sink.messages))
	}
}

func TestRelayService_ClientClosedAborts(t *testing.T) {
	tts := &stubTTS{messages: []repositories.SynthesisMessage{
		{Audio: []byte("a")},
		{Audio: []byte("b")},
		{Audio: []byte("c"), Final: true},
	}}
	relay := NewRelayService(tts, RelayConfig{}, zaptest.NewLogger(t))
	sink := &recordingSink{closeAfter: 1}

	res, err := relay.Relay(context.Background(), sink, "Hello")
	if err != nil {
		t.Fatalf("Expected client close to not be an error, got %v", err)
	}
	if !res.Aborted {
		t.Error("Expected relay to be aborted")
	}
	if len(sink.messages) != 1 {
		t.Errorf("Expected only the first chunk to be delivered, got %d", len(sink.messages))
	}
}

func TestRelayService_SynthesisFailureWithoutClip(t *testing.T) {
	tts := &stubTTS{connectErr: errors.New("dial failed")}
	relay := NewRelayService(tts, RelayConfig{}, zaptest.NewLogger(t))
	sink := &recordingSink{}

	res, err := relay.Relay(context.Background(), sink, "Hello")
	if !errors.Is(err, domain.ErrSynthesis) {
		t.Fatalf("Expected synthesis error, got %v", err)
	}
	if res.Fallback {
		t.Error("Did not expect fallback clip")
	}
	if len(sink.messages) != 2 {
		t.Fatalf("Expected advisory and completion, got %d messages", len(sink.messages))
	}
	info, ok := sink.messages[0].(domain.InfoMessage)
	if !ok || info.Message != domain.FallbackSynthesis {
		t.Errorf("Expected synthesis advisory, got %+v", sink.messages[0])
	}
	complete, ok := sink.messages[1].(domain.AudioCompleteMessage)
	if !ok || complete.TotalChunks != 0 {
		t.Errorf("Expected empty completion, got %+v", sink.messages[1])
	}
}

func TestRelayService_MidStreamFailureUsesFallbackClip(t *testing.T) {
	tts := &stubTTS{
		messages: []repositories.SynthesisMessage{{Audio: []byte("first")}},
		recvErr:  errors.New("connection reset"),
	}
	clip := make([]byte, fallbackClipChunkSize+10)
	relay := NewRelayService(tts, RelayConfig{FallbackAudio: clip}, zaptest.NewLogger(t))
	sink := &recordingSink{}

	res, err := relay.Relay(context.Background(), sink, "Hello")
	if !errors.Is(err, domain.ErrSynthesis) {
		t.Fatalf("Expected synthesis error, got %v", err)
	}
	if !res.Fallback {
		t.Error("Expected fallback clip to be used")
	}
	// one provider chunk, two clip chunks, one completion
	if len(sink.messages) != 4 {
		t.Fatalf("Expected 4 messages, got %d", len(sink.messages))
	}
	complete, ok := sink.messages[3].(domain.AudioCompleteMessage)
	if !ok {
		t.Fatalf("Expected completion, got %T", sink.messages[3])
	}
	if !complete.Fallback || complete.AudioFormat != "MP3" || complete.TotalChunks != 3 {
		t.Errorf("Unexpected completion %+v", complete)
	}
}

func TestRelayService_CancelledContextSendsNothing(t *testing.T) {
	tts := &stubTTS{connectErr: context.Canceled}
	relay := NewRelayService(tts, RelayConfig{FallbackAudio: []byte("clip")}, zaptest.NewLogger(t))
	sink := &recordingSink{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := relay.Relay(ctx, sink, "Hello")
	if err != nil {
		t.Fatalf("Expected cancellation to not be an error, got %v", err)
	}
	if !res.Aborted {
		t.Error("Expected relay to be aborted")
	}
	if len(sink.messages) != 0 {
		t.Errorf("Expected no messages, got %d", len(sink.messages))
	}
}
