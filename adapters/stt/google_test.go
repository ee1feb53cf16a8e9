package stt

import (
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/voicerelay/domain/repositories"
)

var _ repositories.SpeechToText = &GoogleSpeechToText{}

func TestNewGoogleSpeechToText(t *testing.T) {
	g, err := NewGoogleSpeechToText(GoogleConfig{}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewGoogleSpeechToText() error = %v", err)
	}
	if g.language != defaultGoogleLanguage {
		t.Errorf("Expected default language, got %s", g.language)
	}
	if g.sampleRate != 16000 {
		t.Errorf("Expected 16000 Hz, got %d", g.sampleRate)
	}

	if _, err := NewGoogleSpeechToText(GoogleConfig{Encoding: "MP3"}, zaptest.NewLogger(t)); err == nil {
		t.Error("Expected error for unsupported encoding")
	}
}
