package repositories

import "context"

// TextToSpeech abstracts duplex speech synthesis services
type TextToSpeech interface {
	// Connect opens a synthesis channel. Cancelling ctx tears the channel down.
	Connect(ctx context.Context) (SynthesisStream, error)
}

// SynthesisStream is one open synthesis channel
type SynthesisStream interface {
	// Configure sends the voice configuration. Called once before SendText.
	Configure(voice VoiceConfig) error
	// SendText sends text to synthesize; end marks the last message.
	SendText(text string, end bool) error
	// Recv blocks for the next provider message
	Recv() (SynthesisMessage, error)
	Close() error
}

// VoiceConfig selects the voice and delivery
type VoiceConfig struct {
	VoiceID   string  `json:"voice_id" yaml:"voice_id"`
	Style     string  `json:"style" yaml:"style"`
	Rate      int     `json:"rate" yaml:"rate"`
	Pitch     int     `json:"pitch" yaml:"pitch"`
	Variation int     `json:"variation" yaml:"variation"`
	Stability float64 `json:"stability,omitempty" yaml:"stability"`
}

// SynthesisMessage is one audio chunk or the final marker
type SynthesisMessage struct {
	Audio []byte
	Final bool
}
