package usecase

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/satriahrh/voicerelay/domain"
	"github.com/satriahrh/voicerelay/domain/repositories"
)

const (
	defaultAudioFormat    = "WAV"
	fallbackClipChunkSize = 32 * 1024
)

// ClientSink is the outbound side of a client connection. SendJSON returns
// domain.ErrClientClosed once the client is gone.
type ClientSink interface {
	SendJSON(ctx context.Context, v any) error
}

// RelayConfig holds the voice and fallback settings for RelayService
type RelayConfig struct {
	Voice          repositories.VoiceConfig
	AudioFormat    string
	FallbackAudio  []byte
	FallbackFormat string
}

// RelayResult summarizes one relay
type RelayResult struct {
	Chunks      int
	Base64Chars int
	Fallback    bool
	Aborted     bool
}

// RelayService streams synthesized reply audio to a client
type RelayService struct {
	tts    repositories.TextToSpeech
	config RelayConfig
	logger *zap.Logger
}

// NewRelayService creates a new relay service
func NewRelayService(tts repositories.TextToSpeech, config RelayConfig, logger *zap.Logger) *RelayService {
	if config.AudioFormat == "" {
		config.AudioFormat = defaultAudioFormat
	}
	if config.FallbackFormat == "" {
		config.FallbackFormat = "MP3"
	}
	return &RelayService{
		tts:    tts,
		config: config,
		logger: logger,
	}
}

// Relay synthesizes text and relays each audio chunk to sink in order, then
// one audio_complete message. If the client goes away or ctx is cancelled the
// relay stops without sending anything further. Synthesis failures are logged
// and replaced by the fallback clip when one is configured; the returned error
// is informational only.
func (r *RelayService) Relay(ctx context.Context, sink ClientSink, text string) (RelayResult, error) {
	var res RelayResult
	if strings.TrimSpace(text) == "" {
		return res, nil
	}

	stream, err := r.tts.Connect(ctx)
	if err != nil {
		return r.fail(ctx, sink, res, domain.NewStageError(domain.ErrSynthesis, err))
	}
	defer stream.Close()

	if err := stream.Configure(r.config.Voice); err != nil {
		return r.fail(ctx, sink, res, domain.NewStageError(domain.ErrSynthesis, err))
	}
	if err := stream.SendText(text, true); err != nil {
		return r.fail(ctx, sink, res, domain.NewStageError(domain.ErrSynthesis, err))
	}

	for {
		msg, err := stream.Recv()
		if err != nil {
			return r.fail(ctx, sink, res, domain.NewStageError(domain.ErrSynthesis, err))
		}

		if len(msg.Audio) > 0 {
			if err := r.sendChunk(ctx, sink, &res, msg.Audio); err != nil {
				return r.abort(res, err)
			}
		}

		if msg.Final {
			break
		}
	}

	if err := r.sendComplete(ctx, sink, res, r.config.AudioFormat); err != nil {
		return r.abort(res, err)
	}

	r.logger.Debug("Relay completed",
		zap.Int("chunks", res.Chunks),
		zap.Int("base64Chars", res.Base64Chars))

	return res, nil
}

func (r *RelayService) sendChunk(ctx context.Context, sink ClientSink, res *RelayResult, audio []byte) error {
	encoded := base64.StdEncoding.EncodeToString(audio)
	res.Chunks++
	res.Base64Chars += len(encoded)

	return sink.SendJSON(ctx, domain.AudioChunkMessage{
		Type:        domain.MessageTypeAudioChunk,
		ChunkIndex:  res.Chunks,
		Base64Audio: encoded,
	})
}

func (r *RelayService) sendComplete(ctx context.Context, sink ClientSink, res RelayResult, format string) error {
	return sink.SendJSON(ctx, domain.AudioCompleteMessage{
		Type:             domain.MessageTypeAudioComplete,
		TotalChunks:      res.Chunks,
		TotalBase64Chars: res.Base64Chars,
		AudioFormat:      format,
		Fallback:         res.Fallback,
	})
}

// fail handles a synthesis error: plays the fallback clip if configured,
// otherwise tells the client the reply could not be spoken.
func (r *RelayService) fail(ctx context.Context, sink ClientSink, res RelayResult, cause error) (RelayResult, error) {
	if ctx.Err() != nil {
		return r.abort(res, ctx.Err())
	}

	r.logger.Error("Speech synthesis failed", zap.Int("chunksRelayed", res.Chunks), zap.Error(cause))

	format := r.config.AudioFormat
	if len(r.config.FallbackAudio) > 0 {
		res.Fallback = true
		format = r.config.FallbackFormat
		clip := r.config.FallbackAudio
		for start := 0; start < len(clip); start += fallbackClipChunkSize {
			end := min(start+fallbackClipChunkSize, len(clip))
			if err := r.sendChunk(ctx, sink, &res, clip[start:end]); err != nil {
				return r.abort(res, err)
			}
		}
	} else {
		err := sink.SendJSON(ctx, domain.InfoMessage{
			Type:    domain.MessageTypeError,
			Code:    "synthesis_failed",
			Message: domain.FallbackMessage(cause),
		})
		if err != nil {
			return r.abort(res, err)
		}
	}

	if err := r.sendComplete(ctx, sink, res, format); err != nil {
		return r.abort(res, err)
	}
	return res, cause
}

func (r *RelayService) abort(res RelayResult, cause error) (RelayResult, error) {
	res.Aborted = true
	if errors.Is(cause, domain.ErrClientClosed) || errors.Is(cause, context.Canceled) {
		r.logger.Debug("Relay aborted", zap.Int("chunksRelayed", res.Chunks), zap.Error(cause))
		return res, nil
	}
	return res, cause
}
