package stt

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.uber.org/zap"

	"github.com/satriahrh/voicerelay/domain"
	"github.com/satriahrh/voicerelay/domain/repositories"
)

const (
	defaultGoogleLanguage = "en-US"
	defaultGoogleEncoding = "LINEAR16"
)

// GoogleConfig holds configuration for the Google Cloud Speech adapter.
// Credentials come from GOOGLE_APPLICATION_CREDENTIALS.
type GoogleConfig struct {
	Language    string
	Encoding    string
	SampleRate  int
	PullTimeout time.Duration
}

// NewGoogleConfigFromEnv creates a new GoogleConfig from environment variables
func NewGoogleConfigFromEnv() GoogleConfig {
	return GoogleConfig{
		Language: os.Getenv("GOOGLE_SPEECH_LANGUAGE"),
		Encoding: os.Getenv("GOOGLE_SPEECH_ENCODING"),
	}
}

// GoogleSpeechToText implements SpeechToText for Google Cloud
type GoogleSpeechToText struct {
	language    string
	encoding    string
	sampleRate  int
	pullTimeout time.Duration
	logger      *zap.Logger
}

var _ repositories.SpeechToText = (*GoogleSpeechToText)(nil)

// NewGoogleSpeechToText creates a new Google Cloud Speech adapter
func NewGoogleSpeechToText(config GoogleConfig, logger *zap.Logger) (*GoogleSpeechToText, error) {
	language := config.Language
	if language == "" {
		language = defaultGoogleLanguage
		logger.Info("Using default language", zap.String("language", language))
	}

	encoding := config.Encoding
	if encoding == "" {
		encoding = defaultGoogleEncoding
	}
	if _, err := getAudioEncoding(encoding); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfig, err)
	}

	sampleRate := config.SampleRate
	if sampleRate == 0 {
		sampleRate = defaultAssemblyAISampleRate
	}

	pullTimeout := config.PullTimeout
	if pullTimeout == 0 {
		pullTimeout = defaultPullTimeout
	}

	return &GoogleSpeechToText{
		language:    language,
		encoding:    encoding,
		sampleRate:  sampleRate,
		pullTimeout: pullTimeout,
		logger:      logger,
	}, nil
}

// Connect opens a streaming recognize call with interim results enabled
func (g *GoogleSpeechToText) Connect(ctx context.Context, config repositories.AudioConfig) (repositories.SpeechToTextStreaming, error) {
	if config.SampleRate == 0 {
		config.SampleRate = g.sampleRate
	}
	if config.Language == "" {
		config.Language = g.language
	}
	if config.Encoding == "" {
		config.Encoding = g.encoding
	}

	encoding, err := getAudioEncoding(config.Encoding)
	if err != nil {
		return nil, domain.NewStageError(domain.ErrTranscription, err)
	}

	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, domain.NewStageError(domain.ErrTranscription, fmt.Errorf("failed to create speech client: %w", err))
	}

	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := client.StreamingRecognize(streamCtx)
	if err != nil {
		cancel()
		client.Close()
		return nil, domain.NewStageError(domain.ErrTranscription, fmt.Errorf("failed to create streaming recognize: %w", err))
	}

	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:                   encoding,
					SampleRateHertz:            int32(config.SampleRate),
					LanguageCode:               config.Language,
					EnableAutomaticPunctuation: true,
				},
				InterimResults: true,
			},
		},
	}); err != nil {
		stream.CloseSend()
		cancel()
		client.Close()
		return nil, domain.NewStageError(domain.ErrTranscription, fmt.Errorf("failed to send streaming config: %w", err))
	}

	return &googleStream{
		client:      client,
		stream:      stream,
		cancel:      cancel,
		pullTimeout: g.pullTimeout,
		logger:      g.logger,
	}, nil
}

type googleStream struct {
	client      *speech.Client
	stream      speechpb.Speech_StreamingRecognizeClient
	cancel      context.CancelFunc
	pullTimeout time.Duration
	logger      *zap.Logger

	sendMu    sync.Mutex
	sendDone  bool
	closeOnce sync.Once
}

// Stream sends frames until source ends, then half-closes and waits briefly
// for the final results. Returning cancels the recognize call and waits for
// the receiver, so nothing writes to events afterwards.
func (g *googleStream) Stream(ctx context.Context, source repositories.AudioSource, events chan<- repositories.TranscriptEvent) error {
	select {
	case events <- repositories.BeginEvent{}:
	case <-ctx.Done():
		return nil
	}

	stop := make(chan struct{})
	readErr := make(chan error, 1)
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		readErr <- g.receiveResults(ctx, events, stop)
	}()
	defer func() {
		close(stop)
		g.cancel()
		<-readDone
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return err
		default:
		}

		frame, ok := source.Pull(g.pullTimeout)
		if !ok {
			g.closeSend()
			select {
			case err := <-readErr:
				return err
			case <-ctx.Done():
				return nil
			case <-time.After(defaultTerminateTimeout):
				return nil
			}
		}

		if err := g.send(frame); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return domain.NewStageError(domain.ErrTranscription, fmt.Errorf("failed to send audio data: %w", err))
		}
	}
}

func (g *googleStream) send(frame []byte) error {
	g.sendMu.Lock()
	defer g.sendMu.Unlock()
	if g.sendDone {
		return errStreamClosed
	}
	return g.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: frame,
		},
	})
}

func (g *googleStream) closeSend() {
	g.sendMu.Lock()
	defer g.sendMu.Unlock()
	if g.sendDone {
		return
	}
	g.sendDone = true
	if err := g.stream.CloseSend(); err != nil {
		g.logger.Debug("Failed to close send stream", zap.Error(err))
	}
}

func (g *googleStream) receiveResults(ctx context.Context, events chan<- repositories.TranscriptEvent, stop <-chan struct{}) error {
	for {
		resp, err := g.stream.Recv()
		if err == io.EOF {
			select {
			case events <- repositories.TerminationEvent{}:
			case <-ctx.Done():
			case <-stop:
			}
			return nil
		}
		if err != nil {
			select {
			case <-stop:
				return nil
			default:
			}
			if ctx.Err() != nil {
				return nil
			}
			return domain.NewStageError(domain.ErrTranscription, fmt.Errorf("failed to receive response: %w", err))
		}

		for _, result := range resp.Results {
			if len(result.Alternatives) == 0 {
				continue
			}
			best := result.Alternatives[0]
			event := repositories.TurnEvent{
				Text:       best.Transcript,
				EndOfTurn:  result.IsFinal,
				Formatted:  result.IsFinal,
				Confidence: float64(best.Confidence),
			}
			select {
			case events <- event:
			case <-ctx.Done():
				return nil
			case <-stop:
				return nil
			}
		}
	}
}

// ForceEndpoint is a no-op: Google finalizes on its own voice activity detection
func (g *googleStream) ForceEndpoint() error {
	return nil
}

func (g *googleStream) Close() error {
	var err error
	g.closeOnce.Do(func() {
		g.closeSend()
		g.cancel()
		if g.client != nil {
			err = g.client.Close()
		}
	})
	return err
}

// getAudioEncoding converts string encoding to Google Speech API enum
func getAudioEncoding(encoding string) (speechpb.RecognitionConfig_AudioEncoding, error) {
	switch encoding {
	case "WAV", "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16, nil
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC, nil
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW, nil
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS, nil
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS, nil
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, fmt.Errorf("unsupported encoding: %s", encoding)
	}
}
