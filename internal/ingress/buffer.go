package ingress

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/voicerelay/domain"
)

const (
	// DefaultCapacity is the number of frames held before new ones are dropped
	DefaultCapacity = 100

	// DefaultPullTimeout is how long Pull waits before yielding silence
	DefaultPullTimeout = 100 * time.Millisecond

	// DefaultSampleRate is the client audio rate (mono PCM16)
	DefaultSampleRate = 16000

	bytesPerSample = 2

	// Only the first drop and every dropLogInterval-th after it are logged
	dropLogInterval = 100
)

var errFrameDropped = fmt.Errorf("%w: audio buffer full, frame dropped", domain.ErrIngest)

// SilenceFrameSize returns the byte size of a mono PCM16 frame of the given duration
func SilenceFrameSize(sampleRate int, frame time.Duration) int {
	return int(int64(sampleRate) * bytesPerSample * int64(frame) / int64(time.Second))
}

// Buffer is the bounded queue between the client receive loop and the
// blocking transcription call. Push never blocks and Pull never starves the
// provider of audio.
type Buffer struct {
	frames   chan []byte
	stopped  chan struct{}
	stopOnce sync.Once
	silence  int
	dropped  atomic.Int64
	logger   *zap.Logger
}

// NewBuffer creates a buffer holding up to capacity frames; empty pulls yield
// silenceSize zero bytes
func NewBuffer(capacity, silenceSize int, logger *zap.Logger) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if silenceSize <= 0 {
		silenceSize = SilenceFrameSize(DefaultSampleRate, DefaultPullTimeout)
	}
	return &Buffer{
		frames:  make(chan []byte, capacity),
		stopped: make(chan struct{}),
		silence: silenceSize,
		logger:  logger,
	}
}

// Push enqueues a frame. When the buffer is full or stopped the frame is dropped.
func (b *Buffer) Push(frame []byte) {
	select {
	case <-b.stopped:
		return
	default:
	}

	select {
	case b.frames <- frame:
	default:
		n := b.dropped.Add(1)
		if n == 1 || n%dropLogInterval == 0 {
			b.logger.Warn("Dropping audio frames",
				zap.Int("size", len(frame)),
				zap.Int64("droppedTotal", n),
				zap.Error(errFrameDropped))
		}
	}
}

// Pull waits up to timeout for a frame. On timeout it returns a silence frame.
// After Stop it returns ok=false.
func (b *Buffer) Pull(timeout time.Duration) ([]byte, bool) {
	select {
	case <-b.stopped:
		return nil, false
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-b.stopped:
		return nil, false
	case frame := <-b.frames:
		return frame, true
	case <-timer.C:
		return make([]byte, b.silence), true
	}
}

// Stop ends the pull side. Safe to call more than once.
func (b *Buffer) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopped)
	})
}

// Dropped returns how many frames were dropped because the buffer was full
func (b *Buffer) Dropped() int64 {
	return b.dropped.Load()
}

// Len returns the number of queued frames
func (b *Buffer) Len() int {
	return len(b.frames)
}
