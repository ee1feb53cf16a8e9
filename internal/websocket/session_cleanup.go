package websocket

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultCleanupInterval = 30 * time.Minute
	defaultCleanupDelay    = time.Minute
	cleanupTimeout         = 5 * time.Minute
)

// Pruner deletes transcript entries past their retention window
type Pruner interface {
	Prune(ctx context.Context) (int64, error)
}

// SessionCleanupService prunes the transcript log in the background
type SessionCleanupService struct {
	pruner   Pruner
	interval time.Duration
	delay    time.Duration
	logger   *zap.Logger
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSessionCleanupService creates a new session cleanup service.
// A zero interval or delay selects the default.
func NewSessionCleanupService(pruner Pruner, interval, delay time.Duration, logger *zap.Logger) *SessionCleanupService {
	if interval <= 0 {
		interval = defaultCleanupInterval
	}
	if delay <= 0 {
		delay = defaultCleanupDelay
	}
	return &SessionCleanupService{
		pruner:   pruner,
		interval: interval,
		delay:    delay,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

// Start begins the background cleanup process
func (s *SessionCleanupService) Start() {
	s.wg.Add(1)
	go s.cleanupLoop()
	s.logger.Info("Session cleanup service started",
		zap.Duration("interval", s.interval),
		zap.Duration("initialDelay", s.delay))
}

// Stop gracefully stops the cleanup service and waits for a running pass
func (s *SessionCleanupService) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
	s.logger.Info("Session cleanup service stopped")
}

func (s *SessionCleanupService) cleanupLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	initialTimer := time.NewTimer(s.delay)
	defer initialTimer.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-initialTimer.C:
			s.runCleanup()
		case <-ticker.C:
			s.runCleanup()
		}
	}
}

func (s *SessionCleanupService) runCleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	removed, err := s.pruner.Prune(ctx)
	if err != nil {
		s.logger.Error("Failed to prune transcripts", zap.Error(err))
		return
	}

	s.logger.Debug("Session cleanup completed", zap.Int64("removed", removed))
}
