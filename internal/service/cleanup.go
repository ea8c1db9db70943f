package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Pruner drops tracking state for cached views that have expired.
type Pruner interface {
	Prune(ctx context.Context) (int, error)
}

// PruneConfig holds configuration for the prune scheduler.
type PruneConfig struct {
	// Interval is how often the prune runs. Default: 10 minutes
	Interval time.Duration

	// Timeout bounds a single run. Default: 1 minute
	Timeout time.Duration
}

// PruneScheduler periodically releases limiter slots held by filtered views
// that left the cache through TTL expiry.
type PruneScheduler struct {
	pruner    Pruner
	config    PruneConfig
	logger    *zap.Logger
	ticker    *time.Ticker
	stopCh    chan struct{}
	stopOnce  sync.Once
	isRunning bool
	mu        sync.Mutex
}

// NewPruneScheduler creates a new prune scheduler.
func NewPruneScheduler(pruner Pruner, config PruneConfig, logger *zap.Logger) *PruneScheduler {
	if config.Interval <= 0 {
		config.Interval = 10 * time.Minute
	}
	if config.Timeout <= 0 {
		config.Timeout = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &PruneScheduler{
		pruner: pruner,
		config: config,
		logger: logger.Named("prune"),
		stopCh: make(chan struct{}),
	}
}

// Start begins the prune loop. Calling Start twice is a no-op.
func (s *PruneScheduler) Start() {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.ticker = time.NewTicker(s.config.Interval)
	s.mu.Unlock()

	s.logger.Info("prune scheduler started", zap.Duration("interval", s.config.Interval))
	go s.run()
}

func (s *PruneScheduler) run() {
	for {
		select {
		case <-s.ticker.C:
			if _, err := s.RunNow(); err != nil {
				s.logger.Warn("view prune failed", zap.Error(err))
			}
		case <-s.stopCh:
			s.logger.Info("prune scheduler stopped")
			return
		}
	}
}

// Stop stops the scheduler.
func (s *PruneScheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.stopCh)
		s.isRunning = false
	})
}

// RunNow triggers an immediate prune and returns the number of keys released.
func (s *PruneScheduler) RunNow() (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Timeout)
	defer cancel()

	pruned, err := s.pruner.Prune(ctx)
	if err != nil {
		return pruned, err
	}
	if pruned > 0 {
		s.logger.Info("pruned expired filtered views", zap.Int("count", pruned))
	} else {
		s.logger.Debug("no expired filtered views to prune")
	}
	return pruned, nil
}
