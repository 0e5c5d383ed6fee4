package vote

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type sweepRunner interface {
	SweepExpired(ctx context.Context, chatID int64) (*SweepResult, error)
}

// Sweeper runs SweepExpired for every chat on a fixed interval until it is
// stopped or its context ends.
type Sweeper struct {
	runner   sweepRunner
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSweeper(runner sweepRunner, interval time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Sweeper{
		runner:   runner,
		interval: interval,
		logger:   logger,
	}
}

// Run blocks, sweeping once per interval, and returns when ctx is done.
// A non-positive interval disables the sweeper.
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info("periodic sweep disabled")
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("periodic sweep started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("periodic sweep stopped")
			return
		case <-ticker.C:
			if _, err := s.runner.SweepExpired(ctx, 0); err != nil && ctx.Err() == nil {
				s.logger.Error("periodic sweep failed", "error", err)
			}
		}
	}
}

// Start runs the sweeper in its own goroutine. Calling Start on a running
// sweeper is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	go func() {
		defer close(done)
		s.Run(ctx)
	}()
}

// Stop cancels the running sweeper and waits for an in-flight sweep to
// return.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if done == nil {
		return
	}
	cancel()
	<-done
}
