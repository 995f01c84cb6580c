package service

import (
	"context"
	"time"

	"github.com/pesio-ai/be-ap-invoice-automation/internal/logger"
)

// BatchRunner runs one automation sweep.
type BatchRunner interface {
	RunAutomationBatch(ctx context.Context, limit int) (*BatchResult, error)
}

// Scheduler runs the automation sweep once at start and then on every tick.
type Scheduler struct {
	runner   BatchRunner
	interval time.Duration
	limit    int
	log      *logger.Logger
}

// NewScheduler creates a sweep scheduler
func NewScheduler(runner BatchRunner, interval time.Duration, limit int, log *logger.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Scheduler{runner: runner, interval: interval, limit: limit, log: log.WithComponent("scheduler")}
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info().Dur("interval", s.interval).Int("limit", s.limit).Msg("Automation scheduler started")

	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("Automation scheduler stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Scheduler) sweep(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := s.runner.RunAutomationBatch(ctx, s.limit); err != nil {
		s.log.Error().Err(err).Msg("Automation sweep failed")
	}
}
