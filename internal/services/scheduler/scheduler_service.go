// Package scheduler runs the export job on the configured cron
// schedule. External triggers (the HTTP endpoints) remain the primary
// invocation path; this built-in scheduler is opt-in.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/aubreys-it/en-export/internal/interfaces"
)

// Service implements interfaces.SchedulerService over robfig/cron.
type Service struct {
	runner   interfaces.ExportRunner
	schedule string
	cron     *cron.Cron
	logger   arbor.ILogger

	mu      sync.Mutex // serializes scheduled ticks against TriggerNow
	running bool
}

// NewService creates a scheduler that drives runner on schedule.
func NewService(runner interfaces.ExportRunner, schedule string, logger arbor.ILogger) interfaces.SchedulerService {
	return &Service{
		runner:   runner,
		schedule: schedule,
		cron:     cron.New(),
		logger:   logger,
	}
}

// Start registers the export job and starts the cron loop.
func (s *Service) Start() error {
	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	if _, err := s.cron.AddFunc(s.schedule, s.runScheduled); err != nil {
		return fmt.Errorf("failed to register export schedule: %w", err)
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().Str("schedule", s.schedule).Msg("Export scheduler started")
	return nil
}

// Stop halts the cron loop and waits for an in-flight tick to finish.
func (s *Service) Stop() {
	if !s.running {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()

	// Taking the run lock means a tick in progress has completed.
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.logger.Info().Msg("Export scheduler stopped")
}

// TriggerNow runs the export job immediately, serialized with
// scheduled ticks so the built-in scheduler never overlaps itself.
func (s *Service) TriggerNow() (*interfaces.ExportResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.runner.Run(context.Background())
}

func (s *Service) runScheduled() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info().Msg("Scheduled export tick")
	result, err := s.runner.Run(context.Background())
	if err != nil {
		s.logger.Error().Err(err).Msg("Scheduled export failed")
		return
	}
	s.logger.Info().Str("location", result.Location).Msg("Scheduled export completed")
}
