package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// SchedulerConfig tunes the poller
type SchedulerConfig struct {
	// PollInterval is how often pending jobs are scanned. Default: 60s.
	PollInterval time.Duration

	// PollBatch caps how many due jobs one tick promotes. Default: 100.
	PollBatch int

	// CleanupInterval is how often terminal jobs are purged. Default: 1h.
	CleanupInterval time.Duration

	// Retention is how long terminal jobs are kept. Default: 30 days.
	Retention time.Duration
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		PollInterval:    60 * time.Second,
		PollBatch:       100,
		CleanupInterval: time.Hour,
		Retention:       30 * 24 * time.Hour,
	}
}

// Scheduler periodically promotes due pending jobs into the delivery queue
// and purges old terminal jobs. It is an explicitly constructed service
// with an injected clock and store; ticks can be driven synchronously in
// tests through PollOnce and CleanupOnce.
type Scheduler struct {
	store  Store
	queue  *DeliveryQueue
	clock  Clock
	config SchedulerConfig
	logger *logrus.Entry

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewScheduler(store Store, queue *DeliveryQueue, clock Clock, config SchedulerConfig) *Scheduler {
	defaults := DefaultSchedulerConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.PollBatch <= 0 {
		config.PollBatch = defaults.PollBatch
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = defaults.CleanupInterval
	}
	if config.Retention <= 0 {
		config.Retention = defaults.Retention
	}
	return &Scheduler{
		store:  store,
		queue:  queue,
		clock:  clock,
		config: config,
		logger: logrus.WithField("component", "scheduler"),
	}
}

// Start launches the poll and cleanup loops
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	s.wg.Add(2)
	go s.pollLoop(ctx)
	go s.cleanupLoop(ctx)

	s.logger.WithFields(logrus.Fields{
		"poll_interval":    s.config.PollInterval,
		"cleanup_interval": s.config.CleanupInterval,
	}).Info("scheduler started")
	return nil
}

// Stop halts both loops and waits for them
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) pollLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.PollOnce()
		}
	}
}

func (s *Scheduler) cleanupLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.CleanupOnce()
		}
	}
}

// PollOnce performs one scan tick: every pending job whose due time has
// passed is handed to the delivery queue, oldest first. A job that cannot
// be handed over is failed rather than left pending with no path forward.
func (s *Scheduler) PollOnce() {
	now := s.clock.Now()

	jobs, err := s.store.DueJobs(now, s.config.PollBatch)
	if err != nil {
		s.logger.WithError(err).Error("failed to scan due jobs")
		return
	}
	if len(jobs) == 0 {
		return
	}

	s.logger.WithField("count", len(jobs)).Info("promoting due jobs")

	for _, job := range jobs {
		if err := s.queue.Enqueue(job.ID, job.ScheduledAt, job.Priority); err != nil {
			s.logger.WithError(err).WithField("job_id", job.ID).Error("failed to enqueue due job")
			if failErr := s.store.FailPending(job.ID, fmt.Sprintf("queue submission failed: %v", err)); failErr != nil {
				s.logger.WithError(failErr).WithField("job_id", job.ID).Error("failed to mark job failed")
			}
		}
	}
}

// CleanupOnce purges terminal jobs older than the retention window
func (s *Scheduler) CleanupOnce() {
	cutoff := s.clock.Now().Add(-s.config.Retention)

	purged, err := s.store.PurgeTerminalJobs(cutoff)
	if err != nil {
		s.logger.WithError(err).Error("failed to purge old jobs")
		return
	}
	if purged > 0 {
		s.logger.WithField("purged", purged).Info("old terminal jobs removed")
	}
}
