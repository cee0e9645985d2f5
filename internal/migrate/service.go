package migrate

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/tphakala/repomigrate/internal/datastore"
	"github.com/tphakala/repomigrate/internal/datastore/entities"
	"github.com/tphakala/repomigrate/internal/errors"
	"github.com/tphakala/repomigrate/internal/logger"
)

// DefaultSchedulerBatch bounds how many tasks one scheduling round looks at.
const DefaultSchedulerBatch = 100

// Service periodically submits CREATED tasks and stale EXECUTING tasks to
// the executor.
type Service struct {
	executor     *Executor
	tasks        TaskRepository
	interval     time.Duration
	staleTimeout time.Duration
	log          logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// ScheduleResult summarizes one scheduling round.
type ScheduleResult struct {
	Submitted int
	Claimed   int
	Rejected  bool
}

// NewService creates a stopped scheduler.
func NewService(executor *Executor, tasks TaskRepository, interval time.Duration, log logger.Logger) *Service {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if log == nil {
		log = logger.NewSlogLogger(io.Discard, logger.LogLevelError, nil)
	}
	return &Service{
		executor:     executor,
		tasks:        tasks,
		interval:     interval,
		staleTimeout: executor.cfg.StaleTimeout,
		log:          log.Module(logger.ComponentScheduler),
	}
}

// Start runs a scheduling round immediately and then every interval.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	s.wg.Go(func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
				s.log.Error("scheduling round failed", logger.Error(err))
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	})
	s.log.Info("scheduler started", logger.Duration("interval", s.interval))
}

// Stop ends the scheduling loop. Running executions are owned by the
// dispatch pool and stopped with it.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info("scheduler stopped")
}

// RunOnce submits every runnable task until the dispatch pool rejects one.
func (s *Service) RunOnce(ctx context.Context) (ScheduleResult, error) {
	var result ScheduleResult

	created, err := s.tasks.List(ctx, datastore.TaskFilter{State: entities.TaskStateCreated, Limit: DefaultSchedulerBatch})
	if err != nil {
		return result, err
	}
	stale, err := s.tasks.ListStale(ctx, datastore.Now().Add(-s.staleTimeout), DefaultSchedulerBatch)
	if err != nil {
		return result, err
	}

	for _, task := range append(created, stale...) {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		accepted, err := s.executor.TryMigrate(ctx, &task)
		switch {
		case errors.Is(err, ErrTaskAlreadyClaimed):
			result.Claimed++
			continue
		case err != nil:
			s.log.Warn("failed to submit migration task",
				logger.TaskID(task.ID),
				logger.Error(err))
			continue
		case !accepted:
			result.Rejected = true
			s.log.Debug("dispatch pool saturated, deferring remaining tasks")
			return result, nil
		}

		result.Submitted++
		if task.State == entities.TaskStateExecuting {
			s.log.Info("resuming interrupted migration task",
				logger.TaskID(task.ID),
				logger.Int64("migrated_count", task.MigratedCount))
		}
	}
	return result, nil
}
