package scheduler

import (
	"context"

	"github.com/jobs/taskqueue/internal/biz/task"
	"github.com/jobs/taskqueue/internal/events"
	"go.uber.org/zap"
)

// resolveClaims expires lapsed claims, retrying tasks that still have
// retries before resolving those that do not.
func (s *Scheduler) resolveClaims(ctx context.Context) error {
	retried, err := s.usecase.ExpireClaimsWithRetries(ctx)
	if err != nil {
		return err
	}
	s.announce(ctx, retried)

	resolved, err := s.usecase.ExpireClaimsWithoutRetries(ctx)
	if err != nil {
		return err
	}
	s.announce(ctx, resolved)

	count := len(retried) + len(resolved)
	s.metrics.Expired.WithLabelValues(string(task.ReasonResolvedClaimExpired)).Add(float64(count))
	if count > 0 {
		s.logger.Info("expired claims",
			zap.Int("retried", len(retried)),
			zap.Int("resolved", len(resolved)))
	}
	return nil
}

func (s *Scheduler) resolveDeadlines(ctx context.Context) error {
	expired, err := s.usecase.ExpireByDeadline(ctx)
	if err != nil {
		return err
	}
	s.announce(ctx, expired)

	s.metrics.Expired.WithLabelValues(string(task.ReasonResolvedDeadlineExceeded)).Add(float64(len(expired)))
	if len(expired) > 0 {
		s.logger.Info("expired tasks past deadline", zap.Int("count", len(expired)))
	}
	return nil
}

// moveExpired reports store failures but keeps the count of what moved.
func (s *Scheduler) moveExpired(ctx context.Context) error {
	moved, err := s.usecase.MoveTasksFromDatabase(ctx, s.store)
	s.metrics.Moved.Add(float64(moved))
	if moved > 0 {
		s.logger.Info("moved tasks to cold storage", zap.Int("count", moved))
	}
	return err
}

func (s *Scheduler) announce(ctx context.Context, tasks []*task.Task) {
	events.PublishAll(ctx, s.publisher, s.logger, s.builder.ForLastRuns(tasks)...)
}
