package task

import (
	"context"
	"fmt"
	"time"

	"github.com/jobs/taskqueue/pkg/slugid"
	"github.com/samber/mo"
	"go.uber.org/zap"
)

// ExpireClaimsWithRetries fails running runs whose lease has lapsed on tasks
// with retries left, spends one retry and schedules the next run. It returns
// the tasks it changed.
func (u *Usecase) ExpireClaimsWithRetries(ctx context.Context) ([]*Task, error) {
	var tasks []*Task
	err := u.repo.Execute(ctx, func(ctx context.Context) error {
		tasks = nil
		now := u.now()
		claims, err := u.repo.LockExpiredClaims(ctx, &ExpiredClaimFilter{Now: now, WithRetries: true})
		if err != nil {
			return err
		}
		for _, c := range claims {
			expired, err := u.expireClaim(ctx, c.RunKey, now)
			if err != nil {
				return err
			}
			if !expired {
				continue
			}
			n, err := u.repo.UpdateRetriesLeft(ctx, c.TaskID, mo.Some(c.RetriesLeft), c.RetriesLeft-1)
			if err != nil {
				return err
			}
			if n != 1 {
				return fmt.Errorf("%w: retries of task %s changed under lock", ErrInvariantViolation, slugid.Encode(c.TaskID))
			}
			if err := u.repo.InsertRun(ctx, newPendingRun(c.TaskID, c.RunID+1, ReasonCreatedScheduled, now)); err != nil {
				return err
			}
			t, err := u.mustLoad(ctx, c.TaskID)
			if err != nil {
				return err
			}
			tasks = append(tasks, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

// ExpireClaimsWithoutRetries fails running runs whose lease has lapsed on
// tasks with no retries left. The tasks become resolved.
func (u *Usecase) ExpireClaimsWithoutRetries(ctx context.Context) ([]*Task, error) {
	var tasks []*Task
	err := u.repo.Execute(ctx, func(ctx context.Context) error {
		tasks = nil
		now := u.now()
		claims, err := u.repo.LockExpiredClaims(ctx, &ExpiredClaimFilter{Now: now})
		if err != nil {
			return err
		}
		for _, c := range claims {
			expired, err := u.expireClaim(ctx, c.RunKey, now)
			if err != nil {
				return err
			}
			if !expired {
				continue
			}
			t, err := u.mustLoad(ctx, c.TaskID)
			if err != nil {
				return err
			}
			tasks = append(tasks, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

// ExpireByDeadline fails every pending or running run of a task past its
// deadline, whatever its lease and retries.
func (u *Usecase) ExpireByDeadline(ctx context.Context) ([]*Task, error) {
	var tasks []*Task
	err := u.repo.Execute(ctx, func(ctx context.Context) error {
		tasks = nil
		now := u.now()
		keys, err := u.repo.LockDeadlineExceeded(ctx, now)
		if err != nil {
			return err
		}
		for _, key := range keys {
			pred := &RunPredicate{
				TaskID: key.TaskID,
				RunID:  key.RunID,
				States: []RunState{RunStatePending, RunStateRunning},
			}
			patch := NewRunPatch().resolve(RunStateFailed, ReasonResolvedDeadlineExceeded, false, now)
			n, err := u.repo.UpdateRun(ctx, pred, patch)
			if err != nil {
				return err
			}
			if err := expectSingleRow(n, key.TaskID, key.RunID); err != nil {
				return err
			}
			if n == 0 {
				u.logger.Debug("run already resolved, skipping deadline expiry",
					zap.String("task_id", slugid.Encode(key.TaskID)),
					zap.Int("run_id", key.RunID))
				continue
			}
			t, err := u.mustLoad(ctx, key.TaskID)
			if err != nil {
				return err
			}
			tasks = append(tasks, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

// expireClaim resolves one lapsed claim. It reports false when the run was
// reclaimed or resolved since it was selected.
func (u *Usecase) expireClaim(ctx context.Context, key RunKey, now time.Time) (bool, error) {
	pred := &RunPredicate{
		TaskID:      key.TaskID,
		RunID:       key.RunID,
		States:      []RunState{RunStateRunning},
		TakenBefore: mo.Some(now),
	}
	patch := NewRunPatch().resolve(RunStateFailed, ReasonResolvedClaimExpired, false, now)
	n, err := u.repo.UpdateRun(ctx, pred, patch)
	if err != nil {
		return false, err
	}
	if err := expectSingleRow(n, key.TaskID, key.RunID); err != nil {
		return false, err
	}
	if n == 0 {
		u.logger.Debug("claim no longer expired, skipping",
			zap.String("task_id", slugid.Encode(key.TaskID)),
			zap.Int("run_id", key.RunID))
		return false, nil
	}
	return true, nil
}
