package task

import (
	"context"
	"fmt"

	"github.com/jobs/taskqueue/pkg/slugid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// MoveTasksFromDatabase hands every task whose deadline passed more than the
// retention period ago to store, then deletes it with its runs. A task whose
// store call fails stays in place; those failures are returned together
// with the count of tasks that were moved.
func (u *Usecase) MoveTasksFromDatabase(ctx context.Context, store StoreFunc) (int, error) {
	var (
		moved    int
		failures error
	)
	err := u.repo.Execute(ctx, func(ctx context.Context) error {
		moved, failures = 0, nil
		before := u.now().Add(-u.retention)
		ids, err := u.repo.LockTasksPastDeadline(ctx, before)
		if err != nil {
			return err
		}
		for _, id := range ids {
			t, err := u.repo.Load(ctx, id)
			if err != nil {
				return err
			}
			if t == nil {
				continue
			}
			for _, r := range t.Runs {
				if !r.State.IsResolved() {
					return fmt.Errorf("%w: run %s/%d is %s past the retention threshold",
						ErrInvariantViolation, slugid.Encode(id), r.RunID, r.State)
				}
			}
			if err := store(ctx, t); err != nil {
				failures = multierr.Append(failures, fmt.Errorf("store task %s: %w", slugid.Encode(id), err))
				continue
			}
			n, err := u.repo.DeleteTask(ctx, id, before)
			if err != nil {
				return err
			}
			if n == 0 {
				u.logger.Debug("task not deleted, deadline changed",
					zap.String("task_id", slugid.Encode(id)))
				continue
			}
			moved++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return moved, failures
}
