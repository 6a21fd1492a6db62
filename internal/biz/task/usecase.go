package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/google/wire"
	"github.com/jobs/taskqueue/pkg/slugid"
	"github.com/raulk/clock"
	"github.com/samber/mo"
	"go.uber.org/zap"
)

var Provider = wire.NewSet(NewUsecase)

// DefaultRetention is how long past its deadline a task stays in the
// primary store.
const DefaultRetention = 24 * time.Hour

type Config struct {
	Retention time.Duration
}

// Claim identifies the worker taking a run and how long it holds it.
type Claim struct {
	WorkerGroup string
	WorkerID    string
	TakenUntil  time.Time
}

// FetchFunc loads a task that has been moved to cold storage. It returns
// nil, nil when the task is unknown there too.
type FetchFunc func(ctx context.Context, taskID uuid.UUID) (*TaskInfo, error)

// StoreFunc persists a task before the retention mover deletes it.
type StoreFunc func(ctx context.Context, task *Task) error

// Usecase is the task lifecycle manager. It keeps no state of its own; all
// mutual exclusion comes from the store's transactions and row locks.
type Usecase struct {
	repo      Repo
	clock     clock.Clock
	logger    *zap.Logger
	retention time.Duration
}

func NewUsecase(repo Repo, cfg Config, clk clock.Clock, logger *zap.Logger) *Usecase {
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	return &Usecase{repo: repo, clock: clk, logger: logger, retention: cfg.Retention}
}

// now is truncated to what a datetime(6) column keeps.
func (u *Usecase) now() time.Time {
	return u.clock.Now().UTC().Truncate(time.Microsecond)
}

func (u *Usecase) Load(ctx context.Context, taskID uuid.UUID) (*Task, error) {
	t, err := u.repo.Load(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("%w: task %s", ErrNotFound, slugid.Encode(taskID))
	}
	return t, nil
}

// QueryPending lists tasks of provisionerID that have a pending run.
func (u *Usecase) QueryPending(ctx context.Context, provisionerID string) ([]uuid.UUID, error) {
	return u.repo.QueryPending(ctx, provisionerID)
}

// Create inserts the task and the runs in info. With loadIfExists an
// existing task with the same id is returned untouched.
func (u *Usecase) Create(ctx context.Context, info *TaskInfo, loadIfExists bool) (*Task, error) {
	t, err := Deserialize(info)
	if err != nil {
		return nil, err
	}

	var result *Task
	err = u.repo.Execute(ctx, func(ctx context.Context) error {
		existing, err := u.repo.Load(ctx, t.TaskID)
		if err != nil {
			return err
		}
		if existing != nil {
			if loadIfExists {
				result = existing
				return nil
			}
			return fmt.Errorf("%w: task %s", ErrAlreadyExists, info.TaskID)
		}
		if err := u.repo.CreateTask(ctx, t); err != nil {
			return err
		}
		result, err = u.mustLoad(ctx, t.TaskID)
		return err
	})
	if errors.Is(err, ErrAlreadyExists) && loadIfExists {
		// lost an insert race
		return u.Load(ctx, t.TaskID)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Schedule adds run 0 to a task that has no runs yet.
func (u *Usecase) Schedule(ctx context.Context, taskID uuid.UUID) (*Task, error) {
	var result *Task
	err := u.repo.Execute(ctx, func(ctx context.Context) error {
		found, err := u.repo.LockTask(ctx, taskID)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: task %s", ErrNotFound, slugid.Encode(taskID))
		}
		t, err := u.mustLoad(ctx, taskID)
		if err != nil {
			return err
		}
		if len(t.Runs) > 0 {
			result = t
			return nil
		}
		if err := u.repo.InsertRun(ctx, newPendingRun(taskID, 0, ReasonCreatedScheduled, u.now())); err != nil {
			return err
		}
		result, err = u.mustLoad(ctx, taskID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (u *Usecase) ClaimTaskRun(ctx context.Context, taskID uuid.UUID, runID int, claim Claim) (*Task, error) {
	var result *Task
	err := u.repo.Execute(ctx, func(ctx context.Context) error {
		var err error
		result, err = u.claimTaskRun(ctx, taskID, runID, claim)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (u *Usecase) claimTaskRun(ctx context.Context, taskID uuid.UUID, runID int, claim Claim) (*Task, error) {
	run, err := u.repo.LockRun(ctx, taskID, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, fmt.Errorf("%w: run %s/%d", ErrNotFound, slugid.Encode(taskID), runID)
	}

	switch {
	case run.State == RunStateRunning && run.HeldBy(claim.WorkerGroup, claim.WorkerID):
		return u.mustLoad(ctx, taskID)

	case run.State == RunStatePending:
		pred := &RunPredicate{
			TaskID:    taskID,
			RunID:     runID,
			States:    []RunState{RunStatePending},
			Unstarted: true,
		}
		patch := NewRunPatch().
			WithState(RunStateRunning).
			WithWorker(claim.WorkerGroup, claim.WorkerID).
			WithStarted(u.now()).
			WithTakenUntil(claim.TakenUntil.UTC())
		n, err := u.repo.UpdateRun(ctx, pred, patch)
		if err != nil {
			return nil, err
		}
		if err := expectSingleRow(n, taskID, runID); err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, fmt.Errorf("%w: run %s/%d was claimed concurrently", ErrConflict, slugid.Encode(taskID), runID)
		}
		return u.mustLoad(ctx, taskID)

	default:
		return nil, fmt.Errorf("%w: run %s/%d is %s", ErrConflict, slugid.Encode(taskID), runID, run.State)
	}
}

// ReclaimTaskRun extends the lease of a run the caller already holds.
func (u *Usecase) ReclaimTaskRun(ctx context.Context, taskID uuid.UUID, runID int, claim Claim) (*Task, error) {
	var result *Task
	err := u.repo.Execute(ctx, func(ctx context.Context) error {
		pred := &RunPredicate{
			TaskID:      taskID,
			RunID:       runID,
			States:      []RunState{RunStateRunning},
			WorkerGroup: mo.Some(claim.WorkerGroup),
			WorkerID:    mo.Some(claim.WorkerID),
		}
		n, err := u.repo.UpdateRun(ctx, pred, NewRunPatch().WithTakenUntil(claim.TakenUntil.UTC()))
		if err != nil {
			return err
		}
		if err := expectSingleRow(n, taskID, runID); err != nil {
			return err
		}
		if n == 0 {
			count, err := u.repo.CountRuns(ctx, taskID, runID)
			if err != nil {
				return err
			}
			if count == 0 {
				return fmt.Errorf("%w: run %s/%d", ErrNotFound, slugid.Encode(taskID), runID)
			}
			return fmt.Errorf("%w: run %s/%d is not held by %s/%s", ErrConflict,
				slugid.Encode(taskID), runID, claim.WorkerGroup, claim.WorkerID)
		}
		result, err = u.mustLoad(ctx, taskID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ClaimWork claims the oldest pending run for provisionerID/workerType.
// It returns ErrNoWork when there is none.
func (u *Usecase) ClaimWork(ctx context.Context, provisionerID, workerType string, claim Claim) (*Task, error) {
	var result *Task
	err := u.repo.Execute(ctx, func(ctx context.Context) error {
		key, err := u.repo.LockOldestPending(ctx, provisionerID, workerType)
		if err != nil {
			return err
		}
		if key == nil {
			return fmt.Errorf("%w: %s/%s", ErrNoWork, provisionerID, workerType)
		}
		result, err = u.claimTaskRun(ctx, key.TaskID, key.RunID, claim)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CompleteTask resolves a running run: completed on success, failed
// otherwise. Reporting the same resolution again is not an error.
func (u *Usecase) CompleteTask(ctx context.Context, taskID uuid.UUID, runID int, success bool) (*Task, error) {
	state, reason := RunStateCompleted, ReasonResolvedCompleted
	if !success {
		state, reason = RunStateFailed, ReasonResolvedFailed
	}

	var result *Task
	err := u.repo.Execute(ctx, func(ctx context.Context) error {
		pred := &RunPredicate{
			TaskID: taskID,
			RunID:  runID,
			States: []RunState{RunStateRunning},
		}
		n, err := u.repo.UpdateRun(ctx, pred, NewRunPatch().resolve(state, reason, success, u.now()))
		if err != nil {
			return err
		}
		if err := expectSingleRow(n, taskID, runID); err != nil {
			return err
		}
		t, err := u.repo.Load(ctx, taskID)
		if err != nil {
			return err
		}
		var run *Run
		if t != nil {
			run = t.Run(runID)
		}
		if run == nil {
			return fmt.Errorf("%w: run %s/%d", ErrNotFound, slugid.Encode(taskID), runID)
		}
		if n == 0 && !run.ResolvedAs(state, reason, success) {
			return fmt.Errorf("%w: run %s/%d is %s", ErrConflict, slugid.Encode(taskID), runID, run.State)
		}
		result = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RerunTask appends a new pending run to a fully resolved task and resets
// its retries. Tasks no longer in the primary store are recovered through
// fetch first. A task that still has a live run is returned unchanged.
func (u *Usecase) RerunTask(ctx context.Context, taskID uuid.UUID, retries int, fetch FetchFunc) (*Task, error) {
	if retries < 0 {
		return nil, fmt.Errorf("%w: retries %d is negative", ErrInvalidArgument, retries)
	}

	t, err := u.repo.Load(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t == nil && fetch != nil {
		info, err := fetch(ctx, taskID)
		if err != nil {
			return nil, fmt.Errorf("fetch task %s: %w", slugid.Encode(taskID), err)
		}
		if info != nil {
			if info.TaskID != slugid.Encode(taskID) {
				return nil, fmt.Errorf("%w: fetched %s for task %s", ErrInvalidTaskInfo, info.TaskID, slugid.Encode(taskID))
			}
			if _, err := u.Create(ctx, info, true); err != nil {
				return nil, err
			}
		}
	}

	var result *Task
	err = u.repo.Execute(ctx, func(ctx context.Context) error {
		found, err := u.repo.LockTask(ctx, taskID)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: task %s", ErrNotFound, slugid.Encode(taskID))
		}
		t, err := u.mustLoad(ctx, taskID)
		if err != nil {
			return err
		}
		if !t.IsResolved() {
			result = t
			return nil
		}
		n, err := u.repo.UpdateRetriesLeft(ctx, taskID, mo.None[int](), retries)
		if err != nil {
			return err
		}
		if n != 1 {
			return fmt.Errorf("%w: retries update of task %s matched %d rows", ErrInvariantViolation, slugid.Encode(taskID), n)
		}
		run := newPendingRun(taskID, len(t.Runs), ReasonCreatedRerun, u.now())
		if err := u.repo.InsertRun(ctx, run); err != nil {
			return err
		}
		result, err = u.mustLoad(ctx, taskID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (u *Usecase) mustLoad(ctx context.Context, taskID uuid.UUID) (*Task, error) {
	t, err := u.repo.Load(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("%w: task %s vanished inside its transaction", ErrInvariantViolation, slugid.Encode(taskID))
	}
	return t, nil
}

// expectSingleRow rejects updates keyed by primary key that matched more
// than one row.
func expectSingleRow(n int64, taskID uuid.UUID, runID int) error {
	if n > 1 {
		return fmt.Errorf("%w: update of run %s/%d matched %d rows", ErrInvariantViolation, slugid.Encode(taskID), runID, n)
	}
	return nil
}
