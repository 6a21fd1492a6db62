package task

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"
)

// Repo is the Task/Run store. Lock* methods take exclusive row locks that
// last until the enclosing Execute returns; they must be called with the
// context Execute hands to its callback.
type Repo interface {
	// Execute runs fn in one transaction. The transaction travels in ctx.
	Execute(ctx context.Context, fn func(ctx context.Context) error) error

	// Load returns the task with its runs ordered by run id, or nil.
	Load(ctx context.Context, taskID uuid.UUID) (*Task, error)
	CreateTask(ctx context.Context, task *Task) error
	InsertRun(ctx context.Context, run *Run) error

	LockTask(ctx context.Context, taskID uuid.UUID) (bool, error)
	LockRun(ctx context.Context, taskID uuid.UUID, runID int) (*Run, error)
	// LockOldestPending selects the pending run with the oldest scheduled
	// time whose task targets provisionerID/workerType, or nil.
	LockOldestPending(ctx context.Context, provisionerID, workerType string) (*RunKey, error)
	LockExpiredClaims(ctx context.Context, filter *ExpiredClaimFilter) ([]*ExpiredClaim, error)
	LockDeadlineExceeded(ctx context.Context, now time.Time) ([]*RunKey, error)
	LockTasksPastDeadline(ctx context.Context, before time.Time) ([]uuid.UUID, error)

	// UpdateRun applies patch to the run matching pred and returns the
	// number of rows matched.
	UpdateRun(ctx context.Context, pred *RunPredicate, patch *RunPatch) (int64, error)
	// UpdateRetriesLeft sets retries_left, guarded by expected when present.
	UpdateRetriesLeft(ctx context.Context, taskID uuid.UUID, expected mo.Option[int], value int) (int64, error)
	CountRuns(ctx context.Context, taskID uuid.UUID, runID int) (int64, error)
	// DeleteTask removes the task and, by cascade, its runs, only while its
	// deadline is still before deadlineBefore.
	DeleteTask(ctx context.Context, taskID uuid.UUID, deadlineBefore time.Time) (int64, error)

	QueryPending(ctx context.Context, provisionerID string) ([]uuid.UUID, error)
}

type RunKey struct {
	TaskID uuid.UUID
	RunID  int
}

type ExpiredClaim struct {
	RunKey
	RetriesLeft int
}

// ExpiredClaimFilter selects running runs whose lease ended before Now on
// tasks whose deadline is still after Now.
type ExpiredClaimFilter struct {
	Now time.Time
	// WithRetries selects tasks with retries_left > 0, otherwise = 0.
	WithRetries bool
}

// RunPredicate guards an update. TaskID and RunID are always matched.
type RunPredicate struct {
	TaskID      uuid.UUID
	RunID       int
	States      []RunState
	WorkerGroup mo.Option[string]
	WorkerID    mo.Option[string]
	Unstarted   bool
	TakenBefore mo.Option[time.Time]
}
