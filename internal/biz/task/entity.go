package task

import (
	"time"

	"github.com/google/uuid"
)

type Task struct {
	TaskID        uuid.UUID
	ProvisionerID string
	WorkerType    string
	SchedulerID   string
	TaskGroupID   uuid.UUID
	Created       time.Time
	Deadline      time.Time
	RetriesLeft   int
	Routes        []string
	Owner         string

	Runs []*Run // ordered by RunID
}

// Run returns the run with the given id, or nil.
func (t *Task) Run(runID int) *Run {
	if runID < 0 || runID >= len(t.Runs) || t.Runs[runID].RunID != runID {
		for _, r := range t.Runs {
			if r.RunID == runID {
				return r
			}
		}
		return nil
	}
	return t.Runs[runID]
}

// LastRun returns the most recent run, or nil for an unscheduled task.
func (t *Task) LastRun() *Run {
	if len(t.Runs) == 0 {
		return nil
	}
	return t.Runs[len(t.Runs)-1]
}

// IsResolved reports whether every run is terminal. Unscheduled tasks count
// as resolved.
func (t *Task) IsResolved() bool {
	for _, r := range t.Runs {
		if !r.State.IsResolved() {
			return false
		}
	}
	return true
}

// State is the last run's state, or StateUnscheduled.
func (t *Task) State() string {
	if r := t.LastRun(); r != nil {
		return string(r.State)
	}
	return StateUnscheduled
}

type Run struct {
	TaskID         uuid.UUID
	RunID          int
	State          RunState
	ReasonCreated  ReasonCreated
	ReasonResolved *ReasonResolved
	Success        *bool
	WorkerGroup    *string
	WorkerID       *string
	TakenUntil     *time.Time
	Scheduled      time.Time
	Started        *time.Time
	Resolved       *time.Time
}

func newPendingRun(taskID uuid.UUID, runID int, reason ReasonCreated, now time.Time) *Run {
	return &Run{
		TaskID:        taskID,
		RunID:         runID,
		State:         RunStatePending,
		ReasonCreated: reason,
		Scheduled:     now,
	}
}

// HeldBy reports whether the run was claimed by the given worker.
func (r *Run) HeldBy(workerGroup, workerID string) bool {
	return r.WorkerGroup != nil && r.WorkerID != nil &&
		*r.WorkerGroup == workerGroup && *r.WorkerID == workerID
}

// ResolvedAs reports whether the run already carries the given resolution.
func (r *Run) ResolvedAs(state RunState, reason ReasonResolved, success bool) bool {
	return r.State == state &&
		r.ReasonResolved != nil && *r.ReasonResolved == reason &&
		r.Success != nil && *r.Success == success
}

// RunPatch lists the run columns an update writes; nil fields are untouched.
type RunPatch struct {
	State          *RunState
	ReasonResolved *ReasonResolved
	Success        *bool
	WorkerGroup    *string
	WorkerID       *string
	TakenUntil     *time.Time
	Started        *time.Time
	Resolved       *time.Time
}

func NewRunPatch() *RunPatch {
	return &RunPatch{}
}

func (p *RunPatch) WithState(state RunState) *RunPatch {
	p.State = &state
	return p
}

func (p *RunPatch) WithReasonResolved(reason ReasonResolved) *RunPatch {
	p.ReasonResolved = &reason
	return p
}

func (p *RunPatch) WithSuccess(success bool) *RunPatch {
	p.Success = &success
	return p
}

func (p *RunPatch) WithWorker(workerGroup, workerID string) *RunPatch {
	p.WorkerGroup = &workerGroup
	p.WorkerID = &workerID
	return p
}

func (p *RunPatch) WithTakenUntil(takenUntil time.Time) *RunPatch {
	p.TakenUntil = &takenUntil
	return p
}

func (p *RunPatch) WithStarted(started time.Time) *RunPatch {
	p.Started = &started
	return p
}

func (p *RunPatch) WithResolved(resolved time.Time) *RunPatch {
	p.Resolved = &resolved
	return p
}

// resolve fills the columns common to every terminal transition.
func (p *RunPatch) resolve(state RunState, reason ReasonResolved, success bool, now time.Time) *RunPatch {
	return p.WithState(state).WithReasonResolved(reason).WithSuccess(success).WithResolved(now)
}
