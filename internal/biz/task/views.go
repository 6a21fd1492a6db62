package task

import (
	"fmt"
	"sort"
	"time"

	"github.com/jobs/taskqueue/pkg/slugid"
	"github.com/samber/lo"
)

// TaskInfo is the full serialized projection of a task and its runs. It is
// what Create accepts and what cold storage holds.
type TaskInfo struct {
	Version       int        `json:"version"`
	TaskID        string     `json:"taskId"`
	ProvisionerID string     `json:"provisionerId"`
	WorkerType    string     `json:"workerType"`
	SchedulerID   string     `json:"schedulerId"`
	TaskGroupID   string     `json:"taskGroupId"`
	Created       time.Time  `json:"created"`
	Deadline      time.Time  `json:"deadline"`
	RetriesLeft   int        `json:"retriesLeft"`
	Routes        []string   `json:"routes"`
	Owner         string     `json:"owner"`
	Runs          []*RunInfo `json:"runs"`
}

// RunInfo keeps unset fields as explicit nulls.
type RunInfo struct {
	RunID          int             `json:"runId"`
	State          RunState        `json:"state"`
	ReasonCreated  ReasonCreated   `json:"reasonCreated"`
	ReasonResolved *ReasonResolved `json:"reasonResolved"`
	Success        *bool           `json:"success"`
	WorkerGroup    *string         `json:"workerGroup"`
	WorkerID       *string         `json:"workerId"`
	TakenUntil     *time.Time      `json:"takenUntil"`
	Scheduled      time.Time       `json:"scheduled"`
	Started        *time.Time      `json:"started"`
	Resolved       *time.Time      `json:"resolved"`
}

// TaskStatus is the public status view.
type TaskStatus struct {
	TaskID        string       `json:"taskId"`
	ProvisionerID string       `json:"provisionerId"`
	WorkerType    string       `json:"workerType"`
	SchedulerID   string       `json:"schedulerId"`
	TaskGroupID   string       `json:"taskGroupId"`
	Deadline      time.Time    `json:"deadline"`
	State         string       `json:"state"`
	RetriesLeft   int          `json:"retriesLeft"`
	Runs          []*RunStatus `json:"runs"`
}

// RunStatus omits fields that are not set yet.
type RunStatus struct {
	RunID          int             `json:"runId"`
	State          RunState        `json:"state"`
	ReasonCreated  ReasonCreated   `json:"reasonCreated"`
	ReasonResolved *ReasonResolved `json:"reasonResolved,omitempty"`
	WorkerGroup    *string         `json:"workerGroup,omitempty"`
	WorkerID       *string         `json:"workerId,omitempty"`
	TakenUntil     *time.Time      `json:"takenUntil,omitempty"`
	Scheduled      time.Time       `json:"scheduled"`
	Started        *time.Time      `json:"started,omitempty"`
	Resolved       *time.Time      `json:"resolved,omitempty"`
}

func (t *Task) Status() *TaskStatus {
	return &TaskStatus{
		TaskID:        slugid.Encode(t.TaskID),
		ProvisionerID: t.ProvisionerID,
		WorkerType:    t.WorkerType,
		SchedulerID:   t.SchedulerID,
		TaskGroupID:   slugid.Encode(t.TaskGroupID),
		Deadline:      t.Deadline,
		State:         t.State(),
		RetriesLeft:   t.RetriesLeft,
		Runs: lo.Map(t.Runs, func(r *Run, _ int) *RunStatus {
			return &RunStatus{
				RunID:          r.RunID,
				State:          r.State,
				ReasonCreated:  r.ReasonCreated,
				ReasonResolved: r.ReasonResolved,
				WorkerGroup:    r.WorkerGroup,
				WorkerID:       r.WorkerID,
				TakenUntil:     r.TakenUntil,
				Scheduled:      r.Scheduled,
				Started:        r.Started,
				Resolved:       r.Resolved,
			}
		}),
	}
}

// Serialize returns the versioned projection of t, runs sorted by id.
func (t *Task) Serialize() *TaskInfo {
	runs := lo.Map(t.Runs, func(r *Run, _ int) *RunInfo {
		return &RunInfo{
			RunID:          r.RunID,
			State:          r.State,
			ReasonCreated:  r.ReasonCreated,
			ReasonResolved: r.ReasonResolved,
			Success:        r.Success,
			WorkerGroup:    r.WorkerGroup,
			WorkerID:       r.WorkerID,
			TakenUntil:     r.TakenUntil,
			Scheduled:      r.Scheduled,
			Started:        r.Started,
			Resolved:       r.Resolved,
		}
	})
	sort.Slice(runs, func(i, j int) bool { return runs[i].RunID < runs[j].RunID })
	routes := t.Routes
	if routes == nil {
		routes = []string{}
	}
	return &TaskInfo{
		Version:       TaskInfoVersion,
		TaskID:        slugid.Encode(t.TaskID),
		ProvisionerID: t.ProvisionerID,
		WorkerType:    t.WorkerType,
		SchedulerID:   t.SchedulerID,
		TaskGroupID:   slugid.Encode(t.TaskGroupID),
		Created:       t.Created,
		Deadline:      t.Deadline,
		RetriesLeft:   t.RetriesLeft,
		Routes:        routes,
		Owner:         t.Owner,
		Runs:          runs,
	}
}

// Deserialize validates info and builds the task it describes. Timestamps
// are normalized to UTC.
func Deserialize(info *TaskInfo) (*Task, error) {
	if info == nil {
		return nil, fmt.Errorf("%w: nil", ErrInvalidTaskInfo)
	}
	if info.Version != TaskInfoVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidTaskInfo, info.Version)
	}
	taskID, err := slugid.Decode(info.TaskID)
	if err != nil {
		return nil, fmt.Errorf("%w: taskId: %w", ErrInvalidTaskInfo, err)
	}
	taskGroupID, err := slugid.Decode(info.TaskGroupID)
	if err != nil {
		return nil, fmt.Errorf("%w: taskGroupId: %w", ErrInvalidTaskInfo, err)
	}
	if info.RetriesLeft < 0 {
		return nil, fmt.Errorf("%w: retriesLeft %d is negative", ErrInvalidTaskInfo, info.RetriesLeft)
	}
	if info.ProvisionerID == "" || info.WorkerType == "" {
		return nil, fmt.Errorf("%w: provisionerId and workerType are required", ErrInvalidTaskInfo)
	}
	if len(info.ProvisionerID) > MaxIdentifierLength || len(info.WorkerType) > MaxIdentifierLength ||
		len(info.SchedulerID) > MaxIdentifierLength {
		return nil, fmt.Errorf("%w: identifiers are limited to %d characters", ErrInvalidTaskInfo, MaxIdentifierLength)
	}

	t := &Task{
		TaskID:        taskID,
		ProvisionerID: info.ProvisionerID,
		WorkerType:    info.WorkerType,
		SchedulerID:   info.SchedulerID,
		TaskGroupID:   taskGroupID,
		Created:       info.Created.UTC(),
		Deadline:      info.Deadline.UTC(),
		RetriesLeft:   info.RetriesLeft,
		Routes:        append([]string{}, info.Routes...),
		Owner:         info.Owner,
	}

	if lo.Contains(info.Runs, (*RunInfo)(nil)) {
		return nil, fmt.Errorf("%w: null run", ErrInvalidTaskInfo)
	}
	runs := append([]*RunInfo{}, info.Runs...)
	sort.Slice(runs, func(i, j int) bool { return runs[i].RunID < runs[j].RunID })
	for i, ri := range runs {
		if ri.RunID != i {
			return nil, fmt.Errorf("%w: run ids must be contiguous from 0", ErrInvalidTaskInfo)
		}
		if !ri.State.Valid() || !ri.ReasonCreated.Valid() {
			return nil, fmt.Errorf("%w: run %d has state %q reason %q", ErrInvalidTaskInfo, i, ri.State, ri.ReasonCreated)
		}
		if ri.ReasonResolved != nil && !ri.ReasonResolved.Valid() {
			return nil, fmt.Errorf("%w: run %d has reasonResolved %q", ErrInvalidTaskInfo, i, *ri.ReasonResolved)
		}
		if len(lo.FromPtr(ri.WorkerGroup)) > MaxWorkerGroupLength || len(lo.FromPtr(ri.WorkerID)) > MaxIdentifierLength {
			return nil, fmt.Errorf("%w: run %d worker is too long", ErrInvalidTaskInfo, i)
		}
		if !ri.State.IsResolved() && i != len(runs)-1 {
			return nil, fmt.Errorf("%w: run %d is %s but is not the last run", ErrInvalidTaskInfo, i, ri.State)
		}
		t.Runs = append(t.Runs, &Run{
			TaskID:         taskID,
			RunID:          ri.RunID,
			State:          ri.State,
			ReasonCreated:  ri.ReasonCreated,
			ReasonResolved: ri.ReasonResolved,
			Success:        ri.Success,
			WorkerGroup:    ri.WorkerGroup,
			WorkerID:       ri.WorkerID,
			TakenUntil:     utcPtr(ri.TakenUntil),
			Scheduled:      ri.Scheduled.UTC(),
			Started:        utcPtr(ri.Started),
			Resolved:       utcPtr(ri.Resolved),
		})
	}
	return t, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
