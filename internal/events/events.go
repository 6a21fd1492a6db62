// Package events publishes task state transitions for outside consumers.
package events

import (
	"context"

	"github.com/google/wire"
	"github.com/jobs/taskqueue/internal/biz/task"
	"github.com/jobs/taskqueue/pkg/slugid"
	"github.com/raulk/clock"
)

var Provider = wire.NewSet(New)

// Kind names a transition. It is also the channel suffix.
type Kind string

const (
	KindTaskDefined   Kind = "task-defined"
	KindTaskPending   Kind = "task-pending"
	KindTaskRunning   Kind = "task-running"
	KindTaskCompleted Kind = "task-completed"
	KindTaskFailed    Kind = "task-failed"
	KindTaskException Kind = "task-exception"
)

// Message is the payload published for every transition.
type Message struct {
	Kind      Kind             `json:"kind"`
	TaskID    string           `json:"taskId"`
	RunID     *int             `json:"runId,omitempty"`
	State     string           `json:"state"`
	Routes    []string         `json:"routes"`
	Status    *task.TaskStatus `json:"status"`
	Source    string           `json:"source,omitempty"`
	Timestamp int64            `json:"ts"`
}

type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// KindForRun maps a run's current state to the message announcing it.
// Runs that ended without a worker report, through expiry or cancellation,
// are exceptions.
func KindForRun(run *task.Run) Kind {
	switch run.State {
	case task.RunStatePending:
		return KindTaskPending
	case task.RunStateRunning:
		return KindTaskRunning
	case task.RunStateCompleted:
		return KindTaskCompleted
	}
	if run.ReasonResolved != nil && *run.ReasonResolved == task.ReasonResolvedFailed {
		return KindTaskFailed
	}
	return KindTaskException
}

// Builder stamps messages with the publishing instance and time.
type Builder struct {
	source string
	clock  clock.Clock
}

func NewBuilder(source string, clk clock.Clock) *Builder {
	return &Builder{source: source, clock: clk}
}

// Defined announces a task that has no run yet.
func (b *Builder) Defined(t *task.Task) Message {
	return b.message(KindTaskDefined, t, nil)
}

// ForRun announces the current state of run runID of t.
func (b *Builder) ForRun(t *task.Task, runID int) Message {
	run := t.Run(runID)
	if run == nil {
		return b.Defined(t)
	}
	return b.message(KindForRun(run), t, &runID)
}

// ForLastRuns announces the last run of every task, which is what a sweep
// touched. A sweep that scheduled a retry also announces the expired run.
func (b *Builder) ForLastRuns(tasks []*task.Task) []Message {
	var out []Message
	for _, t := range tasks {
		last := t.LastRun()
		if last == nil {
			continue
		}
		if last.State == task.RunStatePending && last.RunID > 0 {
			out = append(out, b.ForRun(t, last.RunID-1))
		}
		out = append(out, b.ForRun(t, last.RunID))
	}
	return out
}

func (b *Builder) message(kind Kind, t *task.Task, runID *int) Message {
	status := t.Status()
	return Message{
		Kind:      kind,
		TaskID:    slugid.Encode(t.TaskID),
		RunID:     runID,
		State:     status.State,
		Routes:    append([]string{}, t.Routes...),
		Status:    status,
		Source:    b.source,
		Timestamp: b.clock.Now().UnixMilli(),
	}
}
