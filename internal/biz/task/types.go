package task

// Column widths for the identifiers a task and its runs carry.
const (
	MaxIdentifierLength  = 22
	MaxWorkerGroupLength = 255
)

// RunState is the lifecycle state of a single run.
type RunState string

const (
	RunStatePending   RunState = "pending"
	RunStateRunning   RunState = "running"
	RunStateCompleted RunState = "completed"
	RunStateFailed    RunState = "failed"
)

// IsResolved reports whether the state is terminal.
func (s RunState) IsResolved() bool {
	return s == RunStateCompleted || s == RunStateFailed
}

func (s RunState) Valid() bool {
	switch s {
	case RunStatePending, RunStateRunning, RunStateCompleted, RunStateFailed:
		return true
	}
	return false
}

// StateUnscheduled is reported by Status for tasks without runs.
const StateUnscheduled = "unscheduled"

// ReasonCreated records why a run exists.
type ReasonCreated string

const (
	ReasonCreatedNewTask   ReasonCreated = "new-task"
	ReasonCreatedRetry     ReasonCreated = "retry"
	ReasonCreatedRerun     ReasonCreated = "rerun"
	ReasonCreatedScheduled ReasonCreated = "scheduled"
)

func (r ReasonCreated) Valid() bool {
	switch r {
	case ReasonCreatedNewTask, ReasonCreatedRetry, ReasonCreatedRerun, ReasonCreatedScheduled:
		return true
	}
	return false
}

// ReasonResolved records how a run left pending/running.
type ReasonResolved string

const (
	ReasonResolvedCompleted        ReasonResolved = "completed"
	ReasonResolvedFailed           ReasonResolved = "failed"
	ReasonResolvedDeadlineExceeded ReasonResolved = "deadline-exceeded"
	ReasonResolvedClaimExpired     ReasonResolved = "claim-expired"
	ReasonResolvedCanceled         ReasonResolved = "canceled"
)

func (r ReasonResolved) Valid() bool {
	switch r {
	case ReasonResolvedCompleted, ReasonResolvedFailed, ReasonResolvedDeadlineExceeded,
		ReasonResolvedClaimExpired, ReasonResolvedCanceled:
		return true
	}
	return false
}

// TaskInfoVersion is the only serialized layout understood by Deserialize.
const TaskInfoVersion = 1
