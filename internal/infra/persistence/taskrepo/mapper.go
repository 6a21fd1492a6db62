package taskrepo

import (
	"time"

	domain "github.com/jobs/taskqueue/internal/biz/task"
	"github.com/samber/lo"
	"gorm.io/datatypes"
)

func (po *TaskPo) FromDomain(in *domain.Task) *TaskPo {
	routes := in.Routes
	if routes == nil {
		routes = []string{}
	}
	return &TaskPo{
		TaskID:        in.TaskID,
		ProvisionerID: in.ProvisionerID,
		WorkerType:    in.WorkerType,
		SchedulerID:   in.SchedulerID,
		TaskGroupID:   in.TaskGroupID,
		Created:       in.Created.UTC(),
		Deadline:      in.Deadline.UTC(),
		RetriesLeft:   in.RetriesLeft,
		Routes:        datatypes.NewJSONSlice(routes),
		Owner:         in.Owner,
	}
}

func (po *TaskPo) ToDomain(runs []RunPo) *domain.Task {
	return &domain.Task{
		TaskID:        po.TaskID,
		ProvisionerID: po.ProvisionerID,
		WorkerType:    po.WorkerType,
		SchedulerID:   po.SchedulerID,
		TaskGroupID:   po.TaskGroupID,
		Created:       po.Created.UTC(),
		Deadline:      po.Deadline.UTC(),
		RetriesLeft:   po.RetriesLeft,
		Routes:        append([]string{}, po.Routes...),
		Owner:         po.Owner,
		Runs: lo.Map(runs, func(r RunPo, _ int) *domain.Run {
			return r.ToDomain()
		}),
	}
}

func (po *RunPo) FromDomain(in *domain.Run) *RunPo {
	return &RunPo{
		TaskID:         in.TaskID,
		RunID:          in.RunID,
		State:          in.State,
		ReasonCreated:  in.ReasonCreated,
		ReasonResolved: in.ReasonResolved,
		Success:        in.Success,
		WorkerGroup:    in.WorkerGroup,
		WorkerID:       in.WorkerID,
		TakenUntil:     utc(in.TakenUntil),
		Scheduled:      in.Scheduled.UTC(),
		Started:        utc(in.Started),
		Resolved:       utc(in.Resolved),
	}
}

func (po *RunPo) ToDomain() *domain.Run {
	return &domain.Run{
		TaskID:         po.TaskID,
		RunID:          po.RunID,
		State:          po.State,
		ReasonCreated:  po.ReasonCreated,
		ReasonResolved: po.ReasonResolved,
		Success:        po.Success,
		WorkerGroup:    po.WorkerGroup,
		WorkerID:       po.WorkerID,
		TakenUntil:     utc(po.TakenUntil),
		Scheduled:      po.Scheduled.UTC(),
		Started:        utc(po.Started),
		Resolved:       utc(po.Resolved),
	}
}

func runPatchToMap(input *domain.RunPatch) map[string]any {
	var values = make(map[string]any)

	if input.State != nil {
		values["state"] = *input.State
	}

	if input.ReasonResolved != nil {
		values["reason_resolved"] = *input.ReasonResolved
	}

	if input.Success != nil {
		values["success"] = *input.Success
	}

	if input.WorkerGroup != nil {
		values["worker_group"] = *input.WorkerGroup
	}

	if input.WorkerID != nil {
		values["worker_id"] = *input.WorkerID
	}

	if input.TakenUntil != nil {
		values["taken_until"] = input.TakenUntil.UTC()
	}

	if input.Started != nil {
		values["started"] = input.Started.UTC()
	}

	if input.Resolved != nil {
		values["resolved"] = input.Resolved.UTC()
	}

	return values
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
