package taskrepo

import (
	"time"

	"github.com/google/uuid"
	domain "github.com/jobs/taskqueue/internal/biz/task"
	"gorm.io/datatypes"
)

type TaskPo struct {
	TaskID        uuid.UUID                   `gorm:"column:task_id;type:char(36);primaryKey"`
	ProvisionerID string                      `gorm:"column:provisioner_id;size:22;not null;index:idx_tasks_queue"`
	WorkerType    string                      `gorm:"column:worker_type;size:22;not null;index:idx_tasks_queue"`
	SchedulerID   string                      `gorm:"column:scheduler_id;size:22;not null"`
	TaskGroupID   uuid.UUID                   `gorm:"column:task_group_id;type:char(36);not null;index"`
	Created       time.Time                   `gorm:"column:created;precision:6;not null"`
	Deadline      time.Time                   `gorm:"column:deadline;precision:6;not null;index"`
	RetriesLeft   int                         `gorm:"column:retries_left;not null"`
	Routes        datatypes.JSONSlice[string] `gorm:"column:routes"`
	Owner         string                      `gorm:"column:owner;size:255;not null"`

	// Runs only declares the foreign key on runs; deleting a task deletes its runs.
	Runs []RunPo `gorm:"foreignKey:TaskID;references:TaskID;constraint:OnDelete:CASCADE"`
}

func (TaskPo) TableName() string {
	return "tasks"
}

type RunPo struct {
	TaskID         uuid.UUID              `gorm:"column:task_id;type:char(36);primaryKey"`
	RunID          int                    `gorm:"column:run_id;primaryKey;autoIncrement:false"`
	State          domain.RunState        `gorm:"column:state;size:16;not null;index"`
	ReasonCreated  domain.ReasonCreated   `gorm:"column:reason_created;size:16;not null"`
	ReasonResolved *domain.ReasonResolved `gorm:"column:reason_resolved;size:32"`
	Success        *bool                  `gorm:"column:success"`
	WorkerGroup    *string                `gorm:"column:worker_group;size:255"`
	WorkerID       *string                `gorm:"column:worker_id;size:22"`
	TakenUntil     *time.Time             `gorm:"column:taken_until;precision:6"`
	Scheduled      time.Time              `gorm:"column:scheduled;precision:6;not null;index"`
	Started        *time.Time             `gorm:"column:started;precision:6"`
	Resolved       *time.Time             `gorm:"column:resolved;precision:6"`
}

func (RunPo) TableName() string {
	return "runs"
}

// Models lists the tables in creation order.
func Models() []any {
	return []any{&TaskPo{}, &RunPo{}}
}
