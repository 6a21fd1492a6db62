package taskrepo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/google/wire"
	domain "github.com/jobs/taskqueue/internal/biz/task"
	"github.com/jobs/taskqueue/internal/infra/persistence/commonrepo"
	"github.com/jobs/taskqueue/pkg/slugid"
	"github.com/samber/lo"
	"github.com/samber/mo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var Provider = wire.NewSet(NewRepositoryImpl)

type RepositoryImpl struct {
	commonrepo.DefaultRepo
}

func NewRepositoryImpl(db commonrepo.DB, policy commonrepo.RetryPolicy) domain.Repo {
	return &RepositoryImpl{DefaultRepo: commonrepo.NewDefaultRepo(db, policy)}
}

// forUpdate adds FOR UPDATE. SQLite has no row locks; its transactions hold
// the database write lock instead.
func forUpdate(db *gorm.DB) *gorm.DB {
	if db.Dialector.Name() == "sqlite" {
		return db
	}
	return db.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate})
}

type runKeyRow struct {
	TaskID      uuid.UUID `gorm:"column:task_id"`
	RunID       int       `gorm:"column:run_id"`
	RetriesLeft int       `gorm:"column:retries_left"`
}

func (r *RepositoryImpl) Load(ctx context.Context, taskID uuid.UUID) (*domain.Task, error) {
	var po TaskPo
	if err := r.Db(ctx).Where("task_id = ?", taskID).Take(&po).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var runs []RunPo
	if err := r.Db(ctx).Where("task_id = ?", taskID).Order("run_id").Find(&runs).Error; err != nil {
		return nil, err
	}
	return po.ToDomain(runs), nil
}

func (r *RepositoryImpl) CreateTask(ctx context.Context, task *domain.Task) error {
	if err := r.Db(ctx).Create(new(TaskPo).FromDomain(task)).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: task %s", domain.ErrAlreadyExists, slugid.Encode(task.TaskID))
		}
		return err
	}
	if len(task.Runs) == 0 {
		return nil
	}
	runs := lo.Map(task.Runs, func(run *domain.Run, _ int) *RunPo {
		return new(RunPo).FromDomain(run)
	})
	return r.Db(ctx).Create(&runs).Error
}

func (r *RepositoryImpl) InsertRun(ctx context.Context, run *domain.Run) error {
	if err := r.Db(ctx).Create(new(RunPo).FromDomain(run)).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: run %s/%d already exists", domain.ErrConflict, slugid.Encode(run.TaskID), run.RunID)
		}
		return err
	}
	return nil
}

func (r *RepositoryImpl) LockTask(ctx context.Context, taskID uuid.UUID) (bool, error) {
	var po TaskPo
	err := r.Db(ctx).Scopes(forUpdate).Select("task_id").Where("task_id = ?", taskID).Take(&po).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (r *RepositoryImpl) LockRun(ctx context.Context, taskID uuid.UUID, runID int) (*domain.Run, error) {
	var po RunPo
	err := r.Db(ctx).Scopes(forUpdate).Where("task_id = ? AND run_id = ?", taskID, runID).Take(&po).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return po.ToDomain(), nil
}

func (r *RepositoryImpl) LockOldestPending(ctx context.Context, provisionerID, workerType string) (*domain.RunKey, error) {
	var rows []runKeyRow
	err := r.Db(ctx).Table("runs").
		Select("runs.task_id, runs.run_id").
		Joins("JOIN tasks ON tasks.task_id = runs.task_id").
		Where("runs.state = ? AND tasks.provisioner_id = ? AND tasks.worker_type = ?",
			domain.RunStatePending, provisionerID, workerType).
		Order("runs.scheduled, runs.task_id, runs.run_id").
		Limit(1).
		Scopes(forUpdate).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &domain.RunKey{TaskID: rows[0].TaskID, RunID: rows[0].RunID}, nil
}

func (r *RepositoryImpl) LockExpiredClaims(ctx context.Context, filter *domain.ExpiredClaimFilter) ([]*domain.ExpiredClaim, error) {
	query := r.Db(ctx).Table("runs").
		Select("runs.task_id, runs.run_id, tasks.retries_left").
		Joins("JOIN tasks ON tasks.task_id = runs.task_id").
		Where("runs.state = ? AND runs.taken_until < ? AND tasks.deadline > ?",
			domain.RunStateRunning, filter.Now, filter.Now)
	if filter.WithRetries {
		query = query.Where("tasks.retries_left > 0")
	} else {
		query = query.Where("tasks.retries_left = 0")
	}

	var rows []runKeyRow
	if err := query.Order("runs.task_id, runs.run_id").Scopes(forUpdate).Find(&rows).Error; err != nil {
		return nil, err
	}
	return lo.Map(rows, func(row runKeyRow, _ int) *domain.ExpiredClaim {
		return &domain.ExpiredClaim{
			RunKey:      domain.RunKey{TaskID: row.TaskID, RunID: row.RunID},
			RetriesLeft: row.RetriesLeft,
		}
	}), nil
}

func (r *RepositoryImpl) LockDeadlineExceeded(ctx context.Context, now time.Time) ([]*domain.RunKey, error) {
	var rows []runKeyRow
	err := r.Db(ctx).Table("runs").
		Select("runs.task_id, runs.run_id").
		Joins("JOIN tasks ON tasks.task_id = runs.task_id").
		Where("runs.state IN ? AND tasks.deadline < ?",
			[]domain.RunState{domain.RunStatePending, domain.RunStateRunning}, now).
		Order("runs.task_id, runs.run_id").
		Scopes(forUpdate).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return lo.Map(rows, func(row runKeyRow, _ int) *domain.RunKey {
		return &domain.RunKey{TaskID: row.TaskID, RunID: row.RunID}
	}), nil
}

func (r *RepositoryImpl) LockTasksPastDeadline(ctx context.Context, before time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.Db(ctx).Model(&TaskPo{}).
		Where("deadline < ?", before).
		Order("deadline").
		Scopes(forUpdate).
		Pluck("task_id", &ids).Error
	return ids, err
}

func (r *RepositoryImpl) UpdateRun(ctx context.Context, pred *domain.RunPredicate, patch *domain.RunPatch) (int64, error) {
	values := runPatchToMap(patch)
	if len(values) == 0 {
		return 0, nil
	}
	query := r.Db(ctx).Model(&RunPo{}).Where("task_id = ? AND run_id = ?", pred.TaskID, pred.RunID)
	if len(pred.States) > 0 {
		query = query.Where("state IN ?", pred.States)
	}
	if v, ok := pred.WorkerGroup.Get(); ok {
		query = query.Where("worker_group = ?", v)
	}
	if v, ok := pred.WorkerID.Get(); ok {
		query = query.Where("worker_id = ?", v)
	}
	if pred.Unstarted {
		query = query.Where("started IS NULL")
	}
	if v, ok := pred.TakenBefore.Get(); ok {
		query = query.Where("taken_until < ?", v.UTC())
	}
	res := query.Updates(values)
	return res.RowsAffected, res.Error
}

func (r *RepositoryImpl) UpdateRetriesLeft(ctx context.Context, taskID uuid.UUID, expected mo.Option[int], value int) (int64, error) {
	query := r.Db(ctx).Model(&TaskPo{}).Where("task_id = ?", taskID)
	if v, ok := expected.Get(); ok {
		query = query.Where("retries_left = ?", v)
	}
	res := query.Update("retries_left", value)
	return res.RowsAffected, res.Error
}

func (r *RepositoryImpl) CountRuns(ctx context.Context, taskID uuid.UUID, runID int) (int64, error) {
	var count int64
	err := r.Db(ctx).Model(&RunPo{}).Where("task_id = ? AND run_id = ?", taskID, runID).Count(&count).Error
	return count, err
}

func (r *RepositoryImpl) DeleteTask(ctx context.Context, taskID uuid.UUID, deadlineBefore time.Time) (int64, error) {
	res := r.Db(ctx).Where("task_id = ? AND deadline < ?", taskID, deadlineBefore).Delete(&TaskPo{})
	return res.RowsAffected, res.Error
}

func (r *RepositoryImpl) QueryPending(ctx context.Context, provisionerID string) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.Db(ctx).Table("runs").
		Joins("JOIN tasks ON tasks.task_id = runs.task_id").
		Where("runs.state = ? AND tasks.provisioner_id = ?", domain.RunStatePending, provisionerID).
		Distinct().
		Order("runs.task_id").
		Pluck("runs.task_id", &ids).Error
	return ids, err
}
