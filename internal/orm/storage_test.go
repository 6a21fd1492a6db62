package orm_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	domain "github.com/jobs/taskqueue/internal/biz/task"

	"github.com/jobs/taskqueue/internal/infra/persistence/taskrepo"
	"github.com/jobs/taskqueue/internal/orm"
	"github.com/jobs/taskqueue/internal/orm/ormtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureAndDropTables(t *testing.T) {
	s := ormtest.New(t)
	m := s.DB().Migrator()
	assert.True(t, m.HasTable(&taskrepo.TaskPo{}))
	assert.True(t, m.HasTable(&taskrepo.RunPo{}))

	// idempotent
	require.NoError(t, s.EnsureTables())

	require.NoError(t, s.DropTables())
	assert.False(t, m.HasTable("tasks"))
	assert.False(t, m.HasTable("runs"))

	require.NoError(t, s.EnsureTables())
	assert.True(t, m.HasTable("runs"))
}

func TestRunsReferenceTasks(t *testing.T) {
	s := ormtest.New(t)

	type fkRow struct {
		Table    string `gorm:"column:table"`
		From     string `gorm:"column:from"`
		To       string `gorm:"column:to"`
		OnDelete string `gorm:"column:on_delete"`
	}
	var runFKs, taskFKs []fkRow
	require.NoError(t, s.DB().Raw("PRAGMA foreign_key_list(runs)").Scan(&runFKs).Error)
	require.NoError(t, s.DB().Raw("PRAGMA foreign_key_list(tasks)").Scan(&taskFKs).Error)
	assert.Empty(t, taskFKs)
	require.Len(t, runFKs, 1)
	assert.Equal(t, fkRow{Table: "tasks", From: "task_id", To: "task_id", OnDelete: "CASCADE"}, runFKs[0])

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	keep, gone := uuid.New(), uuid.New()
	for _, id := range []uuid.UUID{keep, gone} {
		require.NoError(t, s.DB().Create(&taskrepo.TaskPo{
			TaskID:        id,
			ProvisionerID: "prov",
			WorkerType:    "wt",
			SchedulerID:   "sched",
			TaskGroupID:   id,
			Created:       now,
			Deadline:      now.Add(time.Hour),
			Owner:         "me@example.com",
		}).Error)
		for runID := 0; runID < 2; runID++ {
			require.NoError(t, s.DB().Create(&taskrepo.RunPo{
				TaskID:        id,
				RunID:         runID,
				State:         domain.RunStatePending,
				ReasonCreated: domain.ReasonCreatedScheduled,
				Scheduled:     now,
			}).Error)
		}
	}

	orphan := &taskrepo.RunPo{
		TaskID:        uuid.New(),
		State:         domain.RunStatePending,
		ReasonCreated: domain.ReasonCreatedScheduled,
		Scheduled:     now,
	}
	assert.Error(t, s.DB().Create(orphan).Error, "a run needs its task")

	require.NoError(t, s.DB().Where("task_id = ?", gone).Delete(&taskrepo.TaskPo{}).Error)

	var left []taskrepo.RunPo
	require.NoError(t, s.DB().Order("run_id").Find(&left).Error)
	require.Len(t, left, 2)
	for _, run := range left {
		assert.Equal(t, keep, run.TaskID)
	}
}

func TestPing(t *testing.T) {
	s := ormtest.New(t)
	assert.NoError(t, s.Ping(context.Background()))
}

func TestUnsupportedDriver(t *testing.T) {
	_, err := orm.New(orm.Config{Driver: "oracle"})
	assert.Error(t, err)
}

func TestNewWithoutMigration(t *testing.T) {
	s, err := orm.New(orm.Config{
		Driver:         orm.DriverSQLite,
		Database:       filepath.Join(t.TempDir(), "empty.db"),
		MaxConnections: 1,
		LogLevel:       "silent",
	})
	require.NoError(t, err)
	defer s.Close()
	assert.False(t, s.DB().Migrator().HasTable("tasks"))
}
