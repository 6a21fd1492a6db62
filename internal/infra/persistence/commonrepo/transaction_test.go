package commonrepo_test

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jobs/taskqueue/internal/infra/persistence/commonrepo"
	"github.com/jobs/taskqueue/internal/orm/ormtest"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastRetry = commonrepo.RetryPolicy{Attempts: 3, Min: time.Millisecond, Max: 2 * time.Millisecond}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), false},
		{"mysql deadlock", &mysql.MySQLError{Number: 1213}, true},
		{"mysql lock wait", fmt.Errorf("update: %w", &mysql.MySQLError{Number: 1205}), true},
		{"mysql duplicate", &mysql.MySQLError{Number: 1062}, false},
		{"sqlite busy", sqlite3.Error{Code: sqlite3.ErrBusy}, true},
		{"sqlite locked", sqlite3.Error{Code: sqlite3.ErrLocked}, true},
		{"sqlite constraint", sqlite3.Error{Code: sqlite3.ErrConstraint}, false},
		{"bad conn", driver.ErrBadConn, true},
		{"invalid conn", mysql.ErrInvalidConn, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, commonrepo.IsTransient(tt.err))
		})
	}
}

func TestExecuteRetriesTransientErrors(t *testing.T) {
	repo := commonrepo.NewDefaultRepo(ormtest.New(t).DB(), fastRetry)

	calls := 0
	err := repo.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return sqlite3.Error{Code: sqlite3.ErrBusy}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestExecuteGivesUp(t *testing.T) {
	repo := commonrepo.NewDefaultRepo(ormtest.New(t).DB(), fastRetry)

	calls := 0
	err := repo.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return &mysql.MySQLError{Number: 1213}
	})
	require.Error(t, err)
	assert.Equal(t, fastRetry.Attempts, calls)

	calls = 0
	boom := errors.New("boom")
	err = repo.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestExecuteStopsOnCancel(t *testing.T) {
	repo := commonrepo.NewDefaultRepo(ormtest.New(t).DB(), commonrepo.RetryPolicy{
		Attempts: 10, Min: time.Hour, Max: time.Hour,
	})
	ctx, cancel := context.WithCancel(context.Background())

	err := repo.Execute(ctx, func(context.Context) error {
		cancel()
		return sqlite3.Error{Code: sqlite3.ErrBusy}
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExecuteJoinsOuterTransaction(t *testing.T) {
	storage := ormtest.New(t)
	repo := commonrepo.NewDefaultRepo(storage.DB(), fastRetry)
	require.NoError(t, storage.DB().Exec("CREATE TABLE marks (n integer)").Error)

	boom := errors.New("rollback")
	err := repo.Execute(context.Background(), func(ctx context.Context) error {
		if err := repo.Db(ctx).Exec("INSERT INTO marks (n) VALUES (1)").Error; err != nil {
			return err
		}
		inner := repo.Execute(ctx, func(ctx context.Context) error {
			return repo.Db(ctx).Exec("INSERT INTO marks (n) VALUES (2)").Error
		})
		require.NoError(t, inner)
		return boom
	})
	require.ErrorIs(t, err, boom)

	var count int64
	require.NoError(t, storage.DB().Table("marks").Count(&count).Error)
	assert.Zero(t, count, "inner work rolls back with the outer transaction")
}
