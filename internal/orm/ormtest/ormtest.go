// Package ormtest opens throwaway SQLite stores for tests.
package ormtest

import (
	"path/filepath"
	"testing"

	"github.com/jobs/taskqueue/internal/orm"
	"github.com/stretchr/testify/require"
)

// New returns a migrated store in t's temp dir. A single connection keeps
// transactions strictly serialized.
func New(t testing.TB) *orm.Storage {
	t.Helper()
	return open(t, 1)
}

// NewShared returns a migrated store with a pool of conns connections, so
// concurrent callers run their transactions side by side. Writers contend
// on the database lock taken by BEGIN IMMEDIATE.
func NewShared(t testing.TB, conns int) *orm.Storage {
	t.Helper()
	return open(t, conns)
}

func open(t testing.TB, conns int) *orm.Storage {
	s, err := orm.New(orm.Config{
		Driver:             orm.DriverSQLite,
		Database:           filepath.Join(t.TempDir(), "queue.db"),
		MaxConnections:     conns,
		MaxIdleConnections: conns,
		LogLevel:           "silent",
		AutoMigrate:        true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}
