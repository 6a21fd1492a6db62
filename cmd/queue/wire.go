//go:build wireinject
// +build wireinject

package main

//go:generate go run -mod=mod github.com/google/wire/cmd/wire

import (
	"github.com/google/wire"
	"github.com/jobs/taskqueue/internal/api"
	"github.com/jobs/taskqueue/internal/archive"
	"github.com/jobs/taskqueue/internal/biz/task"
	"github.com/jobs/taskqueue/internal/events"
	"github.com/jobs/taskqueue/internal/infra/persistence/taskrepo"
	"github.com/jobs/taskqueue/internal/metrics"
	"github.com/jobs/taskqueue/internal/orm"
	"github.com/jobs/taskqueue/internal/scheduler"
	"github.com/jobs/taskqueue/pkg/config"
	"go.uber.org/zap"
)

func InitializeStorage(cfg config.Config) (*orm.Storage, error) {
	wire.Build(
		ProvideStorageConfig,
		orm.Provider,
	)
	return nil, nil
}

func InitializeApp(logger *zap.Logger, cfg config.Config, storage *orm.Storage) (*App, error) {
	wire.Build(
		NewApp,

		ProvideRedisClient,
		ProvideDB,
		ProvideRetryPolicy,
		ProvideClock,
		ProvideTaskConfig,
		ProvideArchiveConfig,
		ProvideEventsConfig,
		ProvideEventBuilder,
		ProvideSchedulerConfig,
		ProvideAPIConfig,
		ProvideServerConfig,

		// other
		scheduler.Provider,
		archive.Provider,
		events.Provider,
		metrics.Provider,

		// http api providers
		api.Provider,

		// biz providers
		task.Provider,

		// infra providers
		taskrepo.Provider,
	)
	return nil, nil
}
