package main

import (
	"context"

	redis "github.com/go-redis/redis/v8"
	"github.com/jobs/taskqueue/internal/api"
	"github.com/jobs/taskqueue/internal/scheduler"
	"github.com/jobs/taskqueue/pkg/config"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type App struct {
	cfg       config.Config
	server    *api.Server
	scheduler *scheduler.Scheduler
	redis     *redis.Client
	logger    *zap.Logger
}

func NewApp(
	cfg config.Config,
	server *api.Server,
	scheduler *scheduler.Scheduler,
	rdb *redis.Client,
	logger *zap.Logger,
) *App {
	return &App{
		cfg:       cfg,
		server:    server,
		scheduler: scheduler,
		redis:     rdb,
		logger:    logger,
	}
}

// Start 启动调度器和 HTTP 服务
func (a *App) Start(ctx context.Context) error {
	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return err
		}
	}
	if a.cfg.Scheduler.Enabled {
		if err := a.scheduler.Start(); err != nil {
			return err
		}
	} else {
		a.logger.Info("scheduler disabled, sweeps will not run on this instance")
	}
	a.server.Start()
	return nil
}

// Stop 先停止接收请求，再停止调度器
func (a *App) Stop(ctx context.Context) error {
	err := a.server.Shutdown(ctx)
	if a.cfg.Scheduler.Enabled {
		err = multierr.Append(err, a.scheduler.Stop())
	}
	if a.redis != nil {
		err = multierr.Append(err, a.redis.Close())
	}
	return err
}

// Sweep runs every sweep and the retention mover once.
func (a *App) Sweep(ctx context.Context) error {
	return a.scheduler.RunOnce(ctx)
}
