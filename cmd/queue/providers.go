package main

import (
	"fmt"
	"net"
	"strconv"

	redis "github.com/go-redis/redis/v8"
	"github.com/jobs/taskqueue/internal/api"
	"github.com/jobs/taskqueue/internal/archive"
	"github.com/jobs/taskqueue/internal/biz/task"
	"github.com/jobs/taskqueue/internal/events"
	"github.com/jobs/taskqueue/internal/infra/persistence/commonrepo"
	"github.com/jobs/taskqueue/internal/orm"
	"github.com/jobs/taskqueue/internal/scheduler"
	"github.com/jobs/taskqueue/pkg/config"
	"github.com/raulk/clock"
)

// ProvideRedisClient builds a redis client from typed config.
// Returns nil when redis is disabled.
func ProvideRedisClient(cfg config.Config) *redis.Client {
	if !cfg.Redis.Enabled {
		return nil
	}
	addr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

func ProvideStorageConfig(cfg config.Config) orm.Config {
	return orm.Config{
		Driver:                cfg.Database.Driver,
		Host:                  cfg.Database.Host,
		Port:                  cfg.Database.Port,
		Database:              cfg.Database.Database,
		User:                  cfg.Database.User,
		Password:              cfg.Database.Password,
		MaxConnections:        cfg.Database.MaxConnections,
		MaxIdleConnections:    cfg.Database.MaxIdleConnections,
		ConnectionMaxLifetime: cfg.Database.ConnectionMaxLifetime,
		LogLevel:              cfg.Database.LogLevel,
		AutoMigrate:           cfg.Database.AutoMigrate,
	}
}

func ProvideDB(storage *orm.Storage) commonrepo.DB {
	return storage.DB()
}

func ProvideRetryPolicy(cfg config.Config) commonrepo.RetryPolicy {
	return commonrepo.RetryPolicy{
		Attempts: cfg.Database.RetryAttempts,
		Min:      cfg.Database.RetryMinBackoff,
		Max:      cfg.Database.RetryMaxBackoff,
	}
}

func ProvideClock() clock.Clock {
	return clock.New()
}

func ProvideTaskConfig(cfg config.Config) task.Config {
	return task.Config{Retention: cfg.Queue.Retention}
}

func ProvideArchiveConfig(cfg config.Config) archive.Config {
	return archive.Config{
		Backend:   cfg.Archive.Backend,
		KeyPrefix: cfg.Archive.KeyPrefix,
		TTL:       cfg.Archive.TTL,
	}
}

func ProvideEventsConfig(cfg config.Config) events.Config {
	return events.Config{
		Backend:       cfg.Events.Backend,
		ChannelPrefix: cfg.Events.ChannelPrefix,
	}
}

// ProvideEventBuilder stamps messages with this instance's id.
func ProvideEventBuilder(cfg config.Config, clk clock.Clock) *events.Builder {
	return events.NewBuilder(cfg.Scheduler.InstanceID, clk)
}

func ProvideSchedulerConfig(cfg config.Config) scheduler.Config {
	return scheduler.Config{
		InstanceID:        cfg.Scheduler.InstanceID,
		LeaderElection:    cfg.Scheduler.LeaderElection,
		LockKey:           cfg.Scheduler.LockKey,
		LockTimeout:       cfg.Scheduler.LockTimeout,
		HeartbeatInterval: cfg.Scheduler.HeartbeatInterval,
		ClaimResolver:     cfg.Queue.ClaimResolver,
		DeadlineResolver:  cfg.Queue.DeadlineResolver,
		RetentionMover:    cfg.Queue.RetentionMover,
	}
}

func ProvideAPIConfig(cfg config.Config) api.Config {
	return api.Config{ClaimTimeout: cfg.Queue.ClaimTimeout}
}

func ProvideServerConfig(cfg config.Config) api.ServerConfig {
	sc := api.ServerConfig{
		Addr:           net.JoinHostPort(cfg.Server.IP, strconv.Itoa(cfg.Server.Port)),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}
	if cfg.Metrics.Enabled {
		sc.MetricsPath = cfg.Metrics.Path
	}
	return sc
}
