package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jobs/taskqueue/internal/orm"
	"github.com/jobs/taskqueue/pkg/config"
	"github.com/jobs/taskqueue/pkg/logger"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

var configFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Usage:   "path to config file; empty uses defaults and TASKQUEUE_* env",
	Value:   "configs/config.yaml",
	EnvVars: []string{"TASKQUEUE_CONFIG"},
}

func main() {
	app := &cli.App{
		Name:  "queue",
		Usage: "task queue lifecycle service",
		Flags: []cli.Flag{configFlag},
		Commands: []*cli.Command{
			serveCmd,
			sweepCmd,
			migrateCmd,
			dropTablesCmd,
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// env holds what every command needs before it does its own work.
type env struct {
	cfg     *config.Config
	logger  *zap.Logger
	storage *orm.Storage
}

func setup(cctx *cli.Context) (*env, error) {
	// 加载配置
	cfg, err := config.Load(cctx.String(configFlag.Name))
	if err != nil {
		return nil, err
	}

	// 创建日志器
	zapLogger, err := logger.New(cfg.Log.Level, cfg.Log.Format, cfg.Log.Output,
		zap.String("instance_id", cfg.Scheduler.InstanceID))
	if err != nil {
		return nil, err
	}

	// 创建存储
	storage, err := InitializeStorage(*cfg)
	if err != nil {
		_ = zapLogger.Sync()
		return nil, err
	}
	return &env{cfg: cfg, logger: zapLogger, storage: storage}, nil
}

func (e *env) close() {
	if err := e.storage.Close(); err != nil {
		e.logger.Error("failed to close database", zap.Error(err))
	}
	_ = e.logger.Sync()
}

var serveCmd = &cli.Command{
	Name:  "serve",
	Usage: "run the HTTP API and the periodic sweeps",
	Action: func(cctx *cli.Context) error {
		e, err := setup(cctx)
		if err != nil {
			return err
		}
		defer e.close()

		e.logger.Info("starting task queue", zap.String("driver", e.cfg.Database.Driver))

		app, err := InitializeApp(e.logger, *e.cfg, e.storage)
		if err != nil {
			return err
		}
		if err := app.Start(cctx.Context); err != nil {
			return err
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		e.logger.Info("shutting down...")

		// 优雅关闭
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := app.Stop(ctx); err != nil {
			e.logger.Error("shutdown finished with errors", zap.Error(err))
		}

		e.logger.Info("shutdown complete")
		return nil
	},
}

var sweepCmd = &cli.Command{
	Name:  "sweep",
	Usage: "run the expiration sweeps and the retention mover once",
	Action: func(cctx *cli.Context) error {
		e, err := setup(cctx)
		if err != nil {
			return err
		}
		defer e.close()

		app, err := InitializeApp(e.logger, *e.cfg, e.storage)
		if err != nil {
			return err
		}
		return app.Sweep(cctx.Context)
	},
}

var migrateCmd = &cli.Command{
	Name:  "migrate",
	Usage: "create the tasks and runs tables",
	Action: func(cctx *cli.Context) error {
		e, err := setup(cctx)
		if err != nil {
			return err
		}
		defer e.close()

		if err := e.storage.EnsureTables(); err != nil {
			return err
		}
		e.logger.Info("migration completed")
		return nil
	},
}

var dropTablesCmd = &cli.Command{
	Name:  "drop-tables",
	Usage: "drop the tasks and runs tables",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:     "yes",
			Usage:    "confirm that all task data should be removed",
			Required: true,
		},
	},
	Action: func(cctx *cli.Context) error {
		e, err := setup(cctx)
		if err != nil {
			return err
		}
		defer e.close()

		if err := e.storage.DropTables(); err != nil {
			return err
		}
		e.logger.Warn("tables dropped")
		return nil
	},
}
