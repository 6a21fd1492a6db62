package orm

import (
	"context"
	"fmt"
	"time"

	"github.com/google/wire"
	"github.com/jobs/taskqueue/internal/infra/persistence/taskrepo"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var Provider = wire.NewSet(New)

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

type Config struct {
	Driver                string
	Host                  string
	Port                  int
	Database              string // schema name, or file path for sqlite
	User                  string
	Password              string
	MaxConnections        int
	MaxIdleConnections    int
	ConnectionMaxLifetime time.Duration
	LogLevel              string
	AutoMigrate           bool
}

type Storage struct {
	db *gorm.DB
}

func New(cfg Config) (*Storage, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case DriverMySQL, "":
		// clientFoundRows makes RowsAffected count matched rows, which the
		// guarded updates rely on.
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC&clientFoundRows=true",
			cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)
		dialector = mysql.Open(dsn)
	case DriverSQLite:
		dsn := fmt.Sprintf("file:%s?_foreign_keys=1&_busy_timeout=5000&_txlock=immediate", cfg.Database)
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(parseLogLevel(cfg.LogLevel)),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxConnections)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConnections)
	sqlDB.SetConnMaxLifetime(cfg.ConnectionMaxLifetime)

	s := &Storage{db: db}
	if cfg.AutoMigrate {
		if err := s.EnsureTables(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// EnsureTables creates tasks and runs if they are missing.
func (s *Storage) EnsureTables() error {
	if err := s.db.AutoMigrate(taskrepo.Models()...); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// DropTables removes runs and tasks, runs first because of the foreign key.
func (s *Storage) DropTables() error {
	if err := s.db.Migrator().DropTable(&taskrepo.RunPo{}, &taskrepo.TaskPo{}); err != nil {
		return fmt.Errorf("failed to drop tables: %w", err)
	}
	return nil
}

func (s *Storage) DB() *gorm.DB {
	return s.db
}

func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Storage) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func parseLogLevel(level string) logger.LogLevel {
	switch level {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}
