// Package archive is the cold storage that receives tasks moved out of the
// primary store and hands them back when a task is rerun.
package archive

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/google/wire"
	"github.com/jobs/taskqueue/internal/biz/task"
	"github.com/jobs/taskqueue/pkg/slugid"
	"go.uber.org/zap"
)

var Provider = wire.NewSet(New, StoreFunc, FetchFunc)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// ErrUnavailable is returned when the configured backend cannot be built.
var ErrUnavailable = errors.New("archive backend unavailable")

type Config struct {
	Backend   string
	KeyPrefix string
	TTL       time.Duration // 0 keeps entries forever
}

// Store keeps serialized tasks keyed by their slug id.
type Store interface {
	Put(ctx context.Context, info *task.TaskInfo) error
	// Get returns nil, nil for unknown ids.
	Get(ctx context.Context, taskID string) (*task.TaskInfo, error)
}

// New picks the backend named in cfg. The redis backend needs rdb.
func New(cfg Config, rdb *redis.Client, logger *zap.Logger) (Store, error) {
	switch cfg.Backend {
	case BackendRedis:
		if rdb == nil {
			return nil, fmt.Errorf("%w: redis backend selected but redis is disabled", ErrUnavailable)
		}
		logger.Info("archive backend", zap.String("backend", BackendRedis), zap.String("prefix", cfg.KeyPrefix))
		return NewRedisStore(rdb, cfg.KeyPrefix, cfg.TTL), nil
	case BackendMemory, "":
		logger.Warn("archive backend is in-memory, moved tasks are lost on restart")
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrUnavailable, cfg.Backend)
	}
}

// StoreFunc adapts s to what the retention mover expects.
func StoreFunc(s Store) task.StoreFunc {
	return func(ctx context.Context, t *task.Task) error {
		return s.Put(ctx, t.Serialize())
	}
}

// FetchFunc adapts s to what rerun uses to recover moved tasks.
func FetchFunc(s Store) task.FetchFunc {
	return func(ctx context.Context, taskID uuid.UUID) (*task.TaskInfo, error) {
		return s.Get(ctx, slugid.Encode(taskID))
	}
}
