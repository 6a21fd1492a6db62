package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/go-redis/redis/v8"
	"github.com/jobs/taskqueue/internal/biz/task"
)

var _ Store = (*RedisStore)(nil)

// RedisStore keeps each task as a JSON string under <prefix>:<taskId>.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStore(rdb *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "taskqueue:archive"
	}
	return &RedisStore{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (r *RedisStore) key(taskID string) string {
	return r.prefix + ":" + taskID
}

func (r *RedisStore) Put(ctx context.Context, info *task.TaskInfo) error {
	payload, err := json.Marshal(info)
	if err != nil {
		return err
	}
	if err := r.rdb.Set(ctx, r.key(info.TaskID), payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("archive task %s: %w", info.TaskID, err)
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, taskID string) (*task.TaskInfo, error) {
	payload, err := r.rdb.Get(ctx, r.key(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read archived task %s: %w", taskID, err)
	}
	var info task.TaskInfo
	if err := json.Unmarshal(payload, &info); err != nil {
		return nil, fmt.Errorf("decode archived task %s: %w", taskID, err)
	}
	return &info, nil
}
