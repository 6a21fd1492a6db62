package events

import (
	"context"
	"encoding/json"

	redis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	BackendLog   = "log"
	BackendRedis = "redis"

	defaultChannelPrefix = "taskqueue"
)

type Config struct {
	Backend       string
	ChannelPrefix string
}

// New builds the configured publisher. Without a redis client it falls
// back to logging.
func New(cfg Config, rdb *redis.Client, logger *zap.Logger) Publisher {
	if cfg.Backend == BackendRedis {
		if rdb != nil {
			return NewRedisPublisher(rdb, cfg.ChannelPrefix)
		}
		logger.Warn("events backend is redis but redis is disabled, logging events instead")
	}
	return NewLogPublisher(logger)
}

var _ Publisher = (*RedisPublisher)(nil)

// RedisPublisher sends each message as JSON on <prefix>:<kind>.
type RedisPublisher struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisPublisher(rdb *redis.Client, prefix string) *RedisPublisher {
	if prefix == "" {
		prefix = defaultChannelPrefix
	}
	return &RedisPublisher{rdb: rdb, prefix: prefix}
}

func (p *RedisPublisher) Channel(kind Kind) string {
	return p.prefix + ":" + string(kind)
}

func (p *RedisPublisher) Publish(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.rdb.Publish(ctx, p.Channel(msg.Kind), payload).Err()
}

var _ Publisher = (*LogPublisher)(nil)

type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.Named("events")}
}

func (p *LogPublisher) Publish(_ context.Context, msg Message) error {
	fields := []zap.Field{
		zap.String("kind", string(msg.Kind)),
		zap.String("task_id", msg.TaskID),
		zap.String("state", msg.State),
		zap.Strings("routes", msg.Routes),
	}
	if msg.RunID != nil {
		fields = append(fields, zap.Int("run_id", *msg.RunID))
	}
	p.logger.Info("task event", fields...)
	return nil
}

// PublishAll sends msgs in order and logs, rather than returns, failures.
// State changes are already committed when messages go out.
func PublishAll(ctx context.Context, p Publisher, logger *zap.Logger, msgs ...Message) {
	for _, msg := range msgs {
		if err := p.Publish(ctx, msg); err != nil {
			logger.Error("failed to publish task event",
				zap.String("kind", string(msg.Kind)),
				zap.String("task_id", msg.TaskID),
				zap.Error(err))
		}
	}
}
