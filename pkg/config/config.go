package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Queue     QueueConfig     `mapstructure:"queue"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Events    EventsConfig    `mapstructure:"events"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// QueueConfig 任务生命周期参数
type QueueConfig struct {
	ClaimTimeout time.Duration `mapstructure:"claim_timeout"`
	Retention    time.Duration `mapstructure:"retention"`
	// cron 表达式，支持 @every
	ClaimResolver    string `mapstructure:"claim_resolver"`
	DeadlineResolver string `mapstructure:"deadline_resolver"`
	RetentionMover   string `mapstructure:"retention_mover"`
}

type SchedulerConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	InstanceID        string        `mapstructure:"instance_id"`
	LeaderElection    bool          `mapstructure:"leader_election"`
	LockKey           string        `mapstructure:"lock_key"`
	LockTimeout       time.Duration `mapstructure:"lock_timeout"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

type DatabaseConfig struct {
	Driver                string        `mapstructure:"driver"`
	Host                  string        `mapstructure:"host"`
	Port                  int           `mapstructure:"port"`
	Database              string        `mapstructure:"database"`
	User                  string        `mapstructure:"user"`
	Password              string        `mapstructure:"password"`
	MaxConnections        int           `mapstructure:"max_connections"`
	MaxIdleConnections    int           `mapstructure:"max_idle_connections"`
	ConnectionMaxLifetime time.Duration `mapstructure:"connection_max_lifetime"`
	LogLevel              string        `mapstructure:"log_level"`
	AutoMigrate           bool          `mapstructure:"auto_migrate"`
	RetryAttempts         int           `mapstructure:"retry_attempts"`
	RetryMinBackoff       time.Duration `mapstructure:"retry_min_backoff"`
	RetryMaxBackoff       time.Duration `mapstructure:"retry_max_backoff"`
}

type ServerConfig struct {
	IP             string        `mapstructure:"ip"`
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	MaxHeaderBytes int           `mapstructure:"max_header_bytes"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type ArchiveConfig struct {
	Backend   string        `mapstructure:"backend"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	TTL       time.Duration `mapstructure:"ttl"`
}

type EventsConfig struct {
	Backend       string `mapstructure:"backend"`
	ChannelPrefix string `mapstructure:"channel_prefix"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load 读取配置文件；configPath 为空时只使用默认值和环境变量。
// 环境变量形如 TASKQUEUE_DATABASE_HOST。
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("taskqueue")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the queue cannot run with.
func (c *Config) Validate() error {
	if c.Queue.ClaimTimeout <= 0 {
		return fmt.Errorf("queue.claim_timeout must be positive, got %s", c.Queue.ClaimTimeout)
	}
	if c.Queue.Retention < 0 {
		return fmt.Errorf("queue.retention must not be negative, got %s", c.Queue.Retention)
	}
	if c.Scheduler.LeaderElection && c.Database.Driver != "mysql" {
		return fmt.Errorf("scheduler.leader_election needs the mysql driver, got %q", c.Database.Driver)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	// 设置默认值
	v.SetDefault("queue.claim_timeout", "20m")
	v.SetDefault("queue.retention", "24h")
	v.SetDefault("queue.claim_resolver", "@every 1m")
	v.SetDefault("queue.deadline_resolver", "@every 1m")
	v.SetDefault("queue.retention_mover", "@every 1h")

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.instance_id", "queue-001")
	v.SetDefault("scheduler.leader_election", false)
	v.SetDefault("scheduler.lock_key", "taskqueue_sweeper_lock")
	v.SetDefault("scheduler.lock_timeout", "5s")
	v.SetDefault("scheduler.heartbeat_interval", "10s")

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.database", "taskqueue")
	v.SetDefault("database.user", "root")
	v.SetDefault("database.password", "")
	v.SetDefault("database.max_connections", 20)
	v.SetDefault("database.max_idle_connections", 10)
	v.SetDefault("database.connection_max_lifetime", "1h")
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.auto_migrate", false)
	v.SetDefault("database.retry_attempts", 5)
	v.SetDefault("database.retry_min_backoff", "10ms")
	v.SetDefault("database.retry_max_backoff", "500ms")

	v.SetDefault("server.ip", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.max_header_bytes", 1048576)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")

	// redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("archive.backend", "memory")
	v.SetDefault("archive.key_prefix", "taskqueue:archive")
	v.SetDefault("archive.ttl", "0s")

	v.SetDefault("events.backend", "log")
	v.SetDefault("events.channel_prefix", "taskqueue")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}
