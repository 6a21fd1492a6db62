package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jobs/taskqueue/internal/biz/task"
	"github.com/jobs/taskqueue/internal/events"
	"github.com/jobs/taskqueue/internal/infra/persistence/commonrepo"
	"github.com/jobs/taskqueue/internal/metrics"
	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	JobClaimResolver    = "claim-resolver"
	JobDeadlineResolver = "deadline-resolver"
	JobRetentionMover   = "retention-mover"
)

type Config struct {
	InstanceID        string
	LeaderElection    bool
	LockKey           string
	LockTimeout       time.Duration
	HeartbeatInterval time.Duration

	// cron 表达式（带秒）或 @every
	ClaimResolver    string
	DeadlineResolver string
	RetentionMover   string
}

type job struct {
	name string
	spec string
	run  func(ctx context.Context) error
}

// Scheduler 周期性执行过期扫描和归档迁移
type Scheduler struct {
	config    Config
	locker    *Locker
	cron      *cron.Cron
	jobs      []job
	usecase   *task.Usecase
	store     task.StoreFunc
	publisher events.Publisher
	builder   *events.Builder
	metrics   *metrics.Metrics
	logger    *zap.Logger

	isLeader atomic.Bool
	ctx      context.Context
	cancel   context.CancelFunc
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New 创建调度器
func New(
	cfg Config,
	db commonrepo.DB,
	usecase *task.Usecase,
	store task.StoreFunc,
	publisher events.Publisher,
	builder *events.Builder,
	m *metrics.Metrics,
	logger *zap.Logger,
) (*Scheduler, error) {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		config:    cfg,
		usecase:   usecase,
		store:     store,
		publisher: publisher,
		builder:   builder,
		metrics:   m,
		logger:    logger.Named("scheduler"),
		ctx:       ctx,
		cancel:    cancel,
		stopCh:    make(chan struct{}),
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
	}

	// 创建分布式锁
	if cfg.LeaderElection {
		if s.config.HeartbeatInterval <= 0 {
			s.config.HeartbeatInterval = 10 * time.Second
		}
		sqlDB, err := db.DB()
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to get sql.DB: %w", err)
		}
		s.locker = NewLocker(sqlDB, cfg.LockKey, cfg.LockTimeout, s.logger)
	}

	s.jobs = []job{
		{name: JobClaimResolver, spec: cfg.ClaimResolver, run: s.resolveClaims},
		{name: JobDeadlineResolver, spec: cfg.DeadlineResolver, run: s.resolveDeadlines},
		{name: JobRetentionMover, spec: cfg.RetentionMover, run: s.moveExpired},
	}
	for _, j := range s.jobs {
		if j.spec == "" {
			continue
		}
		if _, err := s.cron.AddFunc(j.spec, func() { s.runJob(s.ctx, j) }); err != nil {
			cancel()
			return nil, fmt.Errorf("invalid schedule %q for %s: %w", j.spec, j.name, err)
		}
	}
	return s, nil
}

// Start 启动调度器。未开启选举时每个实例都执行扫描，扫描本身靠行锁互斥。
func (s *Scheduler) Start() error {
	s.logger.Info("starting scheduler",
		zap.String("instance_id", s.config.InstanceID),
		zap.Bool("leader_election", s.config.LeaderElection))

	if s.locker == nil {
		s.cron.Start()
		return nil
	}

	// 启动领导者选举
	s.wg.Add(1)
	go s.leaderElection()
	return nil
}

// Stop 停止调度器
func (s *Scheduler) Stop() error {
	s.logger.Info("stopping scheduler", zap.String("instance_id", s.config.InstanceID))

	close(s.stopCh)
	s.cancel()

	// 先等选举协程退出，避免它在停止后再次启动cron
	s.wg.Wait()

	// 停止cron，等待正在执行的任务结束
	<-s.cron.Stop().Done()

	// 释放锁
	if s.locker != nil && s.locker.IsLocked() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.locker.Unlock(ctx); err != nil {
			s.logger.Error("failed to release lock", zap.Error(err))
		}
	}

	s.logger.Info("scheduler stopped", zap.String("instance_id", s.config.InstanceID))
	return nil
}

// IsLeader reports whether this instance currently runs the jobs.
func (s *Scheduler) IsLeader() bool {
	return s.locker == nil || s.isLeader.Load()
}

// RunOnce runs every job once in order and returns their combined errors.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	var errs error
	for _, j := range s.jobs {
		errs = multierr.Append(errs, s.runJob(ctx, j))
	}
	return errs
}

func (s *Scheduler) runJob(ctx context.Context, j job) error {
	start := time.Now()
	err := j.run(ctx)
	s.metrics.SweepTime.WithLabelValues(j.name).Observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.SweepErrors.WithLabelValues(j.name).Inc()
		s.logger.Error("job failed", zap.String("job", j.name), zap.Error(err))
		return fmt.Errorf("%s: %w", j.name, err)
	}
	s.metrics.SweepRuns.WithLabelValues(j.name).Inc()
	return nil
}

// leaderElection 领导者选举
func (s *Scheduler) leaderElection() {
	defer s.wg.Done()

	s.tryBecomeLeader()

	ticker := time.NewTicker(s.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tryBecomeLeader()
		case <-s.stopCh:
			return
		}
	}
}

// tryBecomeLeader 尝试成为领导者，或者确认仍然持有锁
func (s *Scheduler) tryBecomeLeader() {
	ctx, cancel := context.WithTimeout(s.ctx, s.config.LockTimeout+time.Second)
	defer cancel()

	if !s.isLeader.Load() {
		locked, err := s.locker.TryLock(ctx)
		if err != nil {
			s.logger.Error("failed to acquire leader lock", zap.Error(err))
			return
		}
		if locked {
			s.isLeader.Store(true)
			s.logger.Info("became leader", zap.String("instance_id", s.config.InstanceID))
			s.cron.Start()
		}
		return
	}

	// 续约锁
	if err := s.locker.Renew(ctx); err != nil {
		s.logger.Error("lost leader lock", zap.Error(err))
		s.isLeader.Store(false)
		s.cron.Stop()
	}
}
