package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Locker MySQL分布式锁
// GET_LOCK 是会话级别的，所以持有锁期间独占一个连接，释放和检查都走同一个连接。
type Locker struct {
	db       *sql.DB
	conn     *sql.Conn
	lockName string
	timeout  time.Duration
	logger   *zap.Logger
}

// NewLocker 创建分布式锁
func NewLocker(db *sql.DB, lockName string, timeout time.Duration, logger *zap.Logger) *Locker {
	return &Locker{
		db:       db,
		lockName: lockName,
		timeout:  timeout,
		logger:   logger,
	}
}

// TryLock 尝试获取锁
func (l *Locker) TryLock(ctx context.Context) (bool, error) {
	if l.conn != nil {
		return true, nil
	}

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to reserve lock connection: %w", err)
	}

	// 返回值: 1-成功获取锁, 0-超时, NULL-错误
	var result sql.NullInt64
	err = conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, ?)", l.lockName, int(l.timeout.Seconds())).Scan(&result)
	if err != nil {
		_ = conn.Close()
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !result.Valid {
		_ = conn.Close()
		return false, fmt.Errorf("lock query returned NULL")
	}
	if result.Int64 != 1 {
		_ = conn.Close()
		return false, nil
	}

	l.conn = conn
	l.logger.Info("acquired distributed lock", zap.String("lock_name", l.lockName))
	return true, nil
}

// Unlock 释放锁并归还连接
func (l *Locker) Unlock(ctx context.Context) error {
	if l.conn == nil {
		return nil
	}
	conn := l.conn
	l.conn = nil
	defer conn.Close()

	// 返回值: 1-成功释放锁, 0-不是持有者, NULL-锁不存在
	var result sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT RELEASE_LOCK(?)", l.lockName).Scan(&result); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	if !result.Valid || result.Int64 != 1 {
		return fmt.Errorf("failed to release lock: not owner or lock does not exist")
	}

	l.logger.Info("released distributed lock", zap.String("lock_name", l.lockName))
	return nil
}

// IsLocked 检查是否持有锁
func (l *Locker) IsLocked() bool {
	return l.conn != nil
}

// Renew 检查锁仍由本连接持有。连接断开时 MySQL 会自动释放锁。
func (l *Locker) Renew(ctx context.Context) error {
	if l.conn == nil {
		return fmt.Errorf("not holding lock")
	}

	var owned sql.NullInt64
	err := l.conn.QueryRowContext(ctx, "SELECT IS_USED_LOCK(?) = CONNECTION_ID()", l.lockName).Scan(&owned)
	if err != nil || !owned.Valid || owned.Int64 != 1 {
		_ = l.conn.Close()
		l.conn = nil
		if err != nil {
			return fmt.Errorf("lock connection lost: %w", err)
		}
		return fmt.Errorf("lock is not held")
	}
	return nil
}
