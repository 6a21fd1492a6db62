package commonrepo

import (
	"context"
	"time"

	"github.com/jpillora/backoff"
	"gorm.io/gorm"
)

type Transaction interface {
	Execute(ctx context.Context, fn func(ctx context.Context) error) error
}

// RetryPolicy bounds how often Execute re-runs a transaction that failed
// with a transient error.
type RetryPolicy struct {
	Attempts int
	Min      time.Duration
	Max      time.Duration
}

var DefaultRetryPolicy = RetryPolicy{
	Attempts: 5,
	Min:      10 * time.Millisecond,
	Max:      500 * time.Millisecond,
}

type dbContextKey struct{}

type DefaultRepo struct {
	db    DB
	retry RetryPolicy
}

func NewDefaultRepo(db DB, policy RetryPolicy) DefaultRepo {
	if policy.Attempts <= 0 {
		policy = DefaultRetryPolicy
	}
	return DefaultRepo{db: db, retry: policy}
}

// Execute runs fn inside a transaction carried by the context it passes to
// fn. Called with a context that already holds a transaction, it joins it.
// Deadlocks and other transient failures re-run fn from scratch, so every
// read-then-write decision is recomputed on each attempt.
func (r *DefaultRepo) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(dbContextKey{}).(DB); ok {
		return fn(ctx)
	}

	b := &backoff.Backoff{
		Min:    r.retry.Min,
		Max:    r.retry.Max,
		Factor: 2,
		Jitter: true,
	}
	for attempt := 1; ; attempt++ {
		err := r.Db(ctx).Transaction(func(tx *gorm.DB) error {
			return fn(context.WithValue(ctx, dbContextKey{}, tx))
		})
		if err == nil || attempt >= r.retry.Attempts || !IsTransient(err) {
			return err
		}
		timer := time.NewTimer(b.Duration())
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (r *DefaultRepo) dbFromContext(ctx context.Context) DB {
	db, ok := ctx.Value(dbContextKey{}).(DB)
	if !ok {
		return r.db
	}
	return db
}

func (r *DefaultRepo) Db(ctx context.Context) DB {
	return r.dbFromContext(ctx).WithContext(ctx)
}
