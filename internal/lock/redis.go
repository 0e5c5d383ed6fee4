// Package lock provides the cross-process sweep lease.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"

	"nuclight.org/gatekeeper/internal/vote"
)

// RedisLocker hands out single-attempt redsync leases. It satisfies
// vote.Locker.
type RedisLocker struct {
	rs     *redsync.Redsync
	logger *slog.Logger
}

func NewRedisLocker(client redis.UniversalClient, logger *slog.Logger) *RedisLocker {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &RedisLocker{
		rs:     redsync.New(goredis.NewPool(client)),
		logger: logger,
	}
}

// NewClient connects to addr and checks the connection.
func NewClient(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}

// TryLock acquires name for ttl without waiting. It returns
// vote.ErrSweepInProgress when the lease is held elsewhere.
func (l *RedisLocker) TryLock(ctx context.Context, name string, ttl time.Duration) (vote.Lease, error) {
	mutex := l.rs.NewMutex(name,
		redsync.WithExpiry(ttl),
		redsync.WithDriftFactor(0.01),
	)

	if err := mutex.TryLockContext(ctx); err != nil {
		var taken *redsync.ErrTaken
		if errors.Is(err, redsync.ErrFailed) || errors.As(err, &taken) {
			return nil, vote.ErrSweepInProgress
		}
		return nil, fmt.Errorf("acquire lease %s: %w", name, err)
	}
	return &redisLease{mutex: mutex, name: name, logger: l.logger}, nil
}

type redisLease struct {
	mutex  *redsync.Mutex
	name   string
	logger *slog.Logger
}

func (l *redisLease) Extend(ctx context.Context) error {
	ok, err := l.mutex.ExtendContext(ctx)
	if err != nil {
		return fmt.Errorf("extend lease %s: %w", l.name, err)
	}
	if !ok {
		return fmt.Errorf("extend lease %s: lease lost", l.name)
	}
	return nil
}

func (l *redisLease) Release() {
	if _, err := l.mutex.UnlockContext(context.Background()); err != nil {
		l.logger.Warn("failed to release lease", "name", l.name, "error", err)
	}
}
