package calls

import (
	"context"
	"strconv"
	"time"

	"callcenter/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// CallerLimiter caps how many open calls one caller may hold.
type CallerLimiter interface {
	Acquire(ctx context.Context, callerID int64) (bool, error)
	Release(ctx context.Context, callerID int64) error
	// Busy reports, without taking a slot, whether the caller is at the cap.
	Busy(ctx context.Context, callerID int64) (bool, error)
}

const callerKeyPrefix = "calls:open:caller:"

// RedisCallerLimiter keeps one semaphore key per caller.
type RedisCallerLimiter struct {
	sem *utils.Semaphore
}

func NewRedisCallerLimiter(rdb *redis.Client, limit int, ttl time.Duration) (*RedisCallerLimiter, error) {
	sem, err := utils.NewSemaphore(rdb, limit, ttl)
	if err != nil {
		return nil, err
	}
	return &RedisCallerLimiter{sem: sem}, nil
}

func (l *RedisCallerLimiter) Acquire(ctx context.Context, callerID int64) (bool, error) {
	return l.sem.Acquire(ctx, callerKey(callerID))
}

func (l *RedisCallerLimiter) Release(ctx context.Context, callerID int64) error {
	return l.sem.Release(ctx, callerKey(callerID))
}

func (l *RedisCallerLimiter) Busy(ctx context.Context, callerID int64) (bool, error) {
	n, err := l.sem.InUse(ctx, callerKey(callerID))
	if err != nil {
		return false, err
	}
	return n >= l.sem.Limit(), nil
}

func callerKey(callerID int64) string {
	return callerKeyPrefix + strconv.FormatInt(callerID, 10)
}
