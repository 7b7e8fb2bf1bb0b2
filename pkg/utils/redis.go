package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig describes the client. Zero values take the defaults in options().
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PingTimeout  time.Duration

	PoolSize    int
	MaxIdleTime time.Duration
}

func orDuration(v, def time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return def
}

func (c RedisConfig) options() *redis.Options {
	pool := c.PoolSize
	if pool <= 0 {
		pool = 20
	}
	return &redis.Options{
		Addr:            c.Addr,
		Password:        c.Password,
		DB:              c.DB,
		DialTimeout:     orDuration(c.DialTimeout, 3*time.Second),
		ReadTimeout:     orDuration(c.ReadTimeout, 2*time.Second),
		WriteTimeout:    orDuration(c.WriteTimeout, 2*time.Second),
		PoolSize:        pool,
		ConnMaxIdleTime: orDuration(c.MaxIdleTime, 5*time.Minute),
	}
}

// OpenRedis builds a client and fails fast if the server does not answer PING.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis addr is required")
	}
	rdb := redis.NewClient(cfg.options())

	pingCtx, cancel := context.WithTimeout(ctx, orDuration(cfg.PingTimeout, 2*time.Second))
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

// KEYS[1] holder key, ARGV[1] limit, ARGV[2] ttl ms.
// The slot counter never exceeds the limit; each grant refreshes the TTL.
var semaphoreAcquire = redis.NewScript(`
local held = tonumber(redis.call('GET', KEYS[1]) or '0')
if held >= tonumber(ARGV[1]) then
  return 0
end
redis.call('INCR', KEYS[1])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return 1
`)

// KEYS[1] holder key. Returns the remaining count; the key is removed at zero.
var semaphoreRelease = redis.NewScript(`
local held = tonumber(redis.call('GET', KEYS[1]) or '0')
if held <= 1 then
  redis.call('DEL', KEYS[1])
  return 0
end
return redis.call('DECR', KEYS[1])
`)

// Semaphore is a counting semaphore per key, stored as an integer in Redis.
//
// The TTL is a lease: a holder that never releases (crashed process) loses
// its slots once no grant has happened on the key for ttl.
type Semaphore struct {
	rdb   *redis.Client
	limit int
	ttl   time.Duration
}

func NewSemaphore(rdb *redis.Client, limit int, ttl time.Duration) (*Semaphore, error) {
	switch {
	case rdb == nil:
		return nil, errors.New("redis client is nil")
	case limit <= 0:
		return nil, errors.New("limit must be > 0")
	case ttl <= 0:
		return nil, errors.New("ttl must be > 0")
	}
	return &Semaphore{rdb: rdb, limit: limit, ttl: ttl}, nil
}

func (s *Semaphore) Limit() int { return s.limit }

// Acquire takes one slot under key. false means the key is at its limit.
func (s *Semaphore) Acquire(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, errors.New("key is required")
	}
	n, err := semaphoreAcquire.Run(ctx, s.rdb, []string{key}, s.limit, s.ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Release gives one slot back. Releasing an empty key is a no-op.
func (s *Semaphore) Release(ctx context.Context, key string) error {
	if key == "" {
		return errors.New("key is required")
	}
	return semaphoreRelease.Run(ctx, s.rdb, []string{key}).Err()
}

// InUse reads the slot count without changing it.
func (s *Semaphore) InUse(ctx context.Context, key string) (int, error) {
	if key == "" {
		return 0, errors.New("key is required")
	}
	n, err := s.rdb.Get(ctx, key).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}
