package circuitbreaker

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisWrapper guards the transcript store's Redis commands. A missing key
// (redis.Nil) is a normal answer and does not count as a failure.
type RedisWrapper struct {
	client    *redis.Client
	cb        *CircuitBreaker
	component string
}

func NewRedisWrapper(client *redis.Client, component string, logger *zap.Logger) *RedisWrapper {
	return &RedisWrapper{
		client:    client,
		cb:        NewRegistered("redis", component, GetRedisSettings(), logger),
		component: component,
	}
}

// guard runs call through the breaker. When the breaker rejects the call,
// a fresh command from empty carries the rejection error.
func guard[C redis.Cmder](ctx context.Context, rw *RedisWrapper, call func() C, empty func() C) C {
	var cmd C
	ran := false
	err := rw.cb.Execute(ctx, func() error {
		cmd = call()
		ran = true
		if errors.Is(cmd.Err(), redis.Nil) {
			return nil
		}
		return cmd.Err()
	})
	Default.Observe(rw.component, "redis", err)
	if !ran {
		cmd = empty()
		cmd.SetErr(err)
	}
	return cmd
}

func (rw *RedisWrapper) Ping(ctx context.Context) *redis.StatusCmd {
	return guard(ctx, rw,
		func() *redis.StatusCmd { return rw.client.Ping(ctx) },
		func() *redis.StatusCmd { return redis.NewStatusCmd(ctx) })
}

func (rw *RedisWrapper) Get(ctx context.Context, key string) *redis.StringCmd {
	return guard(ctx, rw,
		func() *redis.StringCmd { return rw.client.Get(ctx, key) },
		func() *redis.StringCmd { return redis.NewStringCmd(ctx) })
}

func (rw *RedisWrapper) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	return guard(ctx, rw,
		func() *redis.StatusCmd { return rw.client.Set(ctx, key, value, expiration) },
		func() *redis.StatusCmd { return redis.NewStatusCmd(ctx) })
}

func (rw *RedisWrapper) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	return guard(ctx, rw,
		func() *redis.IntCmd { return rw.client.Del(ctx, keys...) },
		func() *redis.IntCmd { return redis.NewIntCmd(ctx) })
}

func (rw *RedisWrapper) Close() error { return rw.client.Close() }

// Client returns the unguarded client
func (rw *RedisWrapper) Client() *redis.Client { return rw.client }

func (rw *RedisWrapper) IsCircuitBreakerOpen() bool { return rw.cb.IsOpen() }
