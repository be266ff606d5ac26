package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRedisWrapperTranscriptRoundTrip(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	wrapper := NewRedisWrapper(client, "transcripts-test", zaptest.NewLogger(t))
	ctx := context.Background()

	require.NoError(t, wrapper.Ping(ctx).Err())
	require.NoError(t, wrapper.Set(ctx, "session:abc", `{"turns":[]}`, time.Hour).Err())

	got := wrapper.Get(ctx, "session:abc")
	require.NoError(t, got.Err())
	assert.Equal(t, `{"turns":[]}`, got.Val())
	assert.Equal(t, time.Hour, s.TTL("session:abc"))

	deleted := wrapper.Del(ctx, "session:abc")
	require.NoError(t, deleted.Err())
	assert.Equal(t, int64(1), deleted.Val())
	assert.Same(t, client, wrapper.Client())
}

func TestRedisWrapperMissingKeyIsNotAFailure(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	wrapper := NewRedisWrapper(client, "transcripts-nil", zaptest.NewLogger(t))
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		assert.True(t, errors.Is(wrapper.Get(ctx, "session:missing").Err(), redis.Nil))
	}
	assert.False(t, wrapper.IsCircuitBreakerOpen())
}

func TestRedisWrapperOpensWhenServerIsGone(t *testing.T) {
	s := miniredis.RunT(t)
	addr := s.Addr()
	s.Close()

	client := redis.NewClient(&redis.Options{Addr: addr, MaxRetries: -1, DialTimeout: 200 * time.Millisecond})
	defer client.Close()

	wrapper := NewRedisWrapper(client, "transcripts-down", zaptest.NewLogger(t))
	ctx := context.Background()

	threshold := int(GetRedisSettings().FailureThreshold)
	for i := 0; i < threshold; i++ {
		assert.Error(t, wrapper.Ping(ctx).Err())
	}
	assert.True(t, wrapper.IsCircuitBreakerOpen())

	rejected := wrapper.Get(ctx, "session:any")
	assert.ErrorIs(t, rejected.Err(), ErrCircuitBreakerOpen)
	assert.ErrorIs(t, wrapper.Set(ctx, "session:any", "x", 0).Err(), ErrCircuitBreakerOpen)

	var found bool
	for _, st := range Default.Statuses() {
		if st.Component == "transcripts-down" && st.Name == "redis" {
			found = true
			assert.Equal(t, StateOpen, st.State)
			assert.False(t, st.RetryAt.IsZero())
		}
	}
	assert.True(t, found)
}
