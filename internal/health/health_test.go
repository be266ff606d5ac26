package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/converge/internal/circuitbreaker"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func failing(msg string) pingFunc {
	return func(context.Context) error { return errors.New(msg) }
}

func TestReadyFollowsRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	wrapper := circuitbreaker.NewRedisWrapper(client, "health-test", zap.NewNop())

	m := NewManager(zap.NewNop())
	ping := pingFunc(func(ctx context.Context) error { return wrapper.Ping(ctx).Err() })
	require.NoError(t, m.RegisterChecker(NewPingChecker("redis", ping, wrapper, true)))

	mux := http.NewServeMux()
	NewHTTPHandler(m, zap.NewNop()).RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var report Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.True(t, report.Ready)
	require.Len(t, report.Components, 1)
	assert.Equal(t, "redis", report.Components[0].Component)

	mr.Close()
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestLivenessIgnoresDependencies(t *testing.T) {
	m := NewManager(nil)
	require.NoError(t, m.RegisterChecker(NewPingChecker("postgres", failing("down"), nil, true)))

	mux := http.NewServeMux()
	NewHTTPHandler(m, nil).RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestNonCriticalFailureDegrades(t *testing.T) {
	m := NewManager(nil)
	require.NoError(t, m.RegisterChecker(NewPingChecker("postgres", failing("down"), nil, false)))
	require.NoError(t, m.RegisterChecker(NewFuncChecker("temporal", true, func(context.Context) Result {
		return healthy("ok")
	})))

	report := m.Check(context.Background())
	assert.True(t, report.Ready)
	assert.Equal(t, StatusDegraded, report.Status)

	pg, ok := report.Component("postgres")
	require.True(t, ok)
	assert.Equal(t, StatusUnhealthy, pg.Status)
	assert.Equal(t, "down", pg.Error)
	assert.Equal(t, "postgres", report.Components[0].Component)
}

func TestOpenBreakerSkipsPing(t *testing.T) {
	pinged := false
	target := pingFunc(func(context.Context) error { pinged = true; return nil })

	r := NewPingChecker("redis", target, openBreaker{}, true).Check(context.Background())
	assert.Equal(t, StatusUnhealthy, r.Status)
	assert.False(t, pinged)
}

type openBreaker struct{}

func (openBreaker) IsCircuitBreakerOpen() bool { return true }

func TestBreakerCheckerReportsTripped(t *testing.T) {
	c := circuitbreaker.NewCollector()
	closed := circuitbreaker.NewCircuitBreaker("arxiv", circuitbreaker.Config{FailureThreshold: 5}, nil)
	tripped := circuitbreaker.NewCircuitBreaker("gemini", circuitbreaker.Config{FailureThreshold: 1}, nil)
	c.Register("academic", "arxiv", closed)
	c.Register("llm", "gemini", tripped)

	checker := NewBreakerChecker(c)
	assert.Equal(t, StatusHealthy, checker.Check(context.Background()).Status)

	_ = tripped.Execute(context.Background(), func() error { return errors.New("503") })
	r := checker.Check(context.Background())
	assert.Equal(t, StatusDegraded, r.Status)
	assert.Contains(t, r.Message, "llm/gemini")
	assert.Equal(t, "open", r.Details["llm/gemini"])
	assert.Equal(t, "closed", r.Details["academic/arxiv"])
	assert.False(t, checker.Critical())
}

func TestDuplicateCheckerRejected(t *testing.T) {
	m := NewManager(nil)
	c := NewPingChecker("redis", pingFunc(func(context.Context) error { return nil }), nil, true)
	require.NoError(t, m.RegisterChecker(c))
	assert.Error(t, m.RegisterChecker(c))
}

func TestNoCheckersIsReady(t *testing.T) {
	report := NewManager(nil).Check(context.Background())
	assert.True(t, report.Ready)
	assert.Equal(t, StatusHealthy, report.Status)
}
