// Package session keeps conversation transcripts in Redis so a session id
// can continue across research requests.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/converge/internal/circuitbreaker"
	"github.com/Kocoro-lab/converge/internal/metrics"
	"github.com/Kocoro-lab/converge/internal/state"
)

const keyPrefix = "converge:session:"

// Manager stores sessions in Redis behind a circuit breaker
type Manager struct {
	client     *circuitbreaker.RedisWrapper
	logger     *zap.Logger
	ttl        time.Duration
	maxHistory int
}

// NewManager wraps an existing Redis client
func NewManager(client *redis.Client, ttl time.Duration, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &Manager{
		client:     circuitbreaker.NewRedisWrapper(client, "session-manager", logger),
		logger:     logger,
		ttl:        ttl,
		maxHistory: 200,
	}
}

// GetSession loads a session by id
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	data, err := m.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.SessionOperations.WithLabelValues("get", "miss").Inc()
		return nil, ErrSessionNotFound
	}
	if err != nil {
		metrics.SessionOperations.WithLabelValues("get", "error").Inc()
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		metrics.SessionOperations.WithLabelValues("get", "error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	metrics.SessionOperations.WithLabelValues("get", "hit").Inc()
	return &s, nil
}

// LoadHistory returns the stored transcript, or nil for an unknown session
func (m *Manager) LoadHistory(ctx context.Context, sessionID string) ([]state.Turn, error) {
	s, err := m.GetSession(ctx, sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.History, nil
}

// SaveHistory replaces the transcript of a session, creating it if needed,
// and refreshes its TTL. History beyond maxHistory turns is trimmed from
// the front.
func (m *Manager) SaveHistory(ctx context.Context, sessionID string, history []state.Turn) error {
	now := time.Now().UTC()
	s, err := m.GetSession(ctx, sessionID)
	switch {
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrInvalidSession):
		s = &Session{ID: sessionID, CreatedAt: now}
	case err != nil:
		return err
	}

	if len(history) > m.maxHistory {
		history = history[len(history)-m.maxHistory:]
	}
	s.History = history
	s.UpdatedAt = now
	s.Runs++

	if err := m.saveSession(ctx, s); err != nil {
		metrics.SessionOperations.WithLabelValues("save", "error").Inc()
		return err
	}
	metrics.SessionOperations.WithLabelValues("save", "ok").Inc()
	m.logger.Debug("Saved session",
		zap.String("session_id", sessionID),
		zap.Int("turns", len(history)),
	)
	return nil
}

// DeleteSession removes a session
func (m *Manager) DeleteSession(ctx context.Context, sessionID string) error {
	if err := m.client.Del(ctx, sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Ping checks Redis connectivity through the breaker
func (m *Manager) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

// IsCircuitBreakerOpen reports whether Redis calls are being short-circuited
func (m *Manager) IsCircuitBreakerOpen() bool {
	return m.client.IsCircuitBreakerOpen()
}

// Close closes the Redis client
func (m *Manager) Close() error {
	return m.client.Close()
}

func (m *Manager) saveSession(ctx context.Context, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := m.client.Set(ctx, sessionKey(s.ID), data, m.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func sessionKey(sessionID string) string {
	return keyPrefix + sessionID
}
