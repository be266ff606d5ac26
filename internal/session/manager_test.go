package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/converge/internal/state"
)

func newTestManager(t *testing.T) (*Manager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewManager(client, time.Hour, zap.NewNop()), mr
}

func TestLoadHistoryUnknownSession(t *testing.T) {
	m, _ := newTestManager(t)

	history, err := m.LoadHistory(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, history)

	_, err = m.GetSession(context.Background(), "nope")
	assert.True(t, errors.Is(err, ErrSessionNotFound))
}

func TestSaveAndLoadHistory(t *testing.T) {
	m, mr := newTestManager(t)
	ctx := context.Background()

	turns := []state.Turn{
		{Role: state.RoleUser, Content: "What is a tokamak?"},
		{Role: state.RoleAssistant, Content: "A magnetic confinement device."},
	}
	require.NoError(t, m.SaveHistory(ctx, "s1", turns))

	got, err := m.LoadHistory(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, turns, got)

	assert.Equal(t, time.Hour, mr.TTL(sessionKey("s1")))

	require.NoError(t, m.SaveHistory(ctx, "s1", append(turns, state.Turn{Role: state.RoleUser, Content: "And a stellarator?"})))
	s, err := m.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, s.Runs)
	assert.Len(t, s.History, 3)
	assert.False(t, s.CreatedAt.IsZero())
}

func TestSaveHistoryTrimsOldTurns(t *testing.T) {
	m, _ := newTestManager(t)
	m.maxHistory = 2
	ctx := context.Background()

	turns := []state.Turn{
		{Role: state.RoleUser, Content: "a"},
		{Role: state.RoleAssistant, Content: "b"},
		{Role: state.RoleUser, Content: "c"},
	}
	require.NoError(t, m.SaveHistory(ctx, "s1", turns))

	got, err := m.LoadHistory(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, turns[1:], got)
}

func TestCorruptSessionIsReplaced(t *testing.T) {
	m, mr := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, mr.Set(sessionKey("bad"), "{not json"))

	_, err := m.LoadHistory(ctx, "bad")
	assert.True(t, errors.Is(err, ErrInvalidSession))

	require.NoError(t, m.SaveHistory(ctx, "bad", []state.Turn{{Role: state.RoleUser, Content: "hi"}}))
	got, err := m.LoadHistory(ctx, "bad")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestDeleteSession(t *testing.T) {
	m, mr := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, m.SaveHistory(ctx, "s1", []state.Turn{{Role: state.RoleUser, Content: "hi"}}))
	require.NoError(t, m.DeleteSession(ctx, "s1"))
	assert.False(t, mr.Exists(sessionKey("s1")))
	require.NoError(t, m.Ping(ctx))
}
