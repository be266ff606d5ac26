// Package streaming publishes workflow progress events to Redis Streams.
package streaming

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/converge/internal/metrics"
)

const (
	streamPrefix = "converge:events:"
	seqPrefix    = "converge:events:seq:"
	streamTTL    = 24 * time.Hour
)

// Publisher is the write side used by activities
type Publisher interface {
	Publish(ctx context.Context, workflowID string, evt Event) error
}

// Manager writes and reads per-workflow event streams
type Manager struct {
	client *redis.Client
	logger *zap.Logger
	maxLen int64
	block  time.Duration
}

// NewManager creates a stream manager. maxLen caps each stream.
func NewManager(client *redis.Client, maxLen int64, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxLen <= 0 {
		maxLen = 1000
	}
	return &Manager{client: client, logger: logger, maxLen: maxLen, block: time.Second}
}

// Publish appends evt to the workflow's stream with the next sequence number
func (m *Manager) Publish(ctx context.Context, workflowID string, evt Event) error {
	evt.WorkflowID = workflowID
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	seq, err := m.client.Incr(ctx, seqPrefix+workflowID).Uint64()
	if err != nil {
		metrics.ProgressEventsPublished.WithLabelValues(evt.Type, "error").Inc()
		return fmt.Errorf("next event seq: %w", err)
	}
	evt.Seq = seq

	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	key := streamPrefix + workflowID
	pipe := m.client.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		MaxLen: m.maxLen,
		Values: map[string]interface{}{
			"seq":     seq,
			"type":    evt.Type,
			"payload": payload,
		},
	})
	pipe.Expire(ctx, key, streamTTL)
	pipe.Expire(ctx, seqPrefix+workflowID, streamTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		metrics.ProgressEventsPublished.WithLabelValues(evt.Type, "error").Inc()
		return fmt.Errorf("publish event: %w", err)
	}

	metrics.ProgressEventsPublished.WithLabelValues(evt.Type, "ok").Inc()
	m.logger.Debug("Published event",
		zap.String("workflow_id", workflowID),
		zap.String("type", evt.Type),
		zap.Uint64("seq", seq),
	)
	return nil
}

// ReplaySince returns stored events with Seq > since, oldest first
func (m *Manager) ReplaySince(ctx context.Context, workflowID string, since uint64) ([]Event, error) {
	msgs, err := m.client.XRange(ctx, streamPrefix+workflowID, "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("read stream: %w", err)
	}
	return m.decode(msgs, since), nil
}

// Subscribe delivers events with Seq > since to ch until ctx is done or an
// EventFinalized/EventFailed event has been delivered. ch is not closed.
func (m *Manager) Subscribe(ctx context.Context, workflowID string, since uint64, ch chan<- Event) error {
	key := streamPrefix + workflowID
	lastID := "0"
	for {
		res, err := m.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{key, lastID},
			Count:   100,
			Block:   m.block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read stream: %w", err)
		}
		for _, stream := range res {
			if len(stream.Messages) == 0 {
				continue
			}
			lastID = stream.Messages[len(stream.Messages)-1].ID
			for _, evt := range m.decode(stream.Messages, since) {
				select {
				case ch <- evt:
				case <-ctx.Done():
					return nil
				}
				since = evt.Seq
				if IsTerminal(evt.Type) {
					return nil
				}
			}
		}
	}
}

// IsTerminal reports whether no events follow an event of this type
func IsTerminal(eventType string) bool {
	return eventType == EventFinalized || eventType == EventFailed
}

func (m *Manager) decode(msgs []redis.XMessage, since uint64) []Event {
	out := make([]Event, 0, len(msgs))
	for _, msg := range msgs {
		seq, _ := strconv.ParseUint(fmt.Sprint(msg.Values["seq"]), 10, 64)
		if seq <= since {
			continue
		}
		raw, _ := msg.Values["payload"].(string)
		var evt Event
		if err := json.Unmarshal([]byte(raw), &evt); err != nil {
			m.logger.Warn("Skipping undecodable event", zap.String("id", msg.ID), zap.Error(err))
			continue
		}
		evt.StreamID = msg.ID
		out = append(out, evt)
	}
	return out
}
