package activities

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/converge/internal/db"
	"github.com/Kocoro-lab/converge/internal/state"
)

// LoadTranscript returns the stored history of a session, or nothing when
// sessions are not persisted or the session is new.
func (a *Activities) LoadTranscript(ctx context.Context, in LoadTranscriptInput) ([]state.Turn, error) {
	if a.sessions == nil || in.SessionID == "" {
		return nil, nil
	}
	turns, err := a.sessions.LoadHistory(ctx, in.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load transcript: %w", err)
	}
	return turns, nil
}

// SaveTranscript stores the full transcript of a session
func (a *Activities) SaveTranscript(ctx context.Context, in SaveTranscriptInput) error {
	if a.sessions == nil || in.SessionID == "" {
		return nil
	}
	if err := a.sessions.SaveHistory(ctx, in.SessionID, in.Transcript); err != nil {
		return fmt.Errorf("save transcript: %w", err)
	}
	return nil
}

// RecordRun writes the run history row. Idempotent by workflow id.
func (a *Activities) RecordRun(ctx context.Context, in RecordRunInput) error {
	if a.runs == nil {
		return nil
	}
	run := &db.ResearchRun{
		WorkflowID:  in.WorkflowID,
		SessionID:   in.SessionID,
		Path:        in.Path,
		Query:       in.Query,
		Status:      in.Status,
		Rounds:      in.Rounds,
		QueriesRun:  in.QueriesRun,
		SourcesKept: in.SourcesKept,
		Metadata:    db.JSONB{"tokens_used": in.TokensUsed},
		StartedAt:   in.StartedAt,
	}
	if in.Answer != "" {
		run.Answer = &in.Answer
	}
	if in.ErrorMessage != "" {
		run.ErrorMessage = &in.ErrorMessage
	}
	if !in.CompletedAt.IsZero() {
		completed := in.CompletedAt
		run.CompletedAt = &completed
	}
	if err := a.runs.SaveRun(ctx, run); err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// EmitProgress publishes a progress event. Publishing is best effort: a
// failure is logged and swallowed.
func (a *Activities) EmitProgress(ctx context.Context, in EmitProgressInput) error {
	if a.events == nil {
		return nil
	}
	if err := a.events.Publish(ctx, in.WorkflowID, in.Event); err != nil {
		a.logger.Warn("Failed to publish progress event",
			zap.String("workflow_id", in.WorkflowID),
			zap.String("type", in.Event.Type),
			zap.Error(err),
		)
	}
	return nil
}
