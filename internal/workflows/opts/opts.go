package opts

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// LLMActivityOptions is used for plan, reflect, finalize and the single-shot
// paths. The llm client retries internally, so Temporal does not.
func LLMActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	}
}

// WorkerActivityOptions is used for web, academic and document workers.
// Worker activities report collaborator failures inline instead of failing.
func WorkerActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	}
}

// BookkeepingActivityOptions is used for config, transcript and run history
func BookkeepingActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    10 * time.Second,
			MaximumAttempts:    3,
		},
	}
}

// ProgressActivityOptions is used for best-effort progress events
func ProgressActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	}
}

// WithLLMOptions applies LLMActivityOptions to a context
func WithLLMOptions(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, LLMActivityOptions())
}

// WithWorkerOptions applies WorkerActivityOptions to a context
func WithWorkerOptions(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, WorkerActivityOptions())
}

// WithBookkeepingOptions applies BookkeepingActivityOptions to a context
func WithBookkeepingOptions(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, BookkeepingActivityOptions())
}

// WithProgressOptions applies ProgressActivityOptions to a context
func WithProgressOptions(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, ProgressActivityOptions())
}
