// Package interceptors tags outbound calls made from activities with the
// workflow execution they belong to, so upstream logs can be joined with
// Temporal history.
package interceptors

import (
	"context"
	"net/http"

	"go.temporal.io/sdk/activity"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

const (
	HeaderWorkflowID   = "X-Workflow-ID"
	HeaderRunID        = "X-Run-ID"
	HeaderActivityType = "X-Activity-Type"
)

type execution struct {
	workflowID   string
	runID        string
	activityType string
}

// executionFrom reads the activity info from ctx. activity.GetInfo panics
// outside an activity context, which is reported as ok == false.
func executionFrom(ctx context.Context) (exec execution, ok bool) {
	if ctx == nil {
		return execution{}, false
	}
	defer func() {
		if recover() != nil {
			exec, ok = execution{}, false
		}
	}()
	info := activity.GetInfo(ctx)
	if info.WorkflowExecution.ID == "" {
		return execution{}, false
	}
	return execution{
		workflowID:   info.WorkflowExecution.ID,
		runID:        info.WorkflowExecution.RunID,
		activityType: info.ActivityType.Name,
	}, true
}

// WorkflowHTTPRoundTripper adds workflow headers to requests sent from an
// activity context. Other requests pass through unchanged.
type WorkflowHTTPRoundTripper struct {
	base http.RoundTripper
}

func NewWorkflowHTTPRoundTripper(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &WorkflowHTTPRoundTripper{base: base}
}

func (w *WorkflowHTTPRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	exec, ok := executionFrom(req.Context())
	if !ok {
		return w.base.RoundTrip(req)
	}
	// RoundTrippers must not modify the caller's request
	req = req.Clone(req.Context())
	req.Header.Set(HeaderWorkflowID, exec.workflowID)
	req.Header.Set(HeaderRunID, exec.runID)
	if exec.activityType != "" {
		req.Header.Set(HeaderActivityType, exec.activityType)
	}
	return w.base.RoundTrip(req)
}

// WorkflowUnaryClientInterceptor adds the same tags as gRPC metadata
func WorkflowUnaryClientInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if exec, ok := executionFrom(ctx); ok {
			ctx = metadata.AppendToOutgoingContext(ctx,
				"x-workflow-id", exec.workflowID,
				"x-run-id", exec.runID,
			)
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}
