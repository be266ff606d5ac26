package interceptors

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/testsuite"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

type seenHeaders struct {
	workflowID   string
	activityType string
}

func newHeaderServer(t *testing.T, seen *seenHeaders) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.workflowID = r.Header.Get(HeaderWorkflowID)
		seen.activityType = r.Header.Get(HeaderActivityType)
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRoundTripperOutsideActivity(t *testing.T) {
	var seen seenHeaders
	srv := newHeaderServer(t, &seen)
	client := &http.Client{Transport: NewWorkflowHTTPRoundTripper(nil)}

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Empty(t, seen.workflowID)
	assert.Empty(t, req.Header.Get(HeaderWorkflowID))
}

func TestRoundTripperInsideActivity(t *testing.T) {
	var seen seenHeaders
	srv := newHeaderServer(t, &seen)
	client := &http.Client{Transport: NewWorkflowHTTPRoundTripper(http.DefaultTransport)}

	fetch := func(ctx context.Context) (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
		if err != nil {
			return "", err
		}
		resp, err := client.Do(req)
		if err != nil {
			return "", err
		}
		resp.Body.Close()
		return activity.GetInfo(ctx).WorkflowExecution.ID, nil
	}

	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestActivityEnvironment()
	env.RegisterActivityWithOptions(fetch, activity.RegisterOptions{Name: "FetchPage"})
	val, err := env.ExecuteActivity("FetchPage")
	require.NoError(t, err)

	var workflowID string
	require.NoError(t, val.Get(&workflowID))
	assert.NotEmpty(t, workflowID)
	assert.Equal(t, workflowID, seen.workflowID)
	assert.Equal(t, "FetchPage", seen.activityType)
}

func TestUnaryInterceptorOutsideActivity(t *testing.T) {
	interceptor := WorkflowUnaryClientInterceptor()
	var called bool
	err := interceptor(context.Background(), "/svc/Method", nil, nil, nil,
		func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
			called = true
			_, ok := metadata.FromOutgoingContext(ctx)
			assert.False(t, ok)
			return nil
		})
	require.NoError(t, err)
	assert.True(t, called)
}
