package circuitbreaker

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HTTPWrapper is a breaker-guarded http.Client for one upstream (arXiv or
// page fetches)
type HTTPWrapper struct {
	client    *http.Client
	cb        *CircuitBreaker
	name      string
	component string
}

func NewHTTPWrapper(client *http.Client, name, component string, settings Settings, logger *zap.Logger) *HTTPWrapper {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPWrapper{
		client:    client,
		cb:        NewRegistered(name, component, settings, logger),
		name:      name,
		component: component,
	}
}

// Do executes an HTTP request through the circuit breaker. 5xx and 429
// responses count as breaker failures but are still returned to the caller.
func (hw *HTTPWrapper) Do(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	err := hw.cb.Execute(req.Context(), func() error {
		var doErr error
		resp, doErr = hw.client.Do(req)
		if doErr != nil {
			return doErr
		}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return &HTTPStatusError{Code: resp.StatusCode}
		}
		return nil
	})

	Default.Observe(hw.component, hw.name, err)

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return resp, nil
	}
	return resp, err
}

// Breaker exposes the underlying breaker for health checks
func (hw *HTTPWrapper) Breaker() *CircuitBreaker { return hw.cb }

// HTTPStatusError marks an upstream status that should be treated as a failure
type HTTPStatusError struct{ Code int }

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("upstream returned %d %s", e.Code, http.StatusText(e.Code))
}
