package health

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/client"

	"github.com/Kocoro-lab/converge/internal/circuitbreaker"
)

// Pinger is implemented by session.Manager and db.Client
type Pinger interface {
	Ping(ctx context.Context) error
}

// BreakerState is implemented by anything fronted by a circuit breaker
type BreakerState interface {
	IsCircuitBreakerOpen() bool
}

// PingChecker pings a dependency. A ping slower than slowAfter is degraded.
type PingChecker struct {
	name      string
	target    Pinger
	breaker   BreakerState
	critical  bool
	slowAfter time.Duration
}

// NewPingChecker checks target. breaker may be nil; an open breaker fails the
// check without pinging.
func NewPingChecker(name string, target Pinger, breaker BreakerState, critical bool) *PingChecker {
	return &PingChecker{
		name:      name,
		target:    target,
		breaker:   breaker,
		critical:  critical,
		slowAfter: 100 * time.Millisecond,
	}
}

func (p *PingChecker) Name() string   { return p.name }
func (p *PingChecker) Critical() bool { return p.critical }

func (p *PingChecker) Check(ctx context.Context) Result {
	if p.breaker != nil && p.breaker.IsCircuitBreakerOpen() {
		return unhealthy("circuit breaker open", nil)
	}
	start := time.Now()
	if err := p.target.Ping(ctx); err != nil {
		return unhealthy("ping failed", err)
	}
	if took := time.Since(start); took > p.slowAfter {
		return Result{Status: StatusDegraded, Message: fmt.Sprintf("slow ping (%s)", took.Round(time.Millisecond))}
	}
	return healthy("ok")
}

// TemporalChecker asks the frontend the worker polls for its health
type TemporalChecker struct{ client client.Client }

func NewTemporalChecker(c client.Client) *TemporalChecker { return &TemporalChecker{client: c} }

func (t *TemporalChecker) Name() string   { return "temporal" }
func (t *TemporalChecker) Critical() bool { return true }

func (t *TemporalChecker) Check(ctx context.Context) Result {
	if _, err := t.client.CheckHealth(ctx, &client.CheckHealthRequest{}); err != nil {
		return unhealthy("frontend health check failed", err)
	}
	return healthy("ok")
}

// BreakerChecker reports the collaborators whose breakers are not closed.
// An open breaker degrades the service; it never blocks readiness because
// research runs retry through their own activity policies.
type BreakerChecker struct {
	collector *circuitbreaker.Collector
}

func NewBreakerChecker(c *circuitbreaker.Collector) *BreakerChecker {
	return &BreakerChecker{collector: c}
}

func (b *BreakerChecker) Name() string   { return "breakers" }
func (b *BreakerChecker) Critical() bool { return false }

func (b *BreakerChecker) Check(context.Context) Result {
	details := map[string]any{}
	var tripped []string
	for _, st := range b.collector.Statuses() {
		key := st.Component + "/" + st.Name
		details[key] = st.State.String()
		if st.State != circuitbreaker.StateClosed {
			tripped = append(tripped, key)
		}
	}
	if len(tripped) == 0 {
		r := healthy("all breakers closed")
		r.Details = details
		return r
	}
	return Result{
		Status:  StatusDegraded,
		Message: "not closed: " + strings.Join(tripped, ", "),
		Details: details,
	}
}

// FuncChecker adapts a plain function
type FuncChecker struct {
	name     string
	critical bool
	fn       func(ctx context.Context) Result
}

func NewFuncChecker(name string, critical bool, fn func(ctx context.Context) Result) *FuncChecker {
	return &FuncChecker{name: name, critical: critical, fn: fn}
}

func (f *FuncChecker) Name() string                     { return f.name }
func (f *FuncChecker) Critical() bool                   { return f.critical }
func (f *FuncChecker) Check(ctx context.Context) Result { return f.fn(ctx) }
