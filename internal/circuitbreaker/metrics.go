package circuitbreaker

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "converge_breaker_state",
			Help: "Breaker state per collaborator (0=closed, 1=half-open, 2=open)",
		},
		[]string{"component", "breaker"},
	)

	breakerCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "converge_breaker_calls_total",
			Help: "Calls through a breaker by result (success, failure, rejected)",
		},
		[]string{"component", "breaker", "result"},
	)

	breakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "converge_breaker_transitions_total",
			Help: "Breaker state transitions",
		},
		[]string{"component", "breaker", "from", "to"},
	)

	breakerOpenSince = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "converge_breaker_open_since_seconds",
			Help: "Unix time the breaker opened, 0 while not open",
		},
		[]string{"component", "breaker"},
	)
)

type breakerKey struct {
	component string
	name      string
}

// Collector exports state for every registered breaker
type Collector struct {
	mu       sync.RWMutex
	breakers map[breakerKey]*CircuitBreaker
}

func NewCollector() *Collector {
	return &Collector{breakers: make(map[breakerKey]*CircuitBreaker)}
}

// Default is the process-wide collector used by the wrappers
var Default = NewCollector()

// Register exports cb under component/name and chains onto its
// OnStateChange callback. Call it before the breaker serves traffic.
func (c *Collector) Register(component, name string, cb *CircuitBreaker) {
	c.mu.Lock()
	c.breakers[breakerKey{component, name}] = cb
	c.mu.Unlock()

	prev := cb.cfg.OnStateChange
	cb.cfg.OnStateChange = func(n string, from, to State) {
		if prev != nil {
			prev(n, from, to)
		}
		breakerTransitions.WithLabelValues(component, name, from.String(), to.String()).Inc()
		breakerState.WithLabelValues(component, name).Set(float64(to))
		switch {
		case to == StateOpen:
			breakerOpenSince.WithLabelValues(component, name).SetToCurrentTime()
		case from == StateOpen:
			breakerOpenSince.WithLabelValues(component, name).Set(0)
		}
	}
	breakerState.WithLabelValues(component, name).Set(float64(cb.State()))
}

// Observe counts one call outcome as returned by Execute
func (c *Collector) Observe(component, name string, err error) {
	result := "success"
	switch {
	case errors.Is(err, ErrCircuitBreakerOpen), errors.Is(err, ErrTooManyRequests):
		result = "rejected"
	case err != nil:
		result = "failure"
	}
	breakerCalls.WithLabelValues(component, name, result).Inc()
}

// Refresh re-reads every breaker so time-based transitions show up in the
// state gauge without traffic
func (c *Collector) Refresh() {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for key, cb := range c.breakers {
		breakerState.WithLabelValues(key.component, key.name).Set(float64(cb.State()))
	}
}

// ComponentStatus is a breaker status tagged with its component
type ComponentStatus struct {
	Component string
	Status
}

// Statuses lists registered breakers sorted by component and name
func (c *Collector) Statuses() []ComponentStatus {
	c.mu.RLock()
	out := make([]ComponentStatus, 0, len(c.breakers))
	for key, cb := range c.breakers {
		out = append(out, ComponentStatus{Component: key.component, Status: cb.Status()})
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Component != out[j].Component {
			return out[i].Component < out[j].Component
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// NewRegistered builds a breaker from settings and registers it with Default
func NewRegistered(name, component string, settings Settings, logger *zap.Logger) *CircuitBreaker {
	cb := NewCircuitBreaker(name, settings.ToConfig(), logger)
	Default.Register(component, name, cb)
	return cb
}

// StartMetricsCollection refreshes Default every interval until ctx is done
func StartMetricsCollection(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				Default.Refresh()
			}
		}
	}()
}
