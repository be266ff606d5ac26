package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultCheckTimeout = 5 * time.Second

// Manager runs registered checks on demand
type Manager struct {
	mu       sync.RWMutex
	checkers []Checker
	timeout  time.Duration
	logger   *zap.Logger
}

func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{timeout: defaultCheckTimeout, logger: logger}
}

// RegisterChecker adds c. Names must be unique.
func (m *Manager) RegisterChecker(c Checker) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.checkers {
		if existing.Name() == c.Name() {
			return fmt.Errorf("health checker %q already registered", c.Name())
		}
	}
	m.checkers = append(m.checkers, c)
	m.logger.Info("Registered health checker",
		zap.String("name", c.Name()),
		zap.Bool("critical", c.Critical()),
	)
	return nil
}

// Check runs every checker concurrently, each under the per-check timeout
func (m *Manager) Check(ctx context.Context) Report {
	m.mu.RLock()
	checkers := append([]Checker(nil), m.checkers...)
	m.mu.RUnlock()

	results := make([]Result, len(checkers))
	var g errgroup.Group
	for i, c := range checkers {
		g.Go(func() error {
			results[i] = m.run(ctx, c)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Component < results[j].Component })
	report := summarize(results)
	report.CheckedAt = time.Now()
	return report
}

func (m *Manager) IsReady(ctx context.Context) bool { return m.Check(ctx).Ready }

func (m *Manager) run(ctx context.Context, c Checker) Result {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := time.Now()
	r := c.Check(ctx)
	r.Component = c.Name()
	r.Critical = c.Critical()
	r.CheckedAt = start
	r.LatencyMS = time.Since(start).Milliseconds()
	if r.Status == "" {
		r.Status = StatusHealthy
	}
	if r.Status == StatusUnhealthy {
		m.logger.Warn("Health check failing",
			zap.String("component", r.Component),
			zap.Bool("critical", r.Critical),
			zap.String("error", r.Error),
		)
	}
	return r
}

// summarize folds results into one status. Non-critical failures only
// degrade the report; a critical failure makes it unready.
func summarize(results []Result) Report {
	report := Report{Status: StatusHealthy, Ready: true, Components: results}
	var failing []string
	for _, r := range results {
		effective := r.Status
		if effective == StatusUnhealthy && !r.Critical {
			effective = StatusDegraded
		}
		if effective.rank() > report.Status.rank() {
			report.Status = effective
		}
		if r.Status != StatusHealthy {
			failing = append(failing, r.Component)
		}
		if r.Status == StatusUnhealthy && r.Critical {
			report.Ready = false
		}
	}

	switch {
	case len(results) == 0:
		report.Message = "no dependencies configured"
	case len(failing) == 0:
		report.Message = fmt.Sprintf("all %d components healthy", len(results))
	default:
		report.Message = fmt.Sprintf("%d of %d components not healthy: %v", len(failing), len(results), failing)
	}
	return report
}
