// Package health runs component probes and serves aggregate health over HTTP.
package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// CheckStatus represents the result of a health check
type CheckStatus int

const (
	StatusHealthy CheckStatus = iota
	StatusDegraded
	StatusUnhealthy
	StatusUnknown
)

func (s CheckStatus) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the status as its string form.
func (s CheckStatus) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// CheckResult contains the result of a single health check.
type CheckResult struct {
	Component string        `json:"component"`
	Status    CheckStatus   `json:"status"`
	Message   string        `json:"message,omitempty"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
	Critical  bool          `json:"critical"`
}

// Checker is a component probe.
type Checker interface {
	// Name returns the unique name of this health check
	Name() string
	// Check performs the probe
	Check(ctx context.Context) CheckResult
	// IsCritical reports whether failure should mark the service unhealthy
	IsCritical() bool
	// Timeout bounds one probe
	Timeout() time.Duration
}

// Overall is the aggregate view across all registered checkers.
type Overall struct {
	Status     CheckStatus            `json:"status"`
	Components map[string]CheckResult `json:"components"`
	Timestamp  time.Time              `json:"timestamp"`
}

// Manager runs registered checkers on demand and on a background interval.
type Manager struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	last     map[string]CheckResult
	interval time.Duration
	logger   *zap.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewManager(interval time.Duration, logger *zap.Logger) *Manager {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Manager{
		checkers: make(map[string]Checker),
		last:     make(map[string]CheckResult),
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// RegisterChecker adds a checker; names must be unique.
func (m *Manager) RegisterChecker(c Checker) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.checkers[c.Name()]; exists {
		return fmt.Errorf("health checker %q already registered", c.Name())
	}
	m.checkers[c.Name()] = c
	return nil
}

// Start launches the background probe loop.
func (m *Manager) Start() {
	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		m.runAll(context.Background())
		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.runAll(context.Background())
			}
		}
	}()
}

// Stop halts the background loop.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

func (m *Manager) runAll(ctx context.Context) {
	m.mu.RLock()
	checkers := make([]Checker, 0, len(m.checkers))
	for _, c := range m.checkers {
		checkers = append(checkers, c)
	}
	m.mu.RUnlock()

	for _, c := range checkers {
		res := m.runOne(ctx, c)
		m.mu.Lock()
		m.last[c.Name()] = res
		m.mu.Unlock()
		if res.Status == StatusUnhealthy {
			m.logger.Warn("Health check failed",
				zap.String("component", res.Component),
				zap.String("error", res.Error),
			)
		}
	}
}

func (m *Manager) runOne(ctx context.Context, c Checker) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout())
	defer cancel()
	start := time.Now()
	res := c.Check(ctx)
	res.Component = c.Name()
	res.Critical = c.IsCritical()
	res.Duration = time.Since(start)
	res.Timestamp = time.Now()
	return res
}

// Overall aggregates the freshest results, probing on demand any component
// that has never run.
func (m *Manager) Overall(ctx context.Context) Overall {
	m.mu.RLock()
	names := make([]string, 0, len(m.checkers))
	for name := range m.checkers {
		names = append(names, name)
	}
	m.mu.RUnlock()
	sort.Strings(names)

	components := make(map[string]CheckResult, len(names))
	status := StatusHealthy
	for _, name := range names {
		m.mu.RLock()
		res, ok := m.last[name]
		checker := m.checkers[name]
		m.mu.RUnlock()
		if !ok {
			res = m.runOne(ctx, checker)
			m.mu.Lock()
			m.last[name] = res
			m.mu.Unlock()
		}
		components[name] = res
		switch {
		case res.Status == StatusUnhealthy && res.Critical:
			status = StatusUnhealthy
		case res.Status != StatusHealthy && status == StatusHealthy:
			status = StatusDegraded
		}
	}
	return Overall{Status: status, Components: components, Timestamp: time.Now()}
}

// IsReady reports whether all critical components are healthy.
func (m *Manager) IsReady(ctx context.Context) bool {
	return m.Overall(ctx).Status != StatusUnhealthy
}

// IsLive reports process liveness; it never probes dependencies.
func (m *Manager) IsLive() bool { return true }
