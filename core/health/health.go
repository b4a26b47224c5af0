// Package health reports whether the authorization service and its
// dependencies can serve permission checks.
//
// Checks run concurrently under a shared timeout. A failing critical
// dependency (the tuple database) makes the service unhealthy and not ready;
// a failing optional one (decision cache, change bus) only degrades it,
// because checks still answer correctly without them.
//
//	manager := health.NewManager("1.0.0", health.WithTimeout(3*time.Second))
//	manager.Register(health.NewPingChecker("database", sqlDB.PingContext, true))
//	manager.Register(health.NewPingChecker("redis", cache.Ping, false))
//	manager.Register(health.NewNATSChecker(nc))
//
//	e.GET("/healthz", echo.WrapHandler(manager.LiveHandler()))
//	e.GET("/ready", echo.WrapHandler(manager.ReadyHandler()))
//	e.GET("/health", echo.WrapHandler(manager.FullHandler()))
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	nats "github.com/nats-io/nats.go"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Check represents the result of a single health check.
type Check struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"-"`
	LatencyMs int64         `json:"latency_ms"`
	Timestamp time.Time     `json:"timestamp"`
}

// Report represents the overall health report.
type Report struct {
	Status    Status    `json:"status"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
	Checks    []Check   `json:"checks"`
}

// Checker is the interface for health check implementations.
type Checker interface {
	Name() string
	Check(ctx context.Context) *Check
}

// CheckFunc is a function adapter for Checker.
type CheckFunc struct {
	CheckName string
	Fn        func(ctx context.Context) *Check
}

func (c CheckFunc) Name() string                     { return c.CheckName }
func (c CheckFunc) Check(ctx context.Context) *Check { return c.Fn(ctx) }

// Manager coordinates health checks.
type Manager struct {
	mu       sync.RWMutex
	checkers []Checker
	version  string
	timeout  time.Duration
}

// ManagerOption configures the Manager.
type ManagerOption func(*Manager)

// NewManager creates a new health manager.
func NewManager(version string, opts ...ManagerOption) *Manager {
	m := &Manager{
		version: version,
		timeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// WithTimeout sets the check timeout.
func WithTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.timeout = d
	}
}

// Register adds a health checker.
func (m *Manager) Register(checker Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers = append(m.checkers, checker)
}

// RegisterFunc adds a health check function.
func (m *Manager) RegisterFunc(name string, fn func(ctx context.Context) *Check) {
	m.Register(CheckFunc{CheckName: name, Fn: fn})
}

// Check runs all health checks and returns a report with checks sorted by name.
func (m *Manager) Check(ctx context.Context) *Report {
	m.mu.RLock()
	checkers := make([]Checker, len(m.checkers))
	copy(checkers, m.checkers)
	m.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	report := &Report{
		Status:    StatusHealthy,
		Version:   m.version,
		Timestamp: time.Now().UTC(),
		Checks:    make([]Check, 0, len(checkers)),
	}

	var wg sync.WaitGroup
	results := make(chan *Check, len(checkers))

	for _, checker := range checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()
			start := time.Now()
			check := c.Check(ctx)
			if check == nil {
				check = &Check{Name: c.Name(), Status: StatusUnhealthy}
			}
			check.Latency = time.Since(start)
			check.LatencyMs = check.Latency.Milliseconds()
			check.Timestamp = time.Now().UTC()
			results <- check
		}(checker)
	}

	wg.Wait()
	close(results)

	for check := range results {
		report.Checks = append(report.Checks, *check)

		switch check.Status {
		case StatusUnhealthy:
			report.Status = StatusUnhealthy
		case StatusDegraded:
			if report.Status != StatusUnhealthy {
				report.Status = StatusDegraded
			}
		}
	}
	sort.Slice(report.Checks, func(i, j int) bool {
		return report.Checks[i].Name < report.Checks[j].Name
	})

	return report
}

// IsReady returns true if the service can accept traffic.
func (m *Manager) IsReady(ctx context.Context) bool {
	return m.Check(ctx).Status != StatusUnhealthy
}

// ---- HTTP Handlers ----

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// LiveHandler answers liveness probes. It never touches dependencies.
func (m *Manager) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadyHandler answers readiness probes.
func (m *Manager) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if m.IsReady(r.Context()) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
			return
		}
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
	}
}

// FullHandler returns the full report. Degraded answers 200.
func (m *Manager) FullHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := m.Check(r.Context())
		status := http.StatusOK
		if report.Status == StatusUnhealthy {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, report)
	}
}

// ---- Built-in Checkers ----

// PingChecker reports a dependency reachable through a ping function.
type PingChecker struct {
	name     string
	pingFn   func(ctx context.Context) error
	critical bool
}

// NewPingChecker creates a checker for a pingable dependency such as the
// database or the redis cache. A failing critical dependency is unhealthy,
// any other is degraded.
func NewPingChecker(name string, pingFn func(ctx context.Context) error, critical bool) *PingChecker {
	return &PingChecker{name: name, pingFn: pingFn, critical: critical}
}

func (c *PingChecker) Name() string { return c.name }

func (c *PingChecker) Check(ctx context.Context) *Check {
	check := &Check{Name: c.name, Status: StatusHealthy, Message: "connected"}

	if err := c.pingFn(ctx); err != nil {
		check.Status = StatusDegraded
		if c.critical {
			check.Status = StatusUnhealthy
		}
		check.Message = err.Error()
	}

	return check
}

// NATSConn is the part of *nats.Conn the NATS checker inspects.
type NATSConn interface {
	Status() nats.Status
}

// NATSChecker reports the change bus connection. A lost connection degrades
// the service: remote writes stop invalidating the local cache until TTL.
type NATSChecker struct {
	conn NATSConn
}

// NewNATSChecker creates a checker for the NATS connection.
func NewNATSChecker(conn NATSConn) *NATSChecker {
	return &NATSChecker{conn: conn}
}

func (c *NATSChecker) Name() string { return "nats" }

func (c *NATSChecker) Check(ctx context.Context) *Check {
	status := c.conn.Status()
	check := &Check{Name: c.Name(), Message: status.String()}
	if status == nats.CONNECTED {
		check.Status = StatusHealthy
	} else {
		check.Status = StatusDegraded
	}
	return check
}
