package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"sync"
	"time"
)

// Status is the reported health of the service or one of its checks.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Check probes one dependency. Critical checks flip the whole service to
// unhealthy when they fail; non-critical ones only degrade it.
type Check struct {
	Name     string
	Probe    func(context.Context) error
	Timeout  time.Duration
	Critical bool
}

// HealthChecker runs registered dependency checks on demand. It is
// constructed explicitly and handed to the admin server; there is no
// package-level instance.
type HealthChecker struct {
	mu      sync.RWMutex
	checks  []*Check
	started time.Time
}

// NewHealthChecker creates an empty checker.
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{started: time.Now()}
}

// Register adds a check. A zero timeout defaults to 5s.
func (hc *HealthChecker) Register(check *Check) {
	if check.Timeout == 0 {
		check.Timeout = 5 * time.Second
	}
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks = append(hc.checks, check)
}

// CheckResult reports one check's outcome.
type CheckResult struct {
	Status   Status `json:"status"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration"`
}

// Report is the full health response body.
type Report struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	System    SystemInfo             `json:"system"`
}

// SystemInfo carries basic runtime numbers for the health response.
type SystemInfo struct {
	Goroutines int    `json:"goroutines"`
	NumCPU     int    `json:"num_cpu"`
	MemAllocMB uint64 `json:"mem_alloc_mb"`
}

// Run executes all checks and aggregates the overall status.
func (hc *HealthChecker) Run(ctx context.Context) Report {
	hc.mu.RLock()
	checks := make([]*Check, len(hc.checks))
	copy(checks, hc.checks)
	hc.mu.RUnlock()

	report := Report{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Uptime:    time.Since(hc.started).Round(time.Second).String(),
		Checks:    make(map[string]CheckResult, len(checks)),
		System:    systemInfo(),
	}

	for _, check := range checks {
		result := runCheck(ctx, check)
		report.Checks[check.Name] = result

		switch {
		case result.Status == StatusUnhealthy:
			report.Status = StatusUnhealthy
		case result.Status == StatusDegraded && report.Status == StatusHealthy:
			report.Status = StatusDegraded
		}
	}
	return report
}

func runCheck(ctx context.Context, check *Check) CheckResult {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, check.Timeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- check.Probe(ctx) }()

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
		err = ctx.Err()
	}

	result := CheckResult{
		Status:   StatusHealthy,
		Duration: time.Since(start).String(),
	}
	if err != nil {
		result.Message = err.Error()
		if check.Critical {
			result.Status = StatusUnhealthy
		} else {
			result.Status = StatusDegraded
		}
	}
	return result
}

// Handler serves the full health report. Unhealthy maps to 503.
func (hc *HealthChecker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := hc.Run(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if report.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(report)
	}
}

// LivenessHandler answers as long as the process runs.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "alive"})
	}
}

// ReadinessHandler answers ready only while every check passes.
func (hc *HealthChecker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := hc.Run(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if report.Status != StatusHealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "not ready"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
	}
}

// StoreCheck probes the persistence backend.
func StoreCheck(ping func(context.Context) error) *Check {
	return &Check{Name: "store", Probe: ping, Critical: true}
}

// ProviderCheck probes an external NLU service.
func ProviderCheck(name string, probe func(context.Context) error) *Check {
	return &Check{Name: name, Probe: probe, Timeout: 10 * time.Second}
}

func systemInfo() SystemInfo {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return SystemInfo{
		Goroutines: runtime.NumGoroutine(),
		NumCPU:     runtime.NumCPU(),
		MemAllocMB: m.Alloc / 1024 / 1024,
	}
}
