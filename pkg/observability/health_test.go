package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthCheckerAggregation(t *testing.T) {
	ok := func(context.Context) error { return nil }
	fail := func(context.Context) error { return errors.New("down") }

	tests := []struct {
		name   string
		checks []*Check
		want   Status
	}{
		{
			name: "all passing",
			checks: []*Check{
				{Name: "a", Probe: ok},
				{Name: "b", Probe: ok, Critical: true},
			},
			want: StatusHealthy,
		},
		{
			name: "non-critical failure degrades",
			checks: []*Check{
				{Name: "a", Probe: fail},
				{Name: "b", Probe: ok, Critical: true},
			},
			want: StatusDegraded,
		},
		{
			name: "critical failure is unhealthy",
			checks: []*Check{
				{Name: "a", Probe: fail},
				{Name: "b", Probe: fail, Critical: true},
			},
			want: StatusUnhealthy,
		},
		{
			name: "no checks",
			want: StatusHealthy,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hc := NewHealthChecker()
			for _, c := range tt.checks {
				hc.Register(c)
			}
			report := hc.Run(context.Background())
			assert.Equal(t, tt.want, report.Status)
			assert.Len(t, report.Checks, len(tt.checks))
		})
	}
}

func TestHealthCheckTimeout(t *testing.T) {
	hc := NewHealthChecker()
	hc.Register(&Check{
		Name:     "slow",
		Timeout:  10 * time.Millisecond,
		Critical: true,
		Probe: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})

	report := hc.Run(context.Background())
	assert.Equal(t, StatusUnhealthy, report.Status)
	assert.Contains(t, report.Checks["slow"].Message, "deadline")
}

func TestHealthHandlerStatusCodes(t *testing.T) {
	hc := NewHealthChecker()

	rec := httptest.NewRecorder()
	hc.Handler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	hc.Register(&Check{Name: "store", Critical: true, Probe: func(context.Context) error {
		return errors.New("down")
	}})

	rec = httptest.NewRecorder()
	hc.Handler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestReadinessRequiresFullyHealthy(t *testing.T) {
	hc := NewHealthChecker()
	hc.Register(&Check{Name: "flaky", Probe: func(context.Context) error {
		return errors.New("degraded")
	}})

	rec := httptest.NewRecorder()
	hc.ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	LivenessHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsHandlerServes(t *testing.T) {
	InitMetrics()
	RecordTurn("testbot", "text", "ok", time.Millisecond)

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "chatkit_turns_total")
}
