package observability_test

import (
	"InsureLedger/internal/observability"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func TestReadiness_RequiresAllComponents(t *testing.T) {
	h := observability.NewHealthChecker()
	h.SetComponent("store", true)
	h.SetComponent("postgres", false)
	h.SetReady(true)

	rec := httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("got %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}

	h.SetComponent("postgres", true)
	rec = httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("got %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestLiveness_AlwaysOK(t *testing.T) {
	h := observability.NewHealthChecker()
	rec := httptest.NewRecorder()
	h.LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("got %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestMetrics_IsolatedRegistries(t *testing.T) {
	a := observability.NewMetrics(prometheus.NewRegistry())
	b := observability.NewMetrics(prometheus.NewRegistry())

	a.CoreEventsApplied.WithLabelValues("CancelPolicy").Inc()
	if got := testutil.ToFloat64(b.CoreEventsApplied.WithLabelValues("CancelPolicy")); got != 0 {
		t.Errorf("registries leaked: got %v, want 0", got)
	}

	a.SetChannelMetrics("persist", 5, 10)
	if got := testutil.ToFloat64(a.ChannelUtilization.WithLabelValues("persist")); got != 0.5 {
		t.Errorf("utilization: got %v, want 0.5", got)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug": zerolog.DebugLevel,
		"WARN":  zerolog.WarnLevel,
		"":      zerolog.InfoLevel,
		"bogus": zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := observability.ParseLogLevel(in); got != want {
			t.Errorf("%q: got %v, want %v", in, got, want)
		}
	}
}
