package prometheus

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/store/memory"
)

type fakeSource struct {
	snapshot authcore.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() authcore.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                      { return f.dropped }

type statsSource struct {
	fakeSource
	stats authcore.SessionStats
	err   error
}

func (s statsSource) SessionStats(context.Context) (authcore.SessionStats, error) {
	return s.stats, s.err
}

func emptySnapshot() authcore.MetricsSnapshot {
	return authcore.MetricsSnapshot{
		Counters:   map[authcore.MetricID]uint64{},
		Histograms: map[authcore.MetricID][]uint64{},
	}
}

func TestRenderEmptyWhenMetricsDisabled(t *testing.T) {
	exp := NewExporterFromSource(fakeSource{snapshot: emptySnapshot()})
	if got := exp.Render(); got != "" {
		t.Fatalf("expected empty output, got:\n%s", got)
	}
}

func TestRenderCountersAndHistogram(t *testing.T) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: authcore.MetricsSnapshot{
			Counters: map[authcore.MetricID]uint64{authcore.MetricLoginSuccess: 7},
			Histograms: map[authcore.MetricID][]uint64{
				authcore.MetricValidateLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	})

	out := exp.Render()
	for _, want := range []string{
		"# TYPE authcore_login_success_total counter\nauthcore_login_success_total 7\n",
		"authcore_refresh_reuse_detected_total 0\n",
		"authcore_validate_latency_seconds_bucket{le=\"0.005\"} 1\n",
		"authcore_validate_latency_seconds_bucket{le=\"+Inf\"} 36\n",
		"authcore_validate_latency_seconds_count 36\n",
		"authcore_audit_dropped_total 2\n",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
	if strings.Contains(out, "authcore_login_latency_seconds") {
		t.Fatalf("histogram without samples rendered:\n%s", out)
	}
	if strings.Contains(out, "authcore_sessions_active") {
		t.Fatalf("session gauge rendered for plain source:\n%s", out)
	}
}

func TestRenderSessionGauges(t *testing.T) {
	snap := emptySnapshot()
	snap.Counters[authcore.MetricLoginSuccess] = 1
	src := statsSource{
		fakeSource: fakeSource{snapshot: snap},
		stats:      authcore.SessionStats{TotalActive: 3, ActiveByUser: map[string]int{"u1": 2, "u2": 1}},
	}

	out := NewExporterFromSource(src).Render()
	if !strings.Contains(out, "# TYPE authcore_sessions_active gauge\nauthcore_sessions_active 3\n") {
		t.Fatalf("missing sessions gauge:\n%s", out)
	}
	if !strings.Contains(out, "authcore_sessions_active_users 2\n") {
		t.Fatalf("missing users gauge:\n%s", out)
	}

	src.err = errors.New("store down")
	out = NewExporterFromSource(src).Render()
	if strings.Contains(out, "authcore_sessions_active") || !strings.Contains(out, "authcore_login_success_total 1") {
		t.Fatalf("store failure should drop only the gauges:\n%s", out)
	}
}

func TestHandlerServesEngineMetrics(t *testing.T) {
	cfg := authcore.DefaultConfig()
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Password.BcryptCost = 4
	engine, err := authcore.New().
		WithConfig(cfg).
		WithUserStore(memory.NewUserStore(nil)).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer engine.Close()

	_, _ = engine.Login(context.Background(), authcore.LoginRequest{Email: "nobody@example.com", Password: "password1"})

	rec := httptest.NewRecorder()
	NewExporter(engine).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/plain") {
		t.Fatalf("unexpected content type %q", got)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "authcore_login_failure_total 1\n") {
		t.Fatalf("expected one login failure:\n%s", body)
	}
	if !strings.Contains(body, "authcore_sessions_active 0\n") {
		t.Fatalf("expected session gauge from engine:\n%s", body)
	}
}

func BenchmarkRender(b *testing.B) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: authcore.MetricsSnapshot{
			Counters: map[authcore.MetricID]uint64{
				authcore.MetricLoginSuccess:       1000,
				authcore.MetricLoginFailure:       40,
				authcore.MetricRefreshSuccess:     800,
				authcore.MetricSessionCreated:     800,
				authcore.MetricSessionInvalidated: 20,
			},
			Histograms: map[authcore.MetricID][]uint64{
				authcore.MetricValidateLatency: {10, 20, 30, 40, 50, 60, 70, 80},
			},
		},
	})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = exp.Render()
	}
}
