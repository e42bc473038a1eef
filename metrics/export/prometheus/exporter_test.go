package prometheus

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrEthical07/authgate"
	"github.com/MrEthical07/authgate/userstore/memory"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeSource struct {
	snapshot authgate.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() authgate.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                      { return f.dropped }

func populated() fakeSource {
	return fakeSource{
		snapshot: authgate.MetricsSnapshot{
			Counters: map[authgate.MetricID]uint64{
				authgate.MetricCaptchaIssued: 7,
				authgate.MetricLoginSuccess:  2,
			},
			Histograms: map[authgate.MetricID][]uint64{
				authgate.MetricCaptchaRenderLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	}
}

func TestCollectEmptyWhenMetricsDisabled(t *testing.T) {
	exp := NewPrometheusExporterFromSource(fakeSource{
		snapshot: authgate.MetricsSnapshot{
			Counters:   map[authgate.MetricID]uint64{},
			Histograms: map[authgate.MetricID][]uint64{},
		},
	})

	if n := testutil.CollectAndCount(exp); n != 0 {
		t.Fatalf("expected no series for disabled metrics, got %d", n)
	}
}

func TestCollectCountersAndAuditDropped(t *testing.T) {
	exp := NewPrometheusExporterFromSource(populated())

	expected := `
# HELP authgate_captcha_issued_total Captcha challenges issued.
# TYPE authgate_captcha_issued_total counter
authgate_captcha_issued_total 7
# HELP authgate_audit_dropped_total Dropped audit events due to dispatcher backpressure.
# TYPE authgate_audit_dropped_total counter
authgate_audit_dropped_total 2
`
	if err := testutil.CollectAndCompare(exp, strings.NewReader(expected),
		"authgate_captcha_issued_total", "authgate_audit_dropped_total"); err != nil {
		t.Fatal(err)
	}
}

func TestHistogramIsCumulative(t *testing.T) {
	exp := NewPrometheusExporterFromSource(populated())

	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	out := string(body)

	for _, line := range []string{
		`authgate_captcha_render_seconds_bucket{le="0.001"} 1`,
		`authgate_captcha_render_seconds_bucket{le="0.1"} 28`,
		`authgate_captcha_render_seconds_bucket{le="+Inf"} 36`,
		`authgate_captcha_render_seconds_count 36`,
		`authgate_login_success_total 2`,
	} {
		if !strings.Contains(out, line) {
			t.Fatalf("expected %q in output:\n%s", line, out)
		}
	}
	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "text/plain") {
		t.Fatalf("expected text exposition content type, got %q", got)
	}
}

func TestRegisterIntoSharedRegistry(t *testing.T) {
	exp := NewPrometheusExporterFromSource(populated())
	reg := prom.NewRegistry()
	if err := exp.Register(reg); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := exp.Register(reg); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
}

func TestExporterReadsEngine(t *testing.T) {
	cfg := authgate.DefaultConfig()
	cfg.Session.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	engine, err := authgate.New().WithConfig(cfg).WithUserProvider(memory.New()).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()

	exp := NewPrometheusExporter(engine)
	if n := testutil.CollectAndCount(exp, "authgate_captcha_issued_total"); n != 1 {
		t.Fatalf("expected one captcha series, got %d", n)
	}
}
