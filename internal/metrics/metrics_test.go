package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mohammed-shakir/buurtweg-monitor/internal/core/observability"
)

func scrape(t *testing.T, p *Provider) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	return rr.Body.String()
}

func TestProvider_RegistersStandardCollectors_AndBuildInfo(t *testing.T) {
	p := Init(Config{Build: BuildInfo{Version: "test", Revision: "r", Branch: "b", BuildDate: "now"}})

	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_gauge", Help: "smoke"})
	p.Register(g)
	g.Set(42)

	if n := testutil.CollectAndCount(g); n == 0 {
		t.Fatalf("expected at least 1 sample from test_gauge, got %d", n)
	}

	body := scrape(t, p)
	if !strings.Contains(body, "go_goroutines") {
		t.Fatalf("expected go_goroutines in payload; got:\n%s", body)
	}
	if !strings.Contains(body, "process_cpu_seconds_total") && !strings.Contains(body, "process_start_time_seconds") {
		t.Fatalf("expected process_* metrics in payload; got:\n%s", body)
	}
	if !strings.Contains(body, `app_build_info{`) {
		t.Fatalf("expected app_build_info in payload; got:\n%s", body)
	}
}

func TestProvider_ReexposesPipelineCollectors(t *testing.T) {
	p := Init(Config{Collectors: observability.Collectors()})
	observability.ObserveRun("oke", 0.5, 0)

	body := scrape(t, p)
	if !strings.Contains(body, `pipeline_runs_total{status="oke"}`) {
		t.Fatalf("expected pipeline_runs_total in custom registry; got:\n%s", body)
	}
}

func TestBuildInfoFromEnv(t *testing.T) {
	t.Setenv("BUILD_REVISION", "abc123")
	t.Setenv("BUILD_BRANCH", "")
	t.Setenv("BUILD_DATE", "2024-05-08")

	bi := BuildInfoFromEnv("1.0.0")
	if bi.Version != "1.0.0" || bi.Revision != "abc123" || bi.BuildDate != "2024-05-08" || bi.Branch != "" {
		t.Fatalf("unexpected build info %+v", bi)
	}

	body := scrape(t, Init(Config{Build: bi}))
	if !strings.Contains(body, `revision="abc123"`) || !strings.Contains(body, `version="1.0.0"`) {
		t.Fatalf("build labels missing:\n%s", body)
	}
}
