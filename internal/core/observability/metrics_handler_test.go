package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsHandler_Smoke(t *testing.T) {
	ObserveHTTP("POST", "/run", 200, 0.001)
	ObserveRun("oke", 1.5, 0)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	promhttp.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, name := range []string{"http_requests_total", "pipeline_runs_total"} {
		if !strings.Contains(body, name) {
			t.Fatalf("metrics payload missing %s; got:\n%s", name, body)
		}
	}
}

func TestCounters_Increment(t *testing.T) {
	before := testutil.ToFloat64(wfsFieldFallbacks.WithLabelValues("lu:test"))
	IncFieldFallback("lu:test")
	if got := testutil.ToFloat64(wfsFieldFallbacks.WithLabelValues("lu:test")); got != before+1 {
		t.Fatalf("fallbacks=%v want %v", got, before+1)
	}

	IncLayerFailure("fetch", "buurtwegen")
	if got := testutil.ToFloat64(layerFailures.WithLabelValues("fetch", "buurtwegen")); got < 1 {
		t.Fatalf("layer failures=%v want >=1", got)
	}

	ObserveRun("MATCH", 0.2, 3)
	if got := testutil.ToFloat64(pipelineMatches); got != 3 {
		t.Fatalf("matches gauge=%v want 3", got)
	}
}

func TestInvalidationCounters(t *testing.T) {
	before := testutil.ToFloat64(invalidations.WithLabelValues("update", "stale"))
	ObserveInvalidation("update", "stale")
	if got := testutil.ToFloat64(invalidations.WithLabelValues("update", "stale")); got != before+1 {
		t.Fatalf("invalidations=%v want %v", got, before+1)
	}

	IncConsumerError("decode")
	if got := testutil.ToFloat64(consumerErrors.WithLabelValues("decode")); got < 1 {
		t.Fatalf("consumer errors=%v want >=1", got)
	}
}

func TestEvictionAndLag(t *testing.T) {
	before := testutil.CollectAndCount(evictionDuration)
	ObserveEviction("ok", 0.002)
	if got := testutil.CollectAndCount(evictionDuration); got < before || got == 0 {
		t.Fatalf("eviction series=%d want >0", got)
	}

	SetConsumerLag("road-updates", 3, -4)
	if got := testutil.ToFloat64(ConsumerLag("road-updates", 3)); got != 0 {
		t.Fatalf("negative lag must clamp to 0, got %v", got)
	}
	SetConsumerLag("road-updates", 3, 7)
	if got := testutil.ToFloat64(ConsumerLag("road-updates", 3)); got != 7 {
		t.Fatalf("lag=%v want 7", got)
	}
}

func TestEnrichLookups(t *testing.T) {
	before := testutil.ToFloat64(EnrichLookups("vrbg", "missing"))
	IncEnrichLookup("vrbg", "missing")
	if got := testutil.ToFloat64(EnrichLookups("vrbg", "missing")); got != before+1 {
		t.Fatalf("lookups=%v want %v", got, before+1)
	}
}
