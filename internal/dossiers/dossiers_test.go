package dossiers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mohammed-shakir/buurtweg-monitor/internal/core/executor"
	"github.com/mohammed-shakir/buurtweg-monitor/internal/core/model"
	"github.com/mohammed-shakir/buurtweg-monitor/internal/geo/crs"
)

const dossierBody = `{"type":"FeatureCollection","totalFeatures":1,"features":[
 {"type":"Feature","id":"lu_omv_gd_v2.1","properties":{"dossierid":"OMV_2024001","datum_indiening":"2024-05-02Z"},
  "geometry":{"type":"Polygon","coordinates":[[[100000,170000],[100020,170000],[100020,170020],[100000,170020],[100000,170000]]]}}]}`

const illegalGeom = `<?xml version="1.0" ?><ServiceExceptionReport><ServiceException>
Illegal property name: geom for feature type lu:lu_omv_gd_v2</ServiceException></ServiceExceptionReport>`

var fixedNow = time.Date(2024, 5, 8, 9, 30, 0, 0, time.UTC)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testConfig(layers ...string) Config {
	return Config{
		Layers:       layers,
		BBox:         model.BBox{X1: 77144, Y1: 158145, X2: 127271, Y2: 200742, SRID: crs.BelgianLB72},
		WorkingCRS:   crs.BelgianLB72,
		GeomField:    "geom",
		AltGeomField: "geometry",
		DateField:    "datum_indiening",
		Window:       7 * 24 * time.Hour,
	}
}

type call struct {
	layer string
	geom  string
	cql   string
}

// serves per-layer scripted replies and records every request
type wfsStub struct {
	mu      sync.Mutex
	calls   []call
	replies map[string]func(geom string) (int, string)
}

func (s *wfsStub) server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		cql := q.Get("CQL_FILTER")
		geom := strings.TrimPrefix(strings.SplitN(cql, ",", 2)[0], "BBOX(")
		s.mu.Lock()
		s.calls = append(s.calls, call{layer: q.Get("typeName"), geom: geom, cql: cql})
		s.mu.Unlock()
		reply, ok := s.replies[q.Get("typeName")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		status, body := reply(geom)
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newFetcher(t *testing.T, srv *httptest.Server, cfg Config) *Fetcher {
	t.Helper()
	ex, err := executor.New(quietLogger(), srv.Client(), srv.URL+"/wfs", 2*time.Second)
	if err != nil {
		t.Fatalf("executor: %v", err)
	}
	p := crs.NewProjector()
	t.Cleanup(p.Close)
	return New(ex, p, cfg, func() time.Time { return fixedNow }, quietLogger())
}

func TestFetch_QueryShape(t *testing.T) {
	stub := &wfsStub{replies: map[string]func(string) (int, string){
		"lu:lu_omv_gd_v2": func(string) (int, string) { return 200, dossierBody },
	}}
	f := newFetcher(t, stub.server(t), testConfig("lu:lu_omv_gd_v2"))

	layer, fails := f.Fetch(context.Background())
	if len(fails) != 0 {
		t.Fatalf("unexpected failures %+v", fails)
	}
	if layer.Len() != 1 || layer.CRS != crs.BelgianLB72 {
		t.Fatalf("layer len=%d crs=%s", layer.Len(), layer.CRS)
	}
	want := "BBOX(geom, 77144, 158145, 127271, 200742) AND datum_indiening >= 2024-05-01T00:00:00Z"
	if len(stub.calls) != 1 || stub.calls[0].cql != want {
		t.Fatalf("cql=%+v\nwant %s", stub.calls, want)
	}
}

func TestFetch_IllegalPropertyRetriesExactlyOnce(t *testing.T) {
	stub := &wfsStub{replies: map[string]func(string) (int, string){
		"lu:lu_omv_gd_v2": func(geom string) (int, string) {
			if geom == "geom" {
				return 400, illegalGeom
			}
			return 200, dossierBody
		},
	}}
	f := newFetcher(t, stub.server(t), testConfig("lu:lu_omv_gd_v2"))

	layer, fails := f.Fetch(context.Background())
	if len(fails) != 0 || layer.Len() != 1 {
		t.Fatalf("len=%d failures=%+v", layer.Len(), fails)
	}
	if len(stub.calls) != 2 {
		t.Fatalf("calls=%d want 2", len(stub.calls))
	}
	if stub.calls[0].geom != "geom" || stub.calls[1].geom != "geometry" {
		t.Fatalf("unexpected field sequence %+v", stub.calls)
	}
}

func TestFetch_AlternateAlsoRejectedGivesUp(t *testing.T) {
	stub := &wfsStub{replies: map[string]func(string) (int, string){
		"lu:lu_omv_gd_v2": func(geom string) (int, string) {
			return 400, "Illegal property name: " + geom
		},
	}}
	f := newFetcher(t, stub.server(t), testConfig("lu:lu_omv_gd_v2"))

	layer, fails := f.Fetch(context.Background())
	if !layer.Empty() {
		t.Fatalf("expected empty layer")
	}
	if len(stub.calls) != 2 {
		t.Fatalf("calls=%d want exactly 2", len(stub.calls))
	}
	if len(fails) != 1 || !errors.Is(fails[0].Err, ErrFieldNameRejected) || fails[0].Kind != "rejected" {
		t.Fatalf("unexpected failures %+v", fails)
	}
}

func TestFetch_PartialSuccessKeepsOrder(t *testing.T) {
	stub := &wfsStub{replies: map[string]func(string) (int, string){
		"a": func(string) (int, string) { return 200, dossierBody },
		"b": func(string) (int, string) { return 500, "boom" },
		"c": func(string) (int, string) { return 200, `{"type":"FeatureCollection","numberOfFeatures":0,"features":[]}` },
		"d": func(string) (int, string) { return 200, "not json" },
	}}
	cfg := testConfig("a", "b", "c", "d")
	cfg.Parallel = true
	f := newFetcher(t, stub.server(t), cfg)

	layer, fails := f.Fetch(context.Background())
	if layer.Len() != 1 {
		t.Fatalf("len=%d want 1", layer.Len())
	}
	if len(fails) != 2 || fails[0].Layer != "b" || fails[0].Kind != "status" || fails[1].Layer != "d" || fails[1].Kind != "parse" {
		t.Fatalf("unexpected failures %+v", fails)
	}
	if r := fails[0].Report(); r.Reason == "" || r.Layer != "b" {
		t.Fatalf("report %+v", r)
	}
}

func TestFetch_NoLayersIsEmptyNotError(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	f := newFetcher(t, srv, testConfig("lu:lu_omv_gd_v2", "lu:lu_omv_vk_v2"))
	layer, fails := f.Fetch(context.Background())
	if layer == nil || !layer.Empty() || layer.CRS != crs.BelgianLB72 {
		t.Fatalf("want empty working-crs layer, got %+v", layer)
	}
	if len(fails) != 2 || hits.Load() != 2 {
		t.Fatalf("fails=%d hits=%d", len(fails), hits.Load())
	}
}

func TestFetch_ReprojectsForeignCRS(t *testing.T) {
	body := `{"type":"FeatureCollection","crs":{"type":"name","properties":{"name":"urn:ogc:def:crs:OGC:1.3:CRS84"}},
	"features":[{"type":"Feature","properties":{"dossier_id":"X"},"geometry":{"type":"Point","coordinates":[3.6,50.85]}}]}`
	stub := &wfsStub{replies: map[string]func(string) (int, string){
		"a": func(string) (int, string) { return 200, body },
	}}
	f := newFetcher(t, stub.server(t), testConfig("a"))

	layer, fails := f.Fetch(context.Background())
	if len(fails) != 0 || layer.Len() != 1 {
		t.Fatalf("len=%d fails=%+v", layer.Len(), fails)
	}
	b := layer.Features[0].Geometry.Bound()
	if b.Min[0] < 50000 || b.Min[1] < 100000 {
		t.Fatalf("point was not reprojected: %v", b)
	}
}

func TestSince_UsesInjectedClock(t *testing.T) {
	f := New(nil, nil, testConfig(), func() time.Time { return fixedNow }, nil)
	if got := f.Since(); !got.Equal(fixedNow.Add(-7 * 24 * time.Hour)) {
		t.Fatalf("since=%s", got)
	}
}
