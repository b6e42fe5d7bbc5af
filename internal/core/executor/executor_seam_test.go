package executor

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mohammed-shakir/buurtweg-monitor/internal/core/model"
	"github.com/mohammed-shakir/buurtweg-monitor/internal/core/ogc"
)

type upstreamRecorder struct {
	mu         sync.Mutex
	lastPath   string
	lastQuery  url.Values
	lastHeader http.Header
	status     int
	body       string
}

func (u *upstreamRecorder) handler(w http.ResponseWriter, r *http.Request) {
	u.mu.Lock()
	u.lastPath = r.URL.Path
	u.lastQuery = r.URL.Query()
	u.lastHeader = r.Header.Clone()
	status, body := u.status, u.body
	u.mu.Unlock()

	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func (u *upstreamRecorder) snapshot() (string, url.Values, http.Header) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.lastPath, u.lastQuery, u.lastHeader
}

func equalValues(a, b url.Values) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i] != bv[i] {
				return false
			}
		}
	}
	return true
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestExecutor_FetchGetFeature_SendsWFSParams(t *testing.T) {
	up := &upstreamRecorder{body: `{"type":"FeatureCollection","features":[]}`}
	srv := httptest.NewServer(http.HandlerFunc(up.handler))
	defer srv.Close()

	exec, err := New(discard(), srv.Client(), srv.URL+"/wfs", time.Second)
	if err != nil {
		t.Fatalf("executor.New: %v", err)
	}

	q := model.QueryRequest{
		Layer:     "lu:lu_omv_gd_v2",
		BBox:      &model.BBox{X1: 1, Y1: 2, X2: 3, Y2: 4, SRID: "EPSG:31370"},
		GeomField: "geom",
		DateField: "datum_indiening",
		Since:     time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC),
		SRSName:   "EPSG:31370",
	}
	wantQuery := ogc.BuildGetFeatureParams(q)

	resp, err := exec.FetchGetFeature(context.Background(), q)
	if err != nil {
		t.Fatalf("FetchGetFeature: %v", err)
	}
	if !resp.OK() || !strings.Contains(string(resp.Body), "FeatureCollection") {
		t.Fatalf("unexpected response %d %q", resp.Status, resp.Body)
	}

	path, gotQuery, hdr := up.snapshot()
	if path != "/wfs" {
		t.Fatalf("upstream path=%q want /wfs", path)
	}
	if !equalValues(gotQuery, wantQuery) {
		t.Fatalf("mismatched query.\n got: %v\nwant: %v", gotQuery.Encode(), wantQuery.Encode())
	}
	if got := hdr.Get("Accept"); got != "application/json" {
		t.Fatalf("missing/invalid Accept header: %q", got)
	}
}

func TestExecutor_FetchGetFeature_ReturnsErrorBodies(t *testing.T) {
	up := &upstreamRecorder{status: http.StatusBadRequest, body: "Illegal property name: geom"}
	srv := httptest.NewServer(http.HandlerFunc(up.handler))
	defer srv.Close()

	exec, _ := New(discard(), srv.Client(), srv.URL, time.Second)
	resp, err := exec.FetchGetFeature(context.Background(), model.QueryRequest{Layer: "x"})
	if err != nil {
		t.Fatalf("non-2xx must not be a transport error: %v", err)
	}
	if resp.OK() || resp.Status != http.StatusBadRequest {
		t.Fatalf("status=%d want 400", resp.Status)
	}
	if !strings.Contains(string(resp.Body), "Illegal property name") {
		t.Fatalf("body lost: %q", resp.Body)
	}
}

func TestExecutor_Fetch_Non2xxIsError(t *testing.T) {
	up := &upstreamRecorder{status: http.StatusNotFound, body: "nope"}
	srv := httptest.NewServer(http.HandlerFunc(up.handler))
	defer srv.Close()

	exec, _ := New(discard(), srv.Client(), srv.URL, time.Second)
	if _, err := exec.Fetch(context.Background(), srv.URL+"/roads.geojson"); err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("expected 404 error, got %v", err)
	}
}

func TestExecutor_PerCallTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	exec, _ := New(discard(), srv.Client(), srv.URL, 50*time.Millisecond)
	start := time.Now()
	if _, err := exec.Fetch(context.Background(), srv.URL); err == nil {
		t.Fatalf("expected timeout error")
	}
	if time.Since(start) > time.Second {
		t.Fatalf("timeout not enforced, took %s", time.Since(start))
	}
}

func TestExecutor_Lookup_MergesHeaders(t *testing.T) {
	up := &upstreamRecorder{status: http.StatusNotFound, body: `{}`}
	srv := httptest.NewServer(http.HandlerFunc(up.handler))
	defer srv.Close()

	exec, _ := New(discard(), srv.Client(), srv.URL, time.Second)
	hdr := http.Header{}
	hdr.Set("Referer", "https://omgevingsloketinzage.omgeving.vlaanderen.be/")
	resp, err := exec.Lookup(context.Background(), srv.URL+"/header?projectnummer=OMV_2026000123", "inzage", hdr)
	if err != nil {
		t.Fatalf("non-2xx must not be a transport error: %v", err)
	}
	if resp.Status != http.StatusNotFound {
		t.Fatalf("status=%d want 404", resp.Status)
	}

	path, q, got := up.snapshot()
	if path != "/header" || q.Get("projectnummer") != "OMV_2026000123" {
		t.Fatalf("request went to %s?%s", path, q.Encode())
	}
	if got.Get("Accept") != "application/json" || got.Get("Referer") == "" {
		t.Fatalf("headers not merged: %v", got)
	}
}
