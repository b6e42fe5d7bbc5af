// Package executor issues the monitor's upstream HTTP requests with per-call timeouts.
package executor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/mohammed-shakir/buurtweg-monitor/internal/core/model"
	"github.com/mohammed-shakir/buurtweg-monitor/internal/core/observability"
	"github.com/mohammed-shakir/buurtweg-monitor/internal/core/ogc"
)

// large road datasets are tens of MB; anything past this is not a layer we can handle
const maxBodyBytes = 512 << 20

type Interface interface {
	FetchGetFeature(ctx context.Context, q model.QueryRequest) (*Response, error)
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

func (r *Response) OK() bool { return r.Status >= 200 && r.Status < 300 }

type Executor struct {
	logger   *slog.Logger
	client   *http.Client
	wfsURL   *url.URL
	timeout  time.Duration
	startNow func() time.Time // for tests
}

var _ Interface = (*Executor)(nil)

func New(logger *slog.Logger, client *http.Client, wfs string, timeout time.Duration) (*Executor, error) {
	u, err := url.Parse(wfs)
	if err != nil {
		return nil, fmt.Errorf("parse wfs url: %w", err)
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		logger:   logger,
		client:   client,
		wfsURL:   u,
		timeout:  timeout,
		startNow: time.Now,
	}, nil
}

// FetchGetFeature runs one WFS GetFeature query. Non-2xx replies are returned, not turned into
// errors: GeoServer reports filter problems in the body and callers need to read it.
func (e *Executor) FetchGetFeature(ctx context.Context, q model.QueryRequest) (*Response, error) {
	params := ogc.BuildGetFeatureParams(q)
	u := *e.wfsURL
	u.RawQuery = params.Encode()

	e.logger.DebugContext(ctx, "wfs GetFeature", "layer", q.Layer, "cql", params.Get("CQL_FILTER"))
	return e.get(ctx, u.String(), "wfs", jsonHeader("application/json"))
}

// Lookup is a plain GET against a JSON API. Like FetchGetFeature it hands back non-2xx replies;
// upstream labels the latency series.
func (e *Executor) Lookup(ctx context.Context, rawURL, upstream string, hdr http.Header) (*Response, error) {
	h := jsonHeader("application/json")
	for k, v := range hdr {
		h[k] = v
	}
	return e.get(ctx, rawURL, upstream, h)
}

func jsonHeader(accept string) http.Header {
	h := http.Header{}
	h.Set("Accept", accept)
	return h
}

// Fetch downloads a dataset document; anything but 2xx is an error.
func (e *Executor) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	resp, err := e.get(ctx, rawURL, "dataset", jsonHeader("application/geo+json, application/json"))
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		snippet := resp.Body
		if len(snippet) > 512 {
			snippet = snippet[:512]
		}
		return nil, fmt.Errorf("upstream status %d: %s", resp.Status, string(snippet))
	}
	return resp.Body, nil
}

func (e *Executor) get(ctx context.Context, rawURL, upstream string, hdr http.Header) (*Response, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header = hdr

	start := e.startNow()
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	dur := time.Since(start)
	observability.ObserveUpstreamLatency(upstream, dur.Seconds())
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	e.logger.DebugContext(ctx, "upstream done",
		"upstream", upstream,
		"status", resp.StatusCode,
		"bytes", len(b),
		"duration", dur.String())

	return &Response{
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        b,
	}, nil
}
