// Package layers downloads the road datasets, puts them in the working CRS and keeps what lies in
// the region. A source that cannot be used is reported in its Result, never raised.
package layers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/paulmach/orb/geojson"
	"golang.org/x/sync/errgroup"

	"github.com/mohammed-shakir/buurtweg-monitor/internal/core/model"
	"github.com/mohammed-shakir/buurtweg-monitor/internal/core/observability"
	"github.com/mohammed-shakir/buurtweg-monitor/internal/core/ogc"
	"github.com/mohammed-shakir/buurtweg-monitor/internal/geo/crs"
	"github.com/mohammed-shakir/buurtweg-monitor/internal/logger"
)

// SourceTag is the attribute naming the dataset a road feature came from.
const SourceTag = "bron_bestand"

var ErrEmptyLayer = errors.New("layer has no features in the region")

type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// Result is the outcome of loading one source: Layer is nil exactly when Err is set.
type Result struct {
	Source model.LayerSource
	Layer  *model.Layer
	Err    error
}

func (r Result) OK() bool { return r.Err == nil && r.Layer != nil }

type Config struct {
	WorkingCRS string
	DefaultCRS string // assumed when a document has no crs member
	Parallel   bool
}

type Loader struct {
	fetch  Fetcher
	proj   *crs.Projector
	cfg    Config
	logger *slog.Logger
}

func New(fetch Fetcher, proj *crs.Projector, cfg Config, logger *slog.Logger) *Loader {
	if cfg.DefaultCRS == "" {
		cfg.DefaultCRS = crs.WGS84
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{fetch: fetch, proj: proj, cfg: cfg, logger: logger}
}

func (l *Loader) Load(ctx context.Context, src model.LayerSource, bbox model.BBox) Result {
	ctx = logger.WithLayer(ctx, src.Name)
	layer, err := l.load(ctx, src, bbox)
	if err != nil {
		kind := "unavailable"
		if errors.Is(err, ErrEmptyLayer) {
			kind = "empty"
		}
		observability.IncLayerFailure(kind, src.Name)
		l.logger.WarnContext(ctx, "road layer skipped", "url", src.URL, "err", err)
		return Result{Source: src, Err: err}
	}
	l.logger.InfoContext(ctx, "road layer loaded", "features", layer.Len())
	return Result{Source: src, Layer: layer}
}

func (l *Loader) load(ctx context.Context, src model.LayerSource, bbox model.BBox) (*model.Layer, error) {
	target := src.URL
	if u, ok := ogc.WithServerBBox(src.URL, bbox); ok {
		target = u
	}

	body, err := l.fetch.Fetch(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", src.Name, err)
	}

	parsed, err := Parse(src.Name, body, l.cfg.DefaultCRS)
	if err != nil {
		return nil, err
	}

	working := l.cfg.WorkingCRS
	if working == "" {
		working = bbox.SRID
	}
	region := bbox.Bound()

	out := &model.Layer{Name: src.Name, CRS: crs.Normalize(working)}
	for _, f := range parsed.Features {
		g, err := l.proj.Transform(f.Geometry, parsed.CRS, working)
		if err != nil {
			return nil, fmt.Errorf("reproject %s: %w", src.Name, err)
		}
		if !g.Bound().Intersects(region) {
			continue
		}
		f.Geometry = g
		f.Properties[SourceTag] = src.Name
		out.Features = append(out.Features, f)
	}
	if out.Empty() {
		return nil, fmt.Errorf("%s: %w", src.Name, ErrEmptyLayer)
	}
	return out, nil
}

// Parse decodes a GeoJSON FeatureCollection. Features without geometry are dropped. The CRS is
// read from the legacy crs member, falling back to defaultCRS.
func Parse(name string, body []byte, defaultCRS string) (*model.Layer, error) {
	fc, err := geojson.UnmarshalFeatureCollection(body)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}

	layerCRS := crs.Normalize(defaultCRS)
	if c, ok := crs.FromMember(fc.ExtraMembers["crs"]); ok {
		layerCRS = c
	}

	out := &model.Layer{Name: name, CRS: layerCRS, Features: make([]model.Feature, 0, len(fc.Features))}
	for _, gf := range fc.Features {
		if gf == nil || gf.Geometry == nil {
			continue
		}
		props := make(map[string]any, len(gf.Properties)+1)
		for k, v := range gf.Properties {
			props[k] = v
		}
		out.Features = append(out.Features, model.Feature{ID: gf.ID, Geometry: gf.Geometry, Properties: props})
	}
	return out, nil
}

// LoadAll returns one Result per source, in source order.
func (l *Loader) LoadAll(ctx context.Context, srcs []model.LayerSource, bbox model.BBox) []Result {
	results := make([]Result, len(srcs))
	if !l.cfg.Parallel {
		for i, src := range srcs {
			results[i] = l.Load(ctx, src, bbox)
		}
		return results
	}

	// Load never fails the group; failures travel in the Result
	var g errgroup.Group
	for i, src := range srcs {
		g.Go(func() error {
			results[i] = l.Load(ctx, src, bbox)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Merge concatenates the successful layers and reports whether any source produced data.
func Merge(name string, results []Result) (*model.Layer, bool, error) {
	var ok []*model.Layer
	for _, r := range results {
		if r.OK() {
			ok = append(ok, r.Layer)
		}
	}
	if len(ok) == 0 {
		return nil, false, nil
	}
	merged, err := model.Concat(name, ok...)
	if err != nil {
		return nil, false, err
	}
	return merged, true, nil
}

// Failures converts failed results into their reportable form.
func Failures(results []Result) []model.LayerFailure {
	var out []model.LayerFailure
	for _, r := range results {
		if r.Err == nil {
			continue
		}
		kind := "unavailable"
		if errors.Is(r.Err, ErrEmptyLayer) {
			kind = "empty"
		}
		out = append(out, model.LayerFailure{Layer: r.Source.Name, Kind: kind, Reason: r.Err.Error()})
	}
	return out
}
