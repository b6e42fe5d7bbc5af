// Package dossiers queries the permit WFS for applications filed inside the region during the
// rolling window.
package dossiers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mohammed-shakir/buurtweg-monitor/internal/core/executor"
	"github.com/mohammed-shakir/buurtweg-monitor/internal/core/model"
	"github.com/mohammed-shakir/buurtweg-monitor/internal/core/observability"
	"github.com/mohammed-shakir/buurtweg-monitor/internal/core/ogc"
	"github.com/mohammed-shakir/buurtweg-monitor/internal/geo/crs"
	"github.com/mohammed-shakir/buurtweg-monitor/internal/layers"
	"github.com/mohammed-shakir/buurtweg-monitor/internal/logger"
)

// ErrFieldNameRejected means the service refused every geometry field name we know.
var ErrFieldNameRejected = errors.New("wfs rejected geometry field name")

type Querier interface {
	FetchGetFeature(ctx context.Context, q model.QueryRequest) (*executor.Response, error)
}

type Config struct {
	Layers       []string
	BBox         model.BBox
	WorkingCRS   string
	GeomField    string
	AltGeomField string
	DateField    string
	Window       time.Duration
	Parallel     bool
}

// Failure is a skipped WFS layer.
type Failure struct {
	Layer string
	Kind  string
	Err   error
}

func (f Failure) Report() model.LayerFailure {
	return model.LayerFailure{Layer: f.Layer, Kind: f.Kind, Reason: f.Err.Error()}
}

type Fetcher struct {
	q      Querier
	proj   *crs.Projector
	cfg    Config
	now    func() time.Time
	logger *slog.Logger
}

func New(q Querier, proj *crs.Projector, cfg Config, now func() time.Time, logger *slog.Logger) *Fetcher {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WorkingCRS == "" {
		cfg.WorkingCRS = cfg.BBox.SRID
	}
	return &Fetcher{q: q, proj: proj, cfg: cfg, now: now, logger: logger}
}

// Since is the window start: the clock minus the window length.
func (f *Fetcher) Since() time.Time { return f.now().Add(-f.cfg.Window) }

// Fetch concatenates every layer that answered, in configured order. With nothing usable it
// returns an empty layer, not an error.
func (f *Fetcher) Fetch(ctx context.Context) (*model.Layer, []Failure) {
	since := f.Since()
	got := make([]*model.Layer, len(f.cfg.Layers))
	errs := make([]*Failure, len(f.cfg.Layers))

	one := func(i int, name string) {
		l, fail := f.fetchLayer(logger.WithLayer(ctx, name), name, since)
		got[i], errs[i] = l, fail
	}

	if f.cfg.Parallel {
		var g errgroup.Group
		for i, name := range f.cfg.Layers {
			g.Go(func() error {
				one(i, name)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, name := range f.cfg.Layers {
			one(i, name)
		}
	}

	var failures []Failure
	for _, fail := range errs {
		if fail != nil {
			failures = append(failures, *fail)
		}
	}

	merged, err := model.Concat("dossiers", got...)
	if err != nil {
		// every layer is reprojected to the working crs, so this only trips on a bug
		failures = append(failures, Failure{Layer: "dossiers", Kind: "merge", Err: err})
		merged = &model.Layer{Name: "dossiers"}
	}
	if merged.CRS == "" {
		merged.CRS = crs.Normalize(f.cfg.WorkingCRS)
	}
	return merged, failures
}

func (f *Fetcher) fetchLayer(ctx context.Context, name string, since time.Time) (*model.Layer, *Failure) {
	fail := func(kind string, err error) (*model.Layer, *Failure) {
		observability.IncLayerFailure(kind, name)
		f.logger.WarnContext(ctx, "wfs layer skipped", "kind", kind, "err", err)
		return nil, &Failure{Layer: name, Kind: kind, Err: err}
	}

	bbox := f.cfg.BBox
	q := model.QueryRequest{
		Layer:     name,
		BBox:      &bbox,
		GeomField: f.cfg.GeomField,
		DateField: f.cfg.DateField,
		Since:     since,
		SRSName:   f.cfg.WorkingCRS,
	}

	resp, err := f.q.FetchGetFeature(ctx, q)
	if err != nil {
		return fail("unavailable", err)
	}
	if ogc.IsIllegalProperty(resp.Body, q.GeomField) {
		if f.cfg.AltGeomField == "" || f.cfg.AltGeomField == q.GeomField {
			return fail("rejected", fmt.Errorf("%s: %w: %s", name, ErrFieldNameRejected, q.GeomField))
		}
		f.logger.InfoContext(ctx, "retrying with alternate geometry field", "from", q.GeomField, "to", f.cfg.AltGeomField)
		observability.IncFieldFallback(name)
		q.GeomField = f.cfg.AltGeomField
		if resp, err = f.q.FetchGetFeature(ctx, q); err != nil {
			return fail("unavailable", err)
		}
		if ogc.IsIllegalProperty(resp.Body, q.GeomField) {
			return fail("rejected", fmt.Errorf("%s: %w: %s", name, ErrFieldNameRejected, q.GeomField))
		}
	}
	if !resp.OK() {
		return fail("status", fmt.Errorf("%s: wfs status %d", name, resp.Status))
	}

	if n, ok := ogc.DeclaredFeatureCount(resp.Body); ok && n == 0 {
		f.logger.DebugContext(ctx, "wfs layer empty")
		return nil, nil
	}

	parsed, err := layers.Parse(name, resp.Body, f.cfg.WorkingCRS)
	if err != nil {
		return fail("parse", err)
	}
	if parsed.Empty() {
		return nil, nil
	}

	if !crs.Same(parsed.CRS, f.cfg.WorkingCRS) {
		for i := range parsed.Features {
			g, err := f.proj.Transform(parsed.Features[i].Geometry, parsed.CRS, f.cfg.WorkingCRS)
			if err != nil {
				return fail("crs", fmt.Errorf("reproject %s: %w", name, err))
			}
			parsed.Features[i].Geometry = g
		}
	}
	parsed.CRS = crs.Normalize(f.cfg.WorkingCRS)

	f.logger.InfoContext(ctx, "wfs layer fetched", "features", parsed.Len())
	return parsed, nil
}
