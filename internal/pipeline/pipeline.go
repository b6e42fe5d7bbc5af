// Package pipeline wires one monitor run: region, roads, dossiers, clip, match, assemble, notify.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/mohammed-shakir/buurtweg-monitor/internal/assemble"
	"github.com/mohammed-shakir/buurtweg-monitor/internal/cache"
	"github.com/mohammed-shakir/buurtweg-monitor/internal/cache/layercache"
	"github.com/mohammed-shakir/buurtweg-monitor/internal/clip"
	"github.com/mohammed-shakir/buurtweg-monitor/internal/core/config"
	"github.com/mohammed-shakir/buurtweg-monitor/internal/core/executor"
	"github.com/mohammed-shakir/buurtweg-monitor/internal/core/httpclient"
	"github.com/mohammed-shakir/buurtweg-monitor/internal/core/model"
	"github.com/mohammed-shakir/buurtweg-monitor/internal/core/observability"
	"github.com/mohammed-shakir/buurtweg-monitor/internal/core/ogc"
	"github.com/mohammed-shakir/buurtweg-monitor/internal/dossiers"
	"github.com/mohammed-shakir/buurtweg-monitor/internal/enrich"
	"github.com/mohammed-shakir/buurtweg-monitor/internal/geo/crs"
	"github.com/mohammed-shakir/buurtweg-monitor/internal/layers"
	"github.com/mohammed-shakir/buurtweg-monitor/internal/logger"
	h3mapper "github.com/mohammed-shakir/buurtweg-monitor/internal/mapper/h3"
	"github.com/mohammed-shakir/buurtweg-monitor/internal/match"
	"github.com/mohammed-shakir/buurtweg-monitor/internal/region"
)

var ErrNoRoadData = errors.New("no road data loaded")

type Notifier interface {
	Publish(ctx context.Context, runID string, matches []model.Match, at time.Time) error
}

// Deps are the collaborators a run needs from outside. Zero values get production defaults.
type Deps struct {
	HTTPClient *http.Client
	Now        func() time.Time
	Logger     *slog.Logger
	LayerStore cache.Store // shared tier of the layer cache
	Notifier   Notifier
}

type Pipeline struct {
	cfg    config.Config
	now    func() time.Time
	logger *slog.Logger
	notify Notifier

	proj    *crs.Projector
	bodies  *layercache.Cache // nil when the layer cache is off
	region  *region.Region
	loader  *layers.Loader
	fetcher *dossiers.Fetcher
	matcher *match.Matcher
	enrich  *enrich.Enricher // nil unless ENRICH_MATCHES is set
	asm     *assemble.Assembler
}

func New(cfg config.Config, deps Deps) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline config: %w", err)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.HTTPClient == nil {
		deps.HTTPClient = httpclient.NewOutbound(cfg.HTTPTimeout)
	}

	reg, err := region.New(cfg.BBox, cfg.DisplayBuffer)
	if err != nil {
		return nil, err
	}

	exec, err := executor.New(deps.Logger, deps.HTTPClient, cfg.WFSURL, cfg.HTTPTimeout)
	if err != nil {
		return nil, err
	}

	proj := crs.NewProjector()
	bodies := layercache.Wrap(exec, layercache.Options{
		TTL:    cfg.LayerCache.TTL,
		Size:   cfg.LayerCache.Size,
		Remote: deps.LayerStore,
		Logger: deps.Logger,
	})

	cached, _ := bodies.(*layercache.Cache)

	var enricher *enrich.Enricher
	if cfg.Enrich.Enabled {
		places, err := executor.New(deps.Logger, deps.HTTPClient, cfg.Enrich.VRBGURL, cfg.HTTPTimeout)
		if err != nil {
			return nil, err
		}
		enricher = enrich.New(places, exec, enrich.Config{
			MunicipalityLayer: cfg.Enrich.MunicipalityLayer,
			MunicipalityField: cfg.Enrich.MunicipalityField,
			SRSName:           cfg.WorkingCRS,
			InzageURL:         cfg.Enrich.InzageURL,
			LinkTemplate:      cfg.Enrich.InzageLinkTemplate,
			ProjectField:      cfg.Enrich.ProjectField,
		}, deps.Logger)
	}

	return &Pipeline{
		cfg:    cfg,
		now:    deps.Now,
		logger: deps.Logger,
		notify: deps.Notifier,
		proj:   proj,
		bodies: cached,
		region: reg,
		loader: layers.New(bodies, proj, layers.Config{
			WorkingCRS: cfg.WorkingCRS,
			DefaultCRS: cfg.DefaultLayerCRS,
			Parallel:   cfg.ParallelFetch,
		}, deps.Logger),
		fetcher: dossiers.New(exec, proj, dossiers.Config{
			Layers:       cfg.DossierLayers,
			BBox:         cfg.BBox,
			WorkingCRS:   cfg.WorkingCRS,
			GeomField:    cfg.GeomField,
			AltGeomField: cfg.AltGeomField,
			DateField:    cfg.DateField,
			Window:       cfg.Window,
			Parallel:     cfg.ParallelFetch,
		}, deps.Now, deps.Logger),
		matcher: match.New(match.Config{
			Shrink:       cfg.MatchShrink,
			IDFields:     cfg.IDFields,
			LinkTemplate: cfg.LinkTemplate,
		}),
		enrich: enricher,
		asm: assemble.New(proj, h3mapper.New(), assemble.Config{
			OutputCRS: cfg.OutputCRS,
			H3Res:     cfg.H3Res,
		}),
	}, nil
}

// Run never returns nil and never panics: errors, timeouts and panics become an error result.
func (p *Pipeline) Run(ctx context.Context) (res *model.Result) {
	runID := uuid.NewString()
	ctx = logger.WithComponent(logger.WithRunID(ctx, runID), "pipeline")
	if p.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.RunTimeout)
		defer cancel()
	}

	start := time.Now()
	var matched int
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.ErrorContext(ctx, "run panicked", "panic", rec)
			res = model.ErrorResult(fmt.Sprintf("unexpected failure: %v", rec))
		}
		res.RunID = runID
		observability.ObserveRun(string(res.Status), time.Since(start).Seconds(), matched)
		p.logger.InfoContext(ctx, "run finished",
			"status", string(res.Status),
			"matches", matched,
			"duration", time.Since(start).String())
	}()

	res, err := p.run(ctx, runID, &matched)
	if err != nil {
		p.logger.ErrorContext(ctx, "run failed", "err", err)
		out := model.ErrorResult(err.Error())
		if res != nil {
			out.Failures = res.Failures
		}
		return out
	}
	return res
}

func (p *Pipeline) run(ctx context.Context, runID string, matched *int) (*model.Result, error) {
	partial := &model.Result{}

	loaded := p.loader.LoadAll(ctx, p.cfg.RoadLayers, p.cfg.BBox)
	partial.Failures = append(partial.Failures, layers.Failures(loaded)...)
	roads, ok, err := layers.Merge("roads", loaded)
	if err != nil {
		return partial, err
	}
	if !ok {
		if err := ctx.Err(); err != nil {
			return partial, fmt.Errorf("run aborted: %w", err)
		}
		return partial, ErrNoRoadData
	}
	if err := step(ctx); err != nil {
		return partial, err
	}

	ds, fails := p.fetcher.Fetch(ctx)
	for _, f := range fails {
		partial.Failures = append(partial.Failures, f.Report())
	}
	if err := step(ctx); err != nil {
		return partial, err
	}

	clipped, err := clip.Clip(roads, p.region.DisplayShape(), p.cfg.SimplifyTolerance)
	if err != nil {
		return partial, err
	}

	matches, st, err := p.matcher.Match(ds, roads)
	if err != nil {
		return partial, err
	}
	p.logger.InfoContext(ctx, "matching done",
		"roads", roads.Len(),
		"dossiers", st.Dossiers,
		"dropped", st.Dropped,
		"candidates", st.Candidates,
		"matched", st.Matched)
	if err := step(ctx); err != nil {
		return partial, err
	}

	if p.enrich != nil && len(matches) > 0 {
		var est enrich.Stats
		matches, est = p.enrich.Annotate(logger.WithComponent(ctx, "enrich"), matches)
		p.logger.InfoContext(ctx, "matches enriched",
			"matches", len(matches),
			"municipalities", est.Municipalities,
			"inquiries", est.Inquiries)
	}

	matches, err = p.asm.Annotate(matches, roads.CRS)
	if err != nil {
		return partial, err
	}
	res, err := p.asm.Assemble(clipped, matches, roads.CRS)
	if err != nil {
		return partial, err
	}
	res.Failures = partial.Failures
	*matched = len(matches)

	if p.notify != nil && len(matches) > 0 {
		if err := p.notify.Publish(ctx, runID, matches, p.now()); err != nil {
			p.logger.WarnContext(ctx, "match notification failed", "err", err)
		}
	}
	return res, nil
}

// step turns an expired run deadline into an error between stages.
func step(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("run aborted: %w", err)
	}
	return nil
}

// LayerCache returns the road layer cache, or nil when LAYER_CACHE_TTL is unset.
func (p *Pipeline) LayerCache() *layercache.Cache { return p.bodies }

// InvalidateLayer evicts a configured dataset URL, applying the same server-side bbox rewrite
// the loader uses so the cache key matches.
func (p *Pipeline) InvalidateLayer(ctx context.Context, rawURL string) error {
	if p.bodies == nil {
		return nil
	}
	if u, ok := ogc.WithServerBBox(rawURL, p.cfg.BBox); ok {
		rawURL = u
	}
	return p.bodies.Invalidate(ctx, rawURL)
}

func (p *Pipeline) Close() {
	p.proj.Close()
}
