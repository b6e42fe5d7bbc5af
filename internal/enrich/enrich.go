// Package enrich annotates matched dossiers with their municipality and their public inquiry
// status. The annotations are informational: a failed lookup leaves Unknown in place and never
// drops a match or changes the run status.
package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"golang.org/x/sync/errgroup"

	"github.com/mohammed-shakir/buurtweg-monitor/internal/core/executor"
	"github.com/mohammed-shakir/buurtweg-monitor/internal/core/model"
	"github.com/mohammed-shakir/buurtweg-monitor/internal/core/observability"
)

const (
	Unknown = "Onbekend"

	MunicipalityField = "gemeente"
	LinkField         = "inzageloket_link"
	StatusField       = "inzage_status"
)

var errNoGeometry = errors.New("match has no geometry")

// Querier answers the municipality lookup.
type Querier interface {
	FetchGetFeature(ctx context.Context, q model.QueryRequest) (*executor.Response, error)
}

// Looker answers the public inquiry lookup.
type Looker interface {
	Lookup(ctx context.Context, rawURL, upstream string, hdr http.Header) (*executor.Response, error)
}

type Config struct {
	MunicipalityLayer string // VRBG:Refgem
	MunicipalityField string // NAAM
	GeomField         string // SHAPE
	SRSName           string

	InzageURL    string
	LinkTemplate string // {id} is the project number
	ProjectField string

	Concurrency int
}

// Stats counts the lookups that produced a value.
type Stats struct {
	Municipalities int
	Inquiries      int
}

type Enricher struct {
	places  Querier
	inzage  Looker
	cfg     Config
	referer string
	logger  *slog.Logger
}

func New(places Querier, inzage Looker, cfg Config, logger *slog.Logger) *Enricher {
	if cfg.GeomField == "" {
		cfg.GeomField = "SHAPE"
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	referer := ""
	if u, err := url.Parse(strings.ReplaceAll(cfg.LinkTemplate, "{id}", "")); err == nil && u.Host != "" {
		referer = u.Scheme + "://" + u.Host + "/"
	}
	return &Enricher{places: places, inzage: inzage, cfg: cfg, referer: referer, logger: logger}
}

// Annotate returns copies of matches carrying the three annotation fields. Order and length are
// those of matches.
func (e *Enricher) Annotate(ctx context.Context, matches []model.Match) ([]model.Match, Stats) {
	out := make([]model.Match, len(matches))
	found := make([][2]bool, len(matches))

	var g errgroup.Group
	g.SetLimit(e.cfg.Concurrency)
	for i, m := range matches {
		g.Go(func() error {
			m.Feature = m.Feature.Clone()
			props := m.Feature.Properties

			name, ok := e.municipality(ctx, m)
			props[MunicipalityField] = name
			found[i][0] = ok

			link, status, ok := e.inquiry(ctx, m)
			props[LinkField] = link
			props[StatusField] = status
			found[i][1] = ok

			out[i] = m
			return nil
		})
	}
	_ = g.Wait()

	var st Stats
	for _, f := range found {
		if f[0] {
			st.Municipalities++
		}
		if f[1] {
			st.Inquiries++
		}
	}
	return out, st
}

// municipality finds the municipality containing the centroid of the dossier geometry.
func (e *Enricher) municipality(ctx context.Context, m model.Match) (string, bool) {
	if e.places == nil {
		return Unknown, false
	}
	name, err := e.lookupMunicipality(ctx, m.Feature.Geometry)
	switch {
	case err != nil:
		observability.IncEnrichLookup("vrbg", "error")
		e.logger.DebugContext(ctx, "municipality lookup failed", "dossier", m.DossierID, "err", err)
		return Unknown, false
	case name == "":
		observability.IncEnrichLookup("vrbg", "missing")
		return Unknown, false
	}
	observability.IncEnrichLookup("vrbg", "found")
	return name, true
}

func (e *Enricher) lookupMunicipality(ctx context.Context, g orb.Geometry) (string, error) {
	if g == nil {
		return "", errNoGeometry
	}
	c, _ := planar.CentroidArea(g)
	resp, err := e.places.FetchGetFeature(ctx, model.QueryRequest{
		Layer:         e.cfg.MunicipalityLayer,
		GeomField:     e.cfg.GeomField,
		Point:         &c,
		PropertyNames: []string{e.cfg.MunicipalityField},
		MaxFeatures:   1,
		SRSName:       e.cfg.SRSName,
	})
	if err != nil {
		return "", err
	}
	if !resp.OK() {
		return "", fmt.Errorf("vrbg status %d", resp.Status)
	}

	var fc struct {
		Features []struct {
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}
	if err := json.Unmarshal(resp.Body, &fc); err != nil {
		return "", fmt.Errorf("decode vrbg reply: %w", err)
	}
	if len(fc.Features) == 0 {
		return "", nil
	}
	name, _ := fc.Features[0].Properties[e.cfg.MunicipalityField].(string)
	return strings.TrimSpace(name), nil
}

// inquiry asks the public inquiry portal whether the dossier's project is published there.
func (e *Enricher) inquiry(ctx context.Context, m model.Match) (link, status string, ok bool) {
	project := projectNumber(m.Feature.Properties[e.cfg.ProjectField])
	if e.inzage == nil || project == "" {
		observability.IncEnrichLookup("inzage", "missing")
		return Unknown, Unknown, false
	}

	state, found, err := e.lookupInquiry(ctx, project)
	switch {
	case err != nil:
		observability.IncEnrichLookup("inzage", "error")
		e.logger.DebugContext(ctx, "inquiry lookup failed", "project", project, "err", err)
		return Unknown, Unknown, false
	case !found:
		observability.IncEnrichLookup("inzage", "missing")
		return Unknown, Unknown, false
	}
	observability.IncEnrichLookup("inzage", "found")
	if state == "" {
		state = Unknown
	}
	return strings.ReplaceAll(e.cfg.LinkTemplate, "{id}", url.PathEscape(project)), state, true
}

func (e *Enricher) lookupInquiry(ctx context.Context, project string) (string, bool, error) {
	u, err := url.Parse(e.cfg.InzageURL)
	if err != nil {
		return "", false, fmt.Errorf("parse inzage url: %w", err)
	}
	q := u.Query()
	q.Set("projectnummer", project)
	u.RawQuery = q.Encode()

	hdr := http.Header{}
	if e.referer != "" {
		hdr.Set("Referer", e.referer)
	}
	resp, err := e.inzage.Lookup(ctx, u.String(), "inzage", hdr)
	if err != nil {
		return "", false, err
	}
	if !resp.OK() {
		return "", false, nil
	}

	var body map[string]any
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return "", false, fmt.Errorf("decode inzage reply: %w", err)
	}
	if _, ok := body["uuid"]; !ok {
		return "", false, nil
	}
	state, _ := body["toestand"].(string)
	return strings.TrimSpace(state), true, nil
}

func projectNumber(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}
