// Package assemble turns the clipped roads and the matches into the published result.
package assemble

import (
	"fmt"

	"github.com/mohammed-shakir/buurtweg-monitor/internal/core/model"
	"github.com/mohammed-shakir/buurtweg-monitor/internal/geo/crs"
	"github.com/mohammed-shakir/buurtweg-monitor/internal/mapper"
)

// CellField is the match attribute holding the H3 cell.
const CellField = "h3_cell"

type Config struct {
	OutputCRS string
	H3Res     int // negative disables cell annotation
}

type Assembler struct {
	proj  *crs.Projector
	cells mapper.Interface
	cfg   Config
}

func New(proj *crs.Projector, cells mapper.Interface, cfg Config) *Assembler {
	if cfg.OutputCRS == "" {
		cfg.OutputCRS = crs.WGS84
	}
	return &Assembler{proj: proj, cells: cells, cfg: cfg}
}

// Annotate returns copies of matches carrying the H3 cell of each dossier centroid. from is the
// CRS the match geometries are in.
func (a *Assembler) Annotate(matches []model.Match, from string) ([]model.Match, error) {
	if a.cells == nil || a.cfg.H3Res < 0 {
		return matches, nil
	}
	out := make([]model.Match, len(matches))
	for i, m := range matches {
		g, err := a.proj.Transform(m.Feature.Geometry, from, crs.WGS84)
		if err != nil {
			return nil, fmt.Errorf("annotate %s: %w", m.DossierID, err)
		}
		cell, err := a.cells.CellForGeometry(g, a.cfg.H3Res)
		if err != nil {
			return nil, fmt.Errorf("annotate %s: %w", m.DossierID, err)
		}
		m.Feature = m.Feature.Clone()
		m.Feature.Properties[CellField] = cell
		m.Cell = cell
		out[i] = m
	}
	return out, nil
}

// Assemble reprojects both collections to the output CRS. from is the CRS of the match
// geometries; the road layer carries its own.
func (a *Assembler) Assemble(clipped *model.Layer, matches []model.Match, from string) (*model.Result, error) {
	roads, err := a.reproject(clipped)
	if err != nil {
		return nil, fmt.Errorf("assemble roads: %w", err)
	}

	ml := &model.Layer{Name: "matches", CRS: from, Features: make([]model.Feature, 0, len(matches))}
	for _, m := range matches {
		ml.Features = append(ml.Features, m.Feature)
	}
	mout, err := a.reproject(ml)
	if err != nil {
		return nil, fmt.Errorf("assemble matches: %w", err)
	}

	status := model.StatusOK
	if len(matches) > 0 {
		status = model.StatusMatch
	}
	return &model.Result{
		Status:  status,
		Roads:   roads.FeatureCollection(),
		Matches: mout.FeatureCollection(),
	}, nil
}

func (a *Assembler) reproject(l *model.Layer) (*model.Layer, error) {
	if l == nil {
		return &model.Layer{CRS: a.cfg.OutputCRS}, nil
	}
	out := &model.Layer{Name: l.Name, CRS: a.cfg.OutputCRS, Features: make([]model.Feature, 0, l.Len())}
	for _, f := range l.Features {
		g, err := a.proj.Transform(f.Geometry, l.CRS, a.cfg.OutputCRS)
		if err != nil {
			return nil, err
		}
		f.Geometry = g
		out.Features = append(out.Features, f)
	}
	return out, nil
}
