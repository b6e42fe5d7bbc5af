// Package model defines core domain types shared across the monitor.
package model

import (
	"fmt"
	"strconv"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

type BBox struct {
	X1, Y1 float64
	X2, Y2 float64
	SRID   string
}

// String representation matching wfs/wms bbox format
func (b BBox) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f,%s", b.X1, b.Y1, b.X2, b.Y2, b.SRID)
}

// Bound returns the rectangle as an orb bound.
func (b BBox) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{b.X1, b.Y1}, Max: orb.Point{b.X2, b.Y2}}
}

// Coords renders the corners the way CQL literals expect them: shortest form, no trailing zeros.
func (b BBox) Coords() [4]string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return [4]string{f(b.X1), f(b.Y1), f(b.X2), f(b.Y2)}
}

func (b BBox) Valid() bool {
	return b.X1 < b.X2 && b.Y1 < b.Y2
}

// QueryRequest describes one time-windowed WFS GetFeature query.
type QueryRequest struct {
	Layer     string
	BBox      *BBox
	GeomField string
	DateField string
	Since     time.Time
	SRSName   string

	// Point asks for features whose GeomField contains it.
	Point         *orb.Point
	PropertyNames []string
	MaxFeatures   int
}

// LayerSource names a remote vector dataset.
type LayerSource struct {
	Name string
	URL  string
}

type Feature struct {
	ID         any
	Geometry   orb.Geometry
	Properties map[string]any
}

// Clone copies the attribute map and the geometry so callers can rewrite either freely.
func (f Feature) Clone() Feature {
	props := make(map[string]any, len(f.Properties))
	for k, v := range f.Properties {
		props[k] = v
	}
	var g orb.Geometry
	if f.Geometry != nil {
		g = orb.Clone(f.Geometry)
	}
	return Feature{ID: f.ID, Geometry: g, Properties: props}
}

// Layer is an ordered feature collection tagged with the CRS its coordinates are in.
type Layer struct {
	Name     string
	CRS      string
	Features []Feature
}

func (l *Layer) Len() int {
	if l == nil {
		return 0
	}
	return len(l.Features)
}

func (l *Layer) Empty() bool { return l.Len() == 0 }

// Concat joins layers that share a CRS, keeping input order. Nil layers are skipped.
func Concat(name string, layers ...*Layer) (*Layer, error) {
	out := &Layer{Name: name}
	for _, l := range layers {
		if l == nil {
			continue
		}
		if out.CRS == "" {
			out.CRS = l.CRS
		} else if l.CRS != "" && l.CRS != out.CRS {
			return nil, fmt.Errorf("concat %q: layer %q is in %s, want %s", name, l.Name, l.CRS, out.CRS)
		}
		out.Features = append(out.Features, l.Features...)
	}
	return out, nil
}

// FeatureCollection renders the layer as GeoJSON without touching coordinates.
func (l *Layer) FeatureCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	if l == nil {
		return fc
	}
	for _, f := range l.Features {
		gf := geojson.NewFeature(f.Geometry)
		gf.ID = f.ID
		for k, v := range f.Properties {
			gf.Properties[k] = v
		}
		fc.Append(gf)
	}
	return fc
}

type Match struct {
	Feature   Feature
	DossierID string
	Link      string
	Cell      string // h3 cell of the centroid, empty when not annotated
}

type Status string

const (
	StatusError Status = "error"
	StatusOK    Status = "oke"
	StatusMatch Status = "MATCH"
)

// LayerFailure records why an optional input was skipped.
type LayerFailure struct {
	Layer  string `json:"layer"`
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

type Result struct {
	RunID    string                     `json:"run_id,omitempty"`
	Status   Status                     `json:"status"`
	Message  string                     `json:"message,omitempty"`
	Roads    *geojson.FeatureCollection `json:"wegen_regio,omitempty"`
	Matches  *geojson.FeatureCollection `json:"matches,omitempty"`
	Failures []LayerFailure             `json:"failures,omitempty"`
}

func ErrorResult(msg string) *Result {
	return &Result{Status: StatusError, Message: msg}
}
