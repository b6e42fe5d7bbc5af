// Package geomops runs GEOS operations (buffer, simplify, intersects) on orb geometries.
// Geometries cross the boundary as WKB.
package geomops

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulsmith/gogeos/geos"
)

var ErrNilGeometry = errors.New("nil geometry")

// Shape is a GEOS geometry plus its planar bounds, kept together so predicates can
// reject on bounds before calling into GEOS.
type Shape struct {
	g     *geos.Geometry
	bound orb.Bound
	empty bool
}

func NewShape(g orb.Geometry) (*Shape, error) {
	if g == nil {
		return nil, ErrNilGeometry
	}
	if b, ok := g.(orb.Bound); ok {
		g = b.ToPolygon()
	}
	raw, err := wkb.Marshal(g)
	if err != nil {
		return nil, fmt.Errorf("wkb encode %s: %w", g.GeoJSONType(), err)
	}
	gg, err := geos.FromWKB(raw)
	if err != nil {
		return nil, fmt.Errorf("geos decode: %w", err)
	}
	return wrap(gg, g.Bound())
}

func wrap(g *geos.Geometry, bound orb.Bound) (*Shape, error) {
	empty, err := g.IsEmpty()
	if err != nil {
		return nil, fmt.Errorf("geos is-empty: %w", err)
	}
	return &Shape{g: g, bound: bound, empty: empty}, nil
}

// derive computes bounds from the GEOS envelope for shapes produced inside GEOS.
func derive(g *geos.Geometry) (*Shape, error) {
	empty, err := g.IsEmpty()
	if err != nil {
		return nil, fmt.Errorf("geos is-empty: %w", err)
	}
	if empty {
		return &Shape{g: g, empty: true}, nil
	}
	env, err := g.Envelope()
	if err != nil {
		return nil, fmt.Errorf("geos envelope: %w", err)
	}
	eg, err := toOrb(env)
	if err != nil {
		return nil, err
	}
	return &Shape{g: g, bound: eg.Bound()}, nil
}

func (s *Shape) Empty() bool      { return s.empty }
func (s *Shape) Bound() orb.Bound { return s.bound }

// Buffer grows (d > 0) or shrinks (d < 0) the shape with round joins.
func (s *Shape) Buffer(d float64) (*Shape, error) {
	out, err := s.g.Buffer(d)
	if err != nil {
		return nil, fmt.Errorf("geos buffer %g: %w", d, err)
	}
	return derive(out)
}

// Simplify reduces vertices within tolerance while keeping rings valid.
func (s *Shape) Simplify(tolerance float64) (*Shape, error) {
	out, err := s.g.SimplifyP(tolerance)
	if err != nil {
		return nil, fmt.Errorf("geos simplify %g: %w", tolerance, err)
	}
	return derive(out)
}

func (s *Shape) Intersects(o *Shape) (bool, error) {
	if s.empty || o.empty || !s.bound.Intersects(o.bound) {
		return false, nil
	}
	ok, err := s.g.Intersects(o.g)
	if err != nil {
		return false, fmt.Errorf("geos intersects: %w", err)
	}
	return ok, nil
}

// Geometry converts back to orb.
func (s *Shape) Geometry() (orb.Geometry, error) {
	return toOrb(s.g)
}

func toOrb(g *geos.Geometry) (orb.Geometry, error) {
	raw, err := g.WKB()
	if err != nil {
		return nil, fmt.Errorf("geos wkb encode: %w", err)
	}
	out, err := wkb.Unmarshal(raw)
	if err != nil {
		return nil, fmt.Errorf("wkb decode: %w", err)
	}
	return out, nil
}
