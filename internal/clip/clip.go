// Package clip cuts the road layer down to what is drawn around the region.
package clip

import (
	"fmt"

	"github.com/mohammed-shakir/buurtweg-monitor/internal/core/model"
	"github.com/mohammed-shakir/buurtweg-monitor/internal/geo/geomops"
)

// Clip keeps the roads that intersect display and simplifies their geometry with tolerance.
// Geometries are not cut at the display edge. roads is left untouched.
func Clip(roads *model.Layer, display *geomops.Shape, tolerance float64) (*model.Layer, error) {
	if roads == nil {
		return nil, fmt.Errorf("clip: nil road layer")
	}
	out := &model.Layer{Name: roads.Name, CRS: roads.CRS}
	for i, f := range roads.Features {
		s, err := geomops.NewShape(f.Geometry)
		if err != nil {
			return nil, fmt.Errorf("clip feature %d: %w", i, err)
		}
		hit, err := s.Intersects(display)
		if err != nil {
			return nil, fmt.Errorf("clip feature %d: %w", i, err)
		}
		if !hit {
			continue
		}

		c := f.Clone()
		if tolerance > 0 {
			simple, err := s.Simplify(tolerance)
			if err != nil {
				return nil, fmt.Errorf("clip feature %d: %w", i, err)
			}
			if c.Geometry, err = simple.Geometry(); err != nil {
				return nil, fmt.Errorf("clip feature %d: %w", i, err)
			}
		}
		out.Features = append(out.Features, c)
	}
	return out, nil
}
