// Package region defines the fixed area the monitor watches.
package region

import (
	"fmt"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/buurtweg-monitor/internal/core/model"
	"github.com/mohammed-shakir/buurtweg-monitor/internal/geo/geomops"
)

// Region is the query rectangle plus the buffered polygon used to clip what gets drawn.
// Matching never looks at the display polygon.
type Region struct {
	BBox    model.BBox
	Display orb.Geometry

	display *geomops.Shape
}

func New(bbox model.BBox, displayBuffer float64) (*Region, error) {
	if !bbox.Valid() {
		return nil, fmt.Errorf("region: invalid bbox %s", bbox)
	}
	rect, err := geomops.NewShape(bbox.Bound().ToPolygon())
	if err != nil {
		return nil, fmt.Errorf("region: %w", err)
	}
	shape := rect
	if displayBuffer != 0 {
		if shape, err = rect.Buffer(displayBuffer); err != nil {
			return nil, fmt.Errorf("region: display buffer: %w", err)
		}
	}
	display, err := shape.Geometry()
	if err != nil {
		return nil, fmt.Errorf("region: %w", err)
	}
	return &Region{BBox: bbox, Display: display, display: shape}, nil
}

// DisplayShape is the GEOS form of Display for repeated clipping predicates.
func (r *Region) DisplayShape() *geomops.Shape { return r.display }
