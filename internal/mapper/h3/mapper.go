package h3mapper

import (
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	h3 "github.com/uber/h3-go/v4"
)

var ErrEmptyGeometry = errors.New("geometry has no centroid")

type Mapper struct{}

func New() *Mapper { return &Mapper{} }

// CellForPoint expects lon/lat degrees (EPSG:4326).
func (m *Mapper) CellForPoint(pt orb.Point, res int) (string, error) {
	if err := validateRes(res); err != nil {
		return "", err
	}
	if pt.Lat() < -90 || pt.Lat() > 90 || pt.Lon() < -180 || pt.Lon() > 180 {
		return "", fmt.Errorf("point %v is not lon/lat", pt)
	}
	c, err := h3.LatLngToCell(h3.LatLng{Lat: pt.Lat(), Lng: pt.Lon()}, res)
	if err != nil {
		return "", fmt.Errorf("h3 cell: %w", err)
	}
	return c.String(), nil
}

// CellForGeometry uses the area-weighted centroid for polygons and falls back to the length or
// point centroid for lower dimensions.
func (m *Mapper) CellForGeometry(g orb.Geometry, res int) (string, error) {
	if g == nil {
		return "", ErrEmptyGeometry
	}
	c, _ := planar.CentroidArea(g)
	return m.CellForPoint(c, res)
}

func validateRes(res int) error {
	if res < 0 || res > 15 {
		return fmt.Errorf("invalid H3 resolution %d (must be 0..15)", res)
	}
	return nil
}
