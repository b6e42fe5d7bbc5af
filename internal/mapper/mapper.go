// Package mapper assigns H3 cells to geographic geometries.
package mapper

import "github.com/paulmach/orb"

type Interface interface {
	CellForGeometry(g orb.Geometry, res int) (string, error)
}
