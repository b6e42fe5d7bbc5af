// Package crs reprojects orb geometries between coordinate reference systems using PROJ.
//
// Transformers are built with axis order normalized for visualization, so geographic
// coordinates are always (lon, lat) the way GeoJSON stores them, whatever the EPSG
// definition says.
package crs

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
	proj "github.com/twpayne/go-proj/v10"
)

const (
	WGS84       = "EPSG:4326"
	BelgianLB72 = "EPSG:31370"
)

var ErrNonFinite = errors.New("transformed coordinate is not finite")

// Projector caches one PROJ transformer per (from, to) pair. PROJ objects are not safe for
// concurrent use, so every transform holds the projector lock.
type Projector struct {
	mu  sync.Mutex
	pjs map[[2]string]*proj.PJ
}

func NewProjector() *Projector {
	return &Projector{pjs: map[[2]string]*proj.PJ{}}
}

// Transform returns a reprojected copy of g; g itself is never modified.
func (p *Projector) Transform(g orb.Geometry, from, to string) (orb.Geometry, error) {
	if g == nil {
		return nil, nil
	}
	from, to = Normalize(from), Normalize(to)
	out := orb.Clone(g)
	if from == to {
		return out, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	pj, err := p.transformer(from, to)
	if err != nil {
		return nil, err
	}

	var firstErr error
	out = project.Geometry(out, func(pt orb.Point) orb.Point {
		if firstErr != nil {
			return pt
		}
		c, err := pj.Forward(proj.NewCoord(pt[0], pt[1], 0, 0))
		if err != nil {
			firstErr = fmt.Errorf("%s -> %s (%g %g): %w", from, to, pt[0], pt[1], err)
			return pt
		}
		x, y := c[0], c[1]
		if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
			firstErr = fmt.Errorf("%s -> %s (%g %g): %w", from, to, pt[0], pt[1], ErrNonFinite)
			return pt
		}
		return orb.Point{x, y}
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

func (p *Projector) TransformPoint(pt orb.Point, from, to string) (orb.Point, error) {
	g, err := p.Transform(pt, from, to)
	if err != nil {
		return orb.Point{}, err
	}
	return g.(orb.Point), nil
}

// caller holds p.mu
func (p *Projector) transformer(from, to string) (*proj.PJ, error) {
	key := [2]string{from, to}
	if pj, ok := p.pjs[key]; ok {
		return pj, nil
	}
	raw, err := proj.NewCRSToCRS(from, to, nil)
	if err != nil {
		return nil, fmt.Errorf("proj %s -> %s: %w", from, to, err)
	}
	pj, err := raw.NormalizeForVisualization()
	raw.Destroy()
	if err != nil {
		return nil, fmt.Errorf("proj normalize %s -> %s: %w", from, to, err)
	}
	p.pjs[key] = pj
	return pj, nil
}

func (p *Projector) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, pj := range p.pjs {
		pj.Destroy()
		delete(p.pjs, k)
	}
}

// Normalize folds the spellings GeoJSON producers use for a CRS onto "EPSG:<code>".
func Normalize(name string) string {
	n := strings.TrimSpace(name)
	if n == "" {
		return ""
	}
	up := strings.ToUpper(n)
	switch {
	case strings.HasSuffix(up, "CRS84"):
		return WGS84
	case strings.HasPrefix(up, "URN:OGC:DEF:CRS:EPSG:"):
		// urn:ogc:def:crs:EPSG::31370 or urn:ogc:def:crs:EPSG:6.9:31370
		return "EPSG:" + up[strings.LastIndex(up, ":")+1:]
	case strings.Contains(up, "/EPSG.XML#"):
		return "EPSG:" + up[strings.LastIndex(up, "#")+1:]
	case strings.HasPrefix(up, "EPSG:"):
		return up
	}
	return n
}

func Same(a, b string) bool { return Normalize(a) == Normalize(b) }

// FromMember reads the legacy GeoJSON "crs" member ({"type":"name","properties":{"name":...}}).
func FromMember(v any) (string, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return "", false
	}
	props, ok := m["properties"].(map[string]any)
	if !ok {
		return "", false
	}
	name, ok := props["name"].(string)
	if !ok || strings.TrimSpace(name) == "" {
		return "", false
	}
	return Normalize(name), true
}
