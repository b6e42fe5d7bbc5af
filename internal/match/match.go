// Package match joins dossiers against the full road layer.
package match

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dhconnelly/rtreego"
	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/buurtweg-monitor/internal/core/model"
	"github.com/mohammed-shakir/buurtweg-monitor/internal/geo/geomops"
)

const (
	// LinkField is the attribute carrying the lookup URL on a match feature.
	LinkField = "Link"

	// written when no id field is set, so the link stays well formed
	missingID = "None"

	// rtreego rejects zero-length sides; points and axis-parallel lines need padding
	minSide = 1e-9

	// rtreego treats rectangles sharing only an edge as disjoint; the search window is grown
	// so touching roads still reach the exact test
	searchPad = 1e-6
)

type Config struct {
	Shrink       float64
	IDFields     []string
	LinkTemplate string
}

type Stats struct {
	Dossiers   int // dossiers offered
	Dropped    int // shrunk to nothing
	Candidates int // bbox candidates tested exactly
	Matched    int
}

type Matcher struct {
	cfg Config
}

func New(cfg Config) *Matcher {
	return &Matcher{cfg: cfg}
}

type roadEntry struct {
	rect  rtreego.Rect
	shape *geomops.Shape
}

func (r *roadEntry) Bounds() rtreego.Rect { return r.rect }

// Match returns at most one match per dossier, in dossier order. A dossier counts when its
// geometry shrunk by Shrink still intersects some road; the match carries the unshrunk geometry.
func (m *Matcher) Match(dossiers, roads *model.Layer) ([]model.Match, Stats, error) {
	var st Stats
	if dossiers.Empty() || roads.Empty() {
		st.Dossiers = dossiers.Len()
		return nil, st, nil
	}
	if dossiers.CRS != "" && roads.CRS != "" && dossiers.CRS != roads.CRS {
		return nil, st, fmt.Errorf("match: dossiers in %s, roads in %s", dossiers.CRS, roads.CRS)
	}

	tree, err := buildIndex(roads)
	if err != nil {
		return nil, st, err
	}

	var out []model.Match
	for i, d := range dossiers.Features {
		st.Dossiers++
		s, err := geomops.NewShape(d.Geometry)
		if err != nil {
			return nil, st, fmt.Errorf("match dossier %d: %w", i, err)
		}
		shrunk := s
		if m.cfg.Shrink != 0 {
			if shrunk, err = s.Buffer(m.cfg.Shrink); err != nil {
				return nil, st, fmt.Errorf("match dossier %d: %w", i, err)
			}
		}
		if shrunk.Empty() {
			st.Dropped++
			continue
		}

		rect, err := toRect(shrunk.Bound().Pad(searchPad))
		if err != nil {
			return nil, st, fmt.Errorf("match dossier %d: %w", i, err)
		}
		hit := false
		for _, c := range tree.SearchIntersect(rect) {
			st.Candidates++
			ok, err := shrunk.Intersects(c.(*roadEntry).shape)
			if err != nil {
				return nil, st, fmt.Errorf("match dossier %d: %w", i, err)
			}
			if ok {
				hit = true
				break
			}
		}
		if !hit {
			continue
		}

		f := d.Clone()
		FormatDates(f.Properties)
		id := DossierID(f.Properties, m.cfg.IDFields)
		link := Link(m.cfg.LinkTemplate, id)
		f.Properties[LinkField] = link
		out = append(out, model.Match{Feature: f, DossierID: id, Link: link})
		st.Matched++
	}
	return out, st, nil
}

func buildIndex(roads *model.Layer) (*rtreego.Rtree, error) {
	entries := make([]rtreego.Spatial, 0, roads.Len())
	for i, f := range roads.Features {
		s, err := geomops.NewShape(f.Geometry)
		if err != nil {
			return nil, fmt.Errorf("index road %d: %w", i, err)
		}
		if s.Empty() {
			continue
		}
		rect, err := toRect(s.Bound())
		if err != nil {
			return nil, fmt.Errorf("index road %d: %w", i, err)
		}
		entries = append(entries, &roadEntry{rect: rect, shape: s})
	}
	return rtreego.NewTree(2, 25, 50, entries...), nil
}

func toRect(b orb.Bound) (rtreego.Rect, error) {
	w := math.Max(b.Max[0]-b.Min[0], minSide)
	h := math.Max(b.Max[1]-b.Min[1], minSide)
	return rtreego.NewRect(rtreego.Point{b.Min[0], b.Min[1]}, []float64{w, h})
}

// DossierID returns the first set id field, or "None".
func DossierID(props map[string]any, fields []string) string {
	for _, k := range fields {
		if s, ok := idString(props[k]); ok {
			return s
		}
	}
	return missingID
}

func idString(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		t = strings.TrimSpace(t)
		return t, t != ""
	case float64:
		if t == 0 || math.IsNaN(t) {
			return "", false
		}
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return "", false
	default:
		s := fmt.Sprint(t)
		return s, s != ""
	}
}

// Link substitutes id into the template's {id} placeholder.
func Link(template, id string) string {
	return strings.ReplaceAll(template, "{id}", url.PathEscape(id))
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02Z07:00",
	"2006-01-02",
}

// FormatDates rewrites every date or timestamp string in props as YYYY-MM-DD.
func FormatDates(props map[string]any) {
	for k, v := range props {
		s, ok := v.(string)
		if !ok || len(s) < len("2006-01-02") {
			continue
		}
		if d, ok := asDate(s); ok {
			props[k] = d
		}
	}
}

func asDate(s string) (string, bool) {
	// cheap reject before trying layouts
	if s[4] != '-' || s[7] != '-' {
		return "", false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), true
		}
	}
	return "", false
}
