package assemble

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/buurtweg-monitor/internal/core/model"
	"github.com/mohammed-shakir/buurtweg-monitor/internal/geo/crs"
	h3mapper "github.com/mohammed-shakir/buurtweg-monitor/internal/mapper/h3"
)

func newAssembler(t *testing.T, res int) *Assembler {
	t.Helper()
	p := crs.NewProjector()
	t.Cleanup(p.Close)
	return New(p, h3mapper.New(), Config{OutputCRS: crs.WGS84, H3Res: res})
}

func roadLayer() *model.Layer {
	return &model.Layer{Name: "roads", CRS: crs.BelgianLB72, Features: []model.Feature{
		{Geometry: orb.LineString{{100000, 170000}, {100100, 170000}}, Properties: map[string]any{"NR": "1"}},
	}}
}

func dossierMatch() model.Match {
	poly := orb.Polygon{orb.Ring{{100000, 169990}, {100020, 169990}, {100020, 170010}, {100000, 170010}, {100000, 169990}}}
	return model.Match{
		Feature:   model.Feature{Geometry: poly, Properties: map[string]any{"dossierid": "OMV_1"}},
		DossierID: "OMV_1",
		Link:      "https://example.org/OMV_1",
	}
}

func TestAssemble_NoMatchesIsOkeWithEmptyCollection(t *testing.T) {
	a := newAssembler(t, 9)

	res, err := a.Assemble(roadLayer(), nil, crs.BelgianLB72)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if res.Status != model.StatusOK {
		t.Fatalf("status=%s want oke", res.Status)
	}
	raw, err := json.Marshal(res.Matches)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	feats, ok := doc["features"].([]any)
	if doc["type"] != "FeatureCollection" || !ok || len(feats) != 0 {
		t.Fatalf("empty matches rendered as %s", raw)
	}

	pt := res.Roads.Features[0].Geometry.(orb.LineString)[0]
	if pt.Lon() < 2 || pt.Lon() > 5 || pt.Lat() < 50 || pt.Lat() > 52 {
		t.Fatalf("roads not in geographic crs: %v", pt)
	}
}

func TestAssemble_MatchStatusAndCells(t *testing.T) {
	a := newAssembler(t, 9)
	in := []model.Match{dossierMatch()}

	annotated, err := a.Annotate(in, crs.BelgianLB72)
	if err != nil {
		t.Fatalf("annotate: %v", err)
	}
	if annotated[0].Cell == "" || annotated[0].Feature.Properties[CellField] != annotated[0].Cell {
		t.Fatalf("cell missing: %+v", annotated[0])
	}
	if _, ok := in[0].Feature.Properties[CellField]; ok {
		t.Fatalf("input match was modified")
	}

	res, err := a.Assemble(roadLayer(), annotated, crs.BelgianLB72)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	if res.Status != model.StatusMatch || len(res.Matches.Features) != 1 {
		t.Fatalf("status=%s matches=%d", res.Status, len(res.Matches.Features))
	}

	raw, _ := json.Marshal(res)
	for _, key := range []string{`"wegen_regio"`, `"matches"`, `"status":"MATCH"`, `"h3_cell"`} {
		if !strings.Contains(string(raw), key) {
			t.Fatalf("result json missing %s: %s", key, raw)
		}
	}
}

func TestAnnotate_DisabledByNegativeRes(t *testing.T) {
	a := newAssembler(t, -1)
	in := []model.Match{dossierMatch()}
	out, err := a.Annotate(in, crs.BelgianLB72)
	if err != nil {
		t.Fatalf("annotate: %v", err)
	}
	if out[0].Cell != "" {
		t.Fatalf("expected no cell, got %s", out[0].Cell)
	}
}
