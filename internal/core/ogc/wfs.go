// Package ogc builds WFS GetFeature requests and recognizes GeoServer quirks in the replies.
package ogc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/mohammed-shakir/buurtweg-monitor/internal/core/model"
)

const (
	wfsVersion = "1.1.0"

	// IllegalPropertyPrefix is what GeoServer answers when a CQL filter names an unknown attribute.
	IllegalPropertyPrefix = "Illegal property name: "
)

// BuildCQLFilter combines the bbox predicate, the point-in-geometry predicate and the submission
// date lower bound.
func BuildCQLFilter(q model.QueryRequest) string {
	var parts []string
	if q.BBox != nil {
		c := q.BBox.Coords()
		parts = append(parts, fmt.Sprintf("BBOX(%s, %s, %s, %s, %s)", q.GeomField, c[0], c[1], c[2], c[3]))
	}
	if q.Point != nil {
		f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
		parts = append(parts, fmt.Sprintf("INTERSECTS(%s, POINT(%s %s))", q.GeomField, f(q.Point[0]), f(q.Point[1])))
	}
	if q.DateField != "" && !q.Since.IsZero() {
		parts = append(parts, fmt.Sprintf("%s >= %sT00:00:00Z", q.DateField, q.Since.Format("2006-01-02")))
	}
	return strings.Join(parts, " AND ")
}

func BuildGetFeatureParams(q model.QueryRequest) url.Values {
	return BuildGetFeatureParamsFormat(q, "application/json")
}

func BuildGetFeatureParamsFormat(q model.QueryRequest, outputFormat string) url.Values {
	params := url.Values{}
	params.Set("service", "WFS")
	params.Set("version", wfsVersion)
	params.Set("request", "GetFeature")
	params.Set("typeName", q.Layer)
	if strings.TrimSpace(outputFormat) == "" {
		outputFormat = "application/json"
	}
	params.Set("outputFormat", outputFormat)
	if q.SRSName != "" {
		params.Set("srsName", q.SRSName)
	}
	if cql := BuildCQLFilter(q); cql != "" {
		params.Set("CQL_FILTER", cql)
	}
	if len(q.PropertyNames) > 0 {
		params.Set("propertyName", strings.Join(q.PropertyNames, ","))
	}
	if q.MaxFeatures > 0 {
		params.Set("maxFeatures", strconv.Itoa(q.MaxFeatures))
	}
	return params
}

// IsIllegalProperty reports whether the service rejected field as a property name.
func IsIllegalProperty(body []byte, field string) bool {
	if field == "" {
		return false
	}
	return bytes.Contains(body, []byte(IllegalPropertyPrefix+field))
}

// DeclaredFeatureCount reads numberOfFeatures (WFS 1.1) or totalFeatures (GeoServer) when present.
func DeclaredFeatureCount(body []byte) (int, bool) {
	var hdr struct {
		NumberOfFeatures *int `json:"numberOfFeatures"`
		TotalFeatures    *int `json:"totalFeatures"`
	}
	if err := json.Unmarshal(body, &hdr); err != nil {
		return 0, false
	}
	switch {
	case hdr.NumberOfFeatures != nil:
		return *hdr.NumberOfFeatures, true
	case hdr.TotalFeatures != nil:
		return *hdr.TotalFeatures, true
	}
	return 0, false
}

// WithServerBBox adds a bbox parameter to WFS-style dataset URLs so the host filters before
// sending. Plain file URLs are returned unchanged with false.
func WithServerBBox(raw string, bb model.BBox) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return raw, false
	}
	q := u.Query()
	isWFS := false
	for k, v := range q {
		if strings.EqualFold(k, "service") && len(v) > 0 && strings.EqualFold(v[0], "WFS") {
			isWFS = true
			break
		}
	}
	if !isWFS {
		return raw, false
	}
	for k := range q {
		if strings.EqualFold(k, "bbox") {
			return raw, false
		}
	}
	q.Set("bbox", bb.String())
	u.RawQuery = q.Encode()
	return u.String(), true
}
