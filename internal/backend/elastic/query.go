package elastic

import (
	"strings"
	"time"

	"github.com/mohammed-shakir/connected-systems/internal/core/apierr"
	"github.com/mohammed-shakir/connected-systems/internal/core/model"
	"github.com/mohammed-shakir/connected-systems/internal/core/ogc"
	"github.com/mohammed-shakir/connected-systems/internal/core/params"
)

// Query is an Elasticsearch search request body
type Query map[string]any

// internal fields are indexed for filtering and never returned
var internalFields = []string{
	"validTime_parsed",
	"phenomenonTime_parsed",
	"resultTime_parsed",
	"system_ids",
}

// GeometryField is the geo_shape field filtered by bbox and geom
func GeometryField(t model.EntityType) string {
	if t == model.SamplingFeatures {
		return "geometry"
	}
	return "position"
}

func systemField(t model.EntityType) string {
	if t == model.Deployments {
		return "system_ids"
	}
	return "system"
}

// BuildQuery translates parsed parameters into a search body for the index of t
func BuildQuery(t model.EntityType, p *params.Params) (Query, error) {
	var filter, must, mustNot []any

	if p.HasIDs() {
		filter = append(filter, terms("_id", p.IDs))
	}
	if len(p.Q) > 0 {
		must = append(must, map[string]any{
			"multi_match": map[string]any{
				"query":     strings.Join(p.Q, " "),
				"fields":    []string{"name", "description"},
				"fuzziness": "AUTO",
			},
		})
	}

	if p.BBox != nil {
		filter = append(filter, map[string]any{
			"geo_bounding_box": map[string]any{
				GeometryField(t): map[string]any{
					"top_left":     map[string]float64{"lon": p.BBox.X1, "lat": p.BBox.Y2},
					"bottom_right": map[string]float64{"lon": p.BBox.X2, "lat": p.BBox.Y1},
				},
			},
		})
	}
	if p.Geom != "" {
		wkt, err := ogc.NormalizeGeom(p.Geom)
		if err != nil {
			return nil, apierr.Wrap(apierr.InvalidQuery, err, "invalid geom")
		}
		filter = append(filter, map[string]any{
			"geo_shape": map[string]any{
				GeometryField(t): map[string]any{
					"shape":    wkt,
					"relation": "intersects",
				},
			},
		})
	}

	for field, ti := range map[string]model.TimeInterval{
		"validTime_parsed":      p.ValidTime,
		"phenomenonTime_parsed": p.PhenomenonTime,
		"resultTime_parsed":     p.ResultTime,
	} {
		if r := rangeClause(field, ti); r != nil {
			filter = append(filter, r)
		}
	}

	relations := []struct {
		field  string
		values []string
	}{
		{"parent", p.Parent},
		{"procedure", p.Procedure},
		{"foi", p.Foi},
		{"observedProperty", p.ObservedProperty},
		{"controlledProperty", p.ControlledProperty},
		{systemField(t), p.System},
	}
	for _, rel := range relations {
		if rel.values != nil {
			filter = append(filter, terms(rel.field, rel.values))
		}
	}

	// subsystems are only listed when asked for by parent or id
	if t == model.Systems && p.Parent == nil && !p.HasIDs() {
		mustNot = append(mustNot, map[string]any{"exists": map[string]any{"field": "parent"}})
	}

	boolQ := map[string]any{}
	if len(filter) > 0 {
		boolQ["filter"] = filter
	}
	if len(must) > 0 {
		boolQ["must"] = must
	}
	if len(mustNot) > 0 {
		boolQ["must_not"] = mustNot
	}

	q := Query{
		"from":    p.Offset,
		"size":    p.Limit,
		"_source": map[string]any{"excludes": internalFields},
	}
	if len(boolQ) > 0 {
		q["query"] = map[string]any{"bool": boolQ}
	} else {
		q["query"] = map[string]any{"match_all": map[string]any{}}
	}
	return q, nil
}

// TermQuery matches documents whose field equals value
func TermQuery(field, value string, size int) Query {
	return Query{
		"size":  size,
		"query": map[string]any{"term": map[string]any{field: value}},
	}
}

func terms(field string, values []string) map[string]any {
	return map[string]any{"terms": map[string]any{field: values}}
}

func rangeClause(field string, ti model.TimeInterval) map[string]any {
	if ti.IsZero() {
		return nil
	}
	bounds := map[string]any{}
	if ti.Start != nil {
		bounds["gte"] = ti.Start.UTC().Format(time.RFC3339Nano)
	}
	if ti.End != nil {
		bounds["lte"] = ti.End.UTC().Format(time.RFC3339Nano)
	}
	return map[string]any{"range": map[string]any{field: bounds}}
}
