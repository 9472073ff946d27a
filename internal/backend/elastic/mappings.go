package elastic

import "github.com/mohammed-shakir/connected-systems/internal/core/model"

var keyword = map[string]any{"type": "keyword"}

func dateRange() map[string]any {
	return map[string]any{"type": "date_range", "format": "strict_date_optional_time||epoch_millis"}
}

// mapping returns the index body for t. Relation fields are keywords so that
// terms filters match ids exactly.
func mapping(t model.EntityType) map[string]any {
	props := map[string]any{
		"id":          keyword,
		"name":        map[string]any{"type": "text"},
		"description": map[string]any{"type": "text"},
	}
	switch t {
	case model.Systems:
		props["uniqueId"] = keyword
		props["parent"] = keyword
		props["procedure"] = keyword
		props["foi"] = keyword
		props["observedProperty"] = keyword
		props["controlledProperty"] = keyword
		props["position"] = map[string]any{"type": "geo_shape"}
		props["validTime_parsed"] = dateRange()
	case model.Deployments:
		props["uniqueId"] = keyword
		props["system_ids"] = keyword
		props["foi"] = keyword
		props["observedProperty"] = keyword
		props["position"] = map[string]any{"type": "geo_shape"}
		props["validTime_parsed"] = dateRange()
	case model.Procedures:
		props["uniqueId"] = keyword
		props["observedProperty"] = keyword
		props["controlledProperty"] = keyword
		props["validTime_parsed"] = dateRange()
	case model.SamplingFeatures:
		props["uniqueId"] = keyword
		props["system"] = keyword
		props["foi"] = keyword
		props["observedProperty"] = keyword
		props["controlledProperty"] = keyword
		props["geometry"] = map[string]any{"type": "geo_shape"}
		props["validTime_parsed"] = dateRange()
	case model.Properties:
		props["definition"] = keyword
		props["baseProperty"] = keyword
		props["objectType"] = keyword
		props["system"] = keyword
	case model.Datastreams, model.DatastreamsSchema:
		props["system"] = keyword
		props["foi"] = keyword
		props["observedProperty"] = keyword
		props["outputName"] = keyword
		props["phenomenonTime_parsed"] = dateRange()
		props["resultTime_parsed"] = dateRange()
		// record schemas are free form and only ever returned whole
		props["schema"] = map[string]any{"type": "object", "enabled": false}
	case model.Collections:
		props["itemType"] = keyword
		props["featureType"] = keyword
	}
	return map[string]any{
		"mappings": map[string]any{"properties": props},
	}
}

// indexedTypes are the types owning an index. DatastreamsSchema shares the datastreams index.
var indexedTypes = []model.EntityType{
	model.Systems,
	model.Deployments,
	model.Procedures,
	model.SamplingFeatures,
	model.Properties,
	model.Datastreams,
	model.Collections,
}
