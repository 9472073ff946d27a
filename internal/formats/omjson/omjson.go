// Package omjson encodes observations as OM-JSON scalar observations.
package omjson

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mohammed-shakir/connected-systems/internal/core/apierr"
	"github.com/mohammed-shakir/connected-systems/internal/core/model"
)

type observation struct {
	ID              string          `json:"id"`
	Datastream      string          `json:"datastream@id"`
	SamplingFeature string          `json:"samplingFeature@id,omitempty"`
	ProcedureLink   json.RawMessage `json:"procedure@link,omitempty"`
	PhenomenonTime  *time.Time      `json:"phenomenonTime,omitempty"`
	ResultTime      time.Time       `json:"resultTime"`
	Parameters      json.RawMessage `json:"parameters,omitempty"`
	Result          json.RawMessage `json:"result"`
}

func Encode(o model.Observation) (json.RawMessage, error) {
	result := json.RawMessage(o.Result)
	if len(result) == 0 {
		result = json.RawMessage("null")
	}
	b, err := json.Marshal(observation{
		ID:              o.ID,
		Datastream:      o.DatastreamID,
		SamplingFeature: o.SamplingFeatureID,
		ProcedureLink:   rawOrNil(o.ProcedureLink),
		PhenomenonTime:  o.PhenomenonTime,
		ResultTime:      o.ResultTime.UTC(),
		Parameters:      rawOrNil(o.Parameters),
		Result:          result,
	})
	if err != nil {
		return nil, fmt.Errorf("encode observation %s: %w", o.ID, err)
	}
	return b, nil
}

func rawOrNil(b []byte) json.RawMessage {
	if len(b) == 0 || !json.Valid(b) {
		return nil
	}
	return json.RawMessage(b)
}

// Decode reads one observation from a request body item. The datastream
// comes from "datastream@id" or, when posted below a datastream, from the
// path supplied "datastream", which a differing body reference may not override.
func Decode(item map[string]any) (model.Observation, error) {
	var o model.Observation
	if id, ok := item["id"].(string); ok && id != "" {
		u, err := uuid.Parse(id)
		if err != nil {
			return o, apierr.Wrap(apierr.InvalidParameterValue, err, "observation id %q is not a uuid", id)
		}
		o.ID = u.String()
	}
	path := firstString(item, "datastream")
	body := firstString(item, "datastream@id")
	if path != "" && body != "" && path != body {
		return o, apierr.Value("datastream@id %s does not match datastream %s of the request path", body, path)
	}
	o.DatastreamID = firstString(item, "datastream", "datastream@id")
	if o.DatastreamID == "" {
		return o, apierr.Value("observation is missing datastream@id")
	}

	rt, ok := item["resultTime"].(string)
	if !ok || rt == "" {
		return o, apierr.Value("observation is missing resultTime")
	}
	t, err := time.Parse(time.RFC3339Nano, rt)
	if err != nil {
		return o, apierr.Wrap(apierr.InvalidParameterValue, err, "invalid resultTime %q", rt)
	}
	o.ResultTime = t.UTC()

	if pt, ok := item["phenomenonTime"].(string); ok && pt != "" {
		t, err := time.Parse(time.RFC3339Nano, pt)
		if err != nil {
			return o, apierr.Wrap(apierr.InvalidParameterValue, err, "invalid phenomenonTime %q", pt)
		}
		t = t.UTC()
		o.PhenomenonTime = &t
	}

	result, ok := item["result"]
	if !ok {
		return o, apierr.Value("observation is missing result")
	}
	if o.Result, err = json.Marshal(result); err != nil {
		return o, apierr.Wrap(apierr.InvalidParameterValue, err, "invalid result")
	}
	o.SamplingFeatureID = firstString(item, "samplingFeature@id", "foi")
	if v, ok := item["procedure@link"]; ok {
		if o.ProcedureLink, err = json.Marshal(v); err != nil {
			return o, apierr.Wrap(apierr.InvalidParameterValue, err, "invalid procedure@link")
		}
	}
	if v, ok := item["parameters"]; ok {
		if o.Parameters, err = json.Marshal(v); err != nil {
			return o, apierr.Wrap(apierr.InvalidParameterValue, err, "invalid parameters")
		}
	}
	return o, nil
}

func firstString(item map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := item[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
