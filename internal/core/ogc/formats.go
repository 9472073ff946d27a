// Package ogc holds OGC API conventions: formats, conformance classes and geometry literals.
package ogc

import (
	"mime"
	"strings"

	"github.com/mohammed-shakir/connected-systems/internal/core/model"
)

type Format string

const (
	FormatHTML    Format = "text/html"
	FormatJSON    Format = "application/json"
	FormatGeoJSON Format = "application/geo+json"
	FormatSML     Format = "application/sml+json"
	FormatOM      Format = "application/om+json"
	FormatSWE     Format = "application/swe+json"
)

var shortNames = map[string]Format{
	"html":    FormatHTML,
	"json":    FormatJSON,
	"geojson": FormatGeoJSON,
	"smljson": FormatSML,
	"omjson":  FormatOM,
	"swejson": FormatSWE,
}

// MediaType is the Content-Type value of the format
func (f Format) MediaType() string { return string(f) }

var supported = map[model.EntityType][]Format{
	model.Systems:           {FormatJSON, FormatGeoJSON, FormatSML, FormatHTML},
	model.Deployments:       {FormatJSON, FormatGeoJSON, FormatSML, FormatHTML},
	model.Procedures:        {FormatJSON, FormatGeoJSON, FormatSML, FormatHTML},
	model.SamplingFeatures:  {FormatJSON, FormatGeoJSON, FormatHTML},
	model.Properties:        {FormatJSON, FormatSML, FormatHTML},
	model.Datastreams:       {FormatJSON, FormatHTML},
	model.DatastreamsSchema: {FormatJSON, FormatHTML},
	model.Observations:      {FormatOM, FormatSWE, FormatJSON, FormatHTML},
	model.Collections:       {FormatJSON, FormatHTML},
}

// Supported lists the formats t can be rendered in. The first entry is the default.
func Supported(t model.EntityType) []Format {
	return supported[t]
}

// ParseFormat resolves an f parameter, either a short name or a media type
func ParseFormat(s string) (Format, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if f, ok := shortNames[s]; ok {
		return f, true
	}
	for _, f := range shortNames {
		if string(f) == s {
			return f, true
		}
	}
	return "", false
}

// Negotiate picks the response format for t from the f parameter, then the Accept header.
// ok is false when an explicit f is not supported for t.
func Negotiate(t model.EntityType, fParam, accept string) (Format, bool) {
	allowed := Supported(t)
	if len(allowed) == 0 {
		allowed = []Format{FormatJSON}
	}
	if strings.TrimSpace(fParam) != "" {
		f, ok := ParseFormat(fParam)
		if !ok || !contains(allowed, f) {
			return "", false
		}
		return f, true
	}
	for _, part := range strings.Split(accept, ",") {
		mt, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		if f, ok := ParseFormat(mt); ok && contains(allowed, f) {
			return f, true
		}
	}
	return allowed[0], true
}

func contains(fs []Format, f Format) bool {
	for _, x := range fs {
		if x == f {
			return true
		}
	}
	return false
}
