// Package schema validates request bodies against the JSON Schema of their entity type.
package schema

import (
	"embed"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/mohammed-shakir/connected-systems/internal/core/apierr"
	"github.com/mohammed-shakir/connected-systems/internal/core/model"
)

//go:embed schemas/*.json
var documents embed.FS

type Mode int

const (
	// Strict validates the full payload (create and replace)
	Strict Mode = iota
	// Permissive skips validation (partial update)
	Permissive
)

// Registry maps entity types to compiled schemas. It is read-only after NewRegistry.
type Registry struct {
	schemas map[model.EntityType]*gojsonschema.Schema
}

func NewRegistry() (*Registry, error) {
	r := &Registry{schemas: map[model.EntityType]*gojsonschema.Schema{}}
	for _, t := range model.AllEntityTypes() {
		name := t.SchemaName()
		if name == "" {
			continue
		}
		b, err := documents.ReadFile("schemas/" + name + ".json")
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", name, err)
		}
		s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(b))
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		r.schemas[t] = s
	}
	return r, nil
}

// Has reports whether a schema is registered for t
func (r *Registry) Has(t model.EntityType) bool {
	_, ok := r.schemas[t]
	return ok
}

// Validate checks one entity payload. Every violation is listed in the returned error.
func (r *Registry) Validate(t model.EntityType, payload []byte, mode Mode) error {
	if mode == Permissive {
		return nil
	}
	s, ok := r.schemas[t]
	if !ok {
		return nil
	}
	res, err := s.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return apierr.Wrap(apierr.InvalidParameterValue, err, "invalid json payload")
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, re := range res.Errors() {
		msgs = append(msgs, fmt.Sprintf("%s: %s", re.Field(), re.Description()))
	}
	return apierr.Value("%s", strings.Join(msgs, "; "))
}

// CheckPathOnlyFields rejects relation fields that may only be set through the url path.
// pathKey is the key of the path derived filter, empty when there is none.
func CheckPathOnlyFields(body map[string]any, pathKey string) error {
	if _, ok := body["parent"]; ok && pathKey != "parent" {
		return apierr.Value("Cannot set parent through request body!")
	}
	return nil
}
