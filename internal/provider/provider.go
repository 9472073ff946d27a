// Package provider declares the contract between the entity router and the
// two storage-specific providers.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/mohammed-shakir/connected-systems/internal/backend"
	"github.com/mohammed-shakir/connected-systems/internal/core/apierr"
	"github.com/mohammed-shakir/connected-systems/internal/core/model"
	"github.com/mohammed-shakir/connected-systems/internal/core/params"
)

// Provider serves a fixed subset of entity types
type Provider interface {
	Query(ctx context.Context, t model.EntityType, p *params.Params) (*Page, error)
	// Create stores every item and returns their ids in input order
	Create(ctx context.Context, t model.EntityType, items []map[string]any) ([]string, error)
	Replace(ctx context.Context, t model.EntityType, id string, body map[string]any) error
	Update(ctx context.Context, t model.EntityType, id string, body map[string]any) error
	Delete(ctx context.Context, t model.EntityType, id string, cascade bool) error
}

type Page struct {
	Items []json.RawMessage
	Links []model.Link
}

// NewPage applies the paging contract. An id scoped query without results is
// ItemNotFound, an unscoped one is an empty page. A full page gets a next link.
func NewPage(items []json.RawMessage, p *params.Params) (*Page, error) {
	if len(items) == 0 {
		if p.HasIDs() {
			return nil, apierr.NotFound("no item found with id: %s", strings.Join(p.IDs, ","))
		}
		return &Page{Items: []json.RawMessage{}, Links: []model.Link{}}, nil
	}
	links := []model.Link{}
	if p.Limit > 0 && len(items) == p.Limit {
		links = append(links, model.Link{
			Rel:   "next",
			Title: "next",
			Href:  p.NextLink(),
			Type:  "application/json",
		})
	}
	return &Page{Items: items, Links: links}, nil
}

// StoreError translates a backend failure for entity t with id
func StoreError(err error, t model.EntityType, id string) error {
	if err == nil {
		return nil
	}
	var ae *apierr.Error
	switch {
	case errors.As(err, &ae):
		return ae
	case errors.Is(err, backend.ErrNotFound):
		return apierr.Wrap(apierr.ItemNotFound, err, "cannot find %s with id: %s!", t, id)
	case errors.Is(err, backend.ErrConflict):
		return apierr.Wrap(apierr.InvalidParameterValue, err, "entity with id %s already exists!", id)
	default:
		return apierr.Provider(err, "error while accessing %s", t)
	}
}

// Unsupported is returned for an entity type a provider does not serve
func Unsupported(t model.EntityType) error {
	return apierr.Query("unrecognized type %s", t)
}

// FormatDateRange indexes a [start, end] time field as a date range under
// key_parsed. "now" resolves through now, ".." leaves the side open.
func FormatDateRange(doc map[string]any, key string, now func() time.Time) error {
	raw, ok := doc[key]
	if !ok || raw == nil {
		return nil
	}
	pair, ok := raw.([]any)
	if !ok || len(pair) != 2 {
		return apierr.Value("%s must be a [start, end] array", key)
	}
	start, _ := pair[0].(string)
	end, _ := pair[1].(string)
	ti, err := params.ParseInterval(start+"/"+end, now)
	if err != nil {
		return apierr.Wrap(apierr.InvalidParameterValue, err, "invalid %s", key)
	}
	r := map[string]any{}
	if ti.Start != nil {
		r["gte"] = ti.Start.Format(time.RFC3339Nano)
	}
	if ti.End != nil {
		r["lte"] = ti.End.Format(time.RFC3339Nano)
	}
	doc[key+"_parsed"] = r
	return nil
}
