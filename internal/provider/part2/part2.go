// Package part2 serves datastreams, their schemas and observations. Datastream
// metadata lives in the metadata store, observation rows in the time-series store.
package part2

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mohammed-shakir/connected-systems/internal/backend"
	"github.com/mohammed-shakir/connected-systems/internal/core/apierr"
	"github.com/mohammed-shakir/connected-systems/internal/core/integrity"
	"github.com/mohammed-shakir/connected-systems/internal/core/model"
	"github.com/mohammed-shakir/connected-systems/internal/core/params"
	"github.com/mohammed-shakir/connected-systems/internal/formats/omjson"
	"github.com/mohammed-shakir/connected-systems/internal/provider"
)

type Provider struct {
	meta  backend.MetadataStore
	ts    backend.TimeSeriesStore
	guard *integrity.Guard
	log   *slog.Logger
	now   func() time.Time
}

var _ provider.Provider = (*Provider)(nil)

func New(logger *slog.Logger, meta backend.MetadataStore, ts backend.TimeSeriesStore, guard *integrity.Guard) *Provider {
	return &Provider{meta: meta, ts: ts, guard: guard, log: logger, now: time.Now}
}

func Serves(t model.EntityType) bool {
	switch t {
	case model.Datastreams, model.DatastreamsSchema, model.Observations:
		return true
	default:
		return false
	}
}

func (p *Provider) Query(ctx context.Context, t model.EntityType, q *params.Params) (*provider.Page, error) {
	switch t {
	case model.Datastreams:
		items, err := p.meta.Query(ctx, t, q)
		if err != nil {
			return nil, provider.StoreError(err, t, "")
		}
		return provider.NewPage(items, q)
	case model.DatastreamsSchema:
		q.Schema = true
		items, err := p.meta.Query(ctx, t, q)
		if err != nil {
			return nil, provider.StoreError(err, t, "")
		}
		schemas, err := schemaView(items)
		if err != nil {
			return nil, apierr.Provider(err, "cannot read datastream schema")
		}
		return provider.NewPage(schemas, q)
	case model.Observations:
		return p.observations(ctx, q)
	default:
		return nil, provider.Unsupported(t)
	}
}

func schemaView(items []json.RawMessage) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(items))
	for _, it := range items {
		var doc struct {
			Schema json.RawMessage `json:"schema"`
		}
		if err := json.Unmarshal(it, &doc); err != nil {
			return nil, fmt.Errorf("decode datastream: %w", err)
		}
		if len(doc.Schema) == 0 {
			doc.Schema = json.RawMessage("null")
		}
		out = append(out, doc.Schema)
	}
	return out, nil
}

func (p *Provider) observations(ctx context.Context, q *params.Params) (*provider.Page, error) {
	if len(q.Q) > 0 {
		return nil, apierr.Query("q is not supported for observations")
	}
	if len(q.ObservedProperty) > 0 {
		ids, err := p.datastreamsObserving(ctx, q.ObservedProperty, q.Datastream)
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			return provider.NewPage(nil, q)
		}
		narrowed := *q
		narrowed.Datastream = ids
		narrowed.ObservedProperty = nil
		q = &narrowed
	}
	rows, err := p.ts.Observations(ctx, q)
	if err != nil {
		return nil, provider.StoreError(err, model.Observations, "")
	}
	items := make([]json.RawMessage, 0, len(rows))
	for _, o := range rows {
		b, err := omjson.Encode(o)
		if err != nil {
			return nil, apierr.Provider(err, "cannot encode observation %s", o.ID)
		}
		items = append(items, b)
	}
	return provider.NewPage(items, q)
}

// datastreamsObserving returns the datastreams observing any of props,
// limited to within when it is not empty.
func (p *Provider) datastreamsObserving(ctx context.Context, props, within []string) ([]string, error) {
	var ids []string
	seen := map[string]bool{}
	for _, prop := range props {
		found, err := p.meta.IDsWhere(ctx, model.Datastreams, "observedProperty", prop)
		if err != nil {
			return nil, provider.StoreError(err, model.Datastreams, "")
		}
		for _, id := range found {
			if seen[id] || (len(within) > 0 && !slices.Contains(within, id)) {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (p *Provider) Create(ctx context.Context, t model.EntityType, items []map[string]any) ([]string, error) {
	switch t {
	case model.Datastreams:
		ids := make([]string, 0, len(items))
		for _, item := range items {
			id, err := p.createDatastream(ctx, item)
			if err != nil {
				return ids, err
			}
			ids = append(ids, id)
		}
		return ids, nil
	case model.Observations:
		return p.createObservations(ctx, items)
	default:
		return nil, provider.Unsupported(t)
	}
}

func (p *Provider) createDatastream(ctx context.Context, item map[string]any) (string, error) {
	if err := p.checkSystem(ctx, item["system"]); err != nil {
		return "", err
	}
	id, _ := item["id"].(string)
	if id == "" {
		id = uuid.NewString()
		item["id"] = id
	} else {
		exists, err := p.meta.Exists(ctx, model.Datastreams, id)
		if err != nil {
			return "", provider.StoreError(err, model.Datastreams, id)
		}
		if exists {
			return "", apierr.Value("entity with id %s already exists!", id)
		}
	}
	if err := p.prepare(item); err != nil {
		return "", err
	}
	if err := p.meta.Create(ctx, model.Datastreams, id, item); err != nil {
		return "", provider.StoreError(err, model.Datastreams, id)
	}
	return id, nil
}

// checkSystem requires a datastream's system reference to name a stored system
func (p *Provider) checkSystem(ctx context.Context, v any) error {
	system, _ := v.(string)
	if system == "" {
		return apierr.Value("datastream must reference a system")
	}
	return p.guard.CheckDatastreamCreate(ctx, system)
}

func (p *Provider) prepare(doc map[string]any) error {
	for _, key := range []string{"phenomenonTime", "resultTime"} {
		if err := provider.FormatDateRange(doc, key, p.now); err != nil {
			return err
		}
	}
	return nil
}

// createObservations validates the whole batch before inserting it in one transaction
func (p *Provider) createObservations(ctx context.Context, items []map[string]any) ([]string, error) {
	obs := make([]model.Observation, 0, len(items))
	checked := map[string]bool{}
	var supplied []string
	for _, item := range items {
		o, err := omjson.Decode(item)
		if err != nil {
			return nil, err
		}
		if o.ID != "" {
			supplied = append(supplied, o.ID)
		}
		if !checked[o.DatastreamID] {
			if err := p.guard.CheckObservationCreate(ctx, o.DatastreamID); err != nil {
				return nil, err
			}
			checked[o.DatastreamID] = true
		}
		obs = append(obs, o)
	}
	ids, err := p.ts.InsertBatch(ctx, obs)
	if err != nil {
		return nil, provider.StoreError(err, model.Observations, strings.Join(supplied, ", "))
	}
	return ids, nil
}

func (p *Provider) Replace(ctx context.Context, t model.EntityType, id string, body map[string]any) error {
	switch t {
	case model.Datastreams:
		old, err := p.meta.Get(ctx, model.Datastreams, id)
		if err != nil {
			return provider.StoreError(err, t, id)
		}
		body["id"] = id
		if v, ok := body["system"]; !ok {
			body["system"] = old["system"]
		} else if err := p.checkSystem(ctx, v); err != nil {
			return err
		}
		if err := p.prepare(body); err != nil {
			return err
		}
		if err := p.meta.Replace(ctx, model.Datastreams, id, body); err != nil {
			return provider.StoreError(err, t, id)
		}
		return nil
	case model.DatastreamsSchema:
		return p.replaceSchema(ctx, id, body)
	case model.Observations:
		return apierr.Query("replace/update of observations not supported yet!")
	default:
		return provider.Unsupported(t)
	}
}

func (p *Provider) Update(ctx context.Context, t model.EntityType, id string, body map[string]any) error {
	switch t {
	case model.Datastreams:
		delete(body, "id")
		if v, ok := body["system"]; ok {
			if err := p.checkSystem(ctx, v); err != nil {
				return err
			}
		}
		if err := p.prepare(body); err != nil {
			return err
		}
		if err := p.meta.Update(ctx, model.Datastreams, id, body); err != nil {
			return provider.StoreError(err, t, id)
		}
		return nil
	case model.DatastreamsSchema:
		return p.replaceSchema(ctx, id, body)
	case model.Observations:
		return apierr.Query("replace/update of observations not supported yet!")
	default:
		return provider.Unsupported(t)
	}
}

// replaceSchema overwrites the schema field. It is cleared first so the
// store does not merge the old and new schema objects.
func (p *Provider) replaceSchema(ctx context.Context, id string, schema map[string]any) error {
	exists, err := p.meta.Exists(ctx, model.Datastreams, id)
	if err != nil {
		return provider.StoreError(err, model.Datastreams, id)
	}
	if !exists {
		return apierr.NotFound("cannot find datastream with id: %s!", id)
	}
	if err := p.guard.CheckSchemaChange(ctx, id); err != nil {
		return err
	}
	if err := p.meta.Update(ctx, model.Datastreams, id, map[string]any{"schema": nil}); err != nil {
		return provider.StoreError(err, model.Datastreams, id)
	}
	if err := p.meta.Update(ctx, model.Datastreams, id, map[string]any{"schema": schema}); err != nil {
		return provider.StoreError(err, model.Datastreams, id)
	}
	return nil
}

func (p *Provider) Delete(ctx context.Context, t model.EntityType, id string, _ bool) error {
	switch t {
	case model.Datastreams:
		if err := p.guard.CheckDatastreamDelete(ctx, id); err != nil {
			return err
		}
		if err := p.meta.Delete(ctx, model.Datastreams, id); err != nil {
			return provider.StoreError(err, t, id)
		}
		p.guard.ForgetDatastream(id)
		p.log.Debug("datastream deleted", "id", id)
		return nil
	case model.Observations:
		ok, err := p.ts.DeleteByID(ctx, id)
		if err != nil {
			return provider.StoreError(err, t, id)
		}
		if !ok {
			return apierr.NotFound("No observation with id %s found!", id)
		}
		return nil
	default:
		return provider.Unsupported(t)
	}
}
