// Package part1 serves systems, deployments, procedures, sampling features,
// properties and collections from the metadata store.
package part1

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mohammed-shakir/connected-systems/internal/backend"
	"github.com/mohammed-shakir/connected-systems/internal/core/apierr"
	"github.com/mohammed-shakir/connected-systems/internal/core/integrity"
	"github.com/mohammed-shakir/connected-systems/internal/core/model"
	"github.com/mohammed-shakir/connected-systems/internal/core/params"
	"github.com/mohammed-shakir/connected-systems/internal/provider"
)

type Provider struct {
	meta  backend.MetadataStore
	guard *integrity.Guard
	log   *slog.Logger
	now   func() time.Time
}

var _ provider.Provider = (*Provider)(nil)

func New(logger *slog.Logger, meta backend.MetadataStore, guard *integrity.Guard) *Provider {
	return &Provider{meta: meta, guard: guard, log: logger, now: time.Now}
}

// Serves reports whether t is owned by this provider
func Serves(t model.EntityType) bool {
	switch t {
	case model.Systems, model.Deployments, model.Procedures, model.SamplingFeatures,
		model.Properties, model.Collections:
		return true
	default:
		return false
	}
}

func (p *Provider) Query(ctx context.Context, t model.EntityType, q *params.Params) (*provider.Page, error) {
	if !Serves(t) {
		return nil, provider.Unsupported(t)
	}
	items, err := p.meta.Query(ctx, t, q)
	if err != nil {
		return nil, provider.StoreError(err, t, "")
	}
	return provider.NewPage(items, q)
}

func (p *Provider) Create(ctx context.Context, t model.EntityType, items []map[string]any) ([]string, error) {
	if !Serves(t) || t == model.Collections {
		return nil, provider.Unsupported(t)
	}
	ids := make([]string, 0, len(items))
	for _, item := range items {
		id, err := p.create(ctx, t, item)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (p *Provider) create(ctx context.Context, t model.EntityType, item map[string]any) (string, error) {
	id, _ := item["id"].(string)
	if id == "" {
		id = uuid.NewString()
		item["id"] = id
	} else {
		exists, err := p.meta.Exists(ctx, t, id)
		if err != nil {
			return "", provider.StoreError(err, t, id)
		}
		if exists {
			return "", apierr.Value("entity with id %s already exists!", id)
		}
	}

	if err := p.prepare(ctx, t, item); err != nil {
		return "", err
	}
	if t == model.Systems {
		if parent, ok := item["parent"].(string); ok && parent != "" {
			if err := p.guard.CheckSystemParent(ctx, parent); err != nil {
				return "", err
			}
		}
	}
	if err := p.meta.Create(ctx, t, id, item); err != nil {
		return "", provider.StoreError(err, t, id)
	}
	return id, nil
}

// prepare derives the internal index fields of a document
func (p *Provider) prepare(ctx context.Context, t model.EntityType, doc map[string]any) error {
	if err := provider.FormatDateRange(doc, "validTime", p.now); err != nil {
		return err
	}
	if t == model.Deployments {
		if _, ok := doc["deployedSystems"]; ok {
			ids, err := p.linkSystems(ctx, doc["deployedSystems"])
			if err != nil {
				return err
			}
			doc["system_ids"] = ids
		}
	}
	return nil
}

// linkSystems resolves deployedSystems[].system.href to local system ids.
// A urn is looked up by uniqueId and must match exactly one system.
func (p *Provider) linkSystems(ctx context.Context, deployed any) ([]string, error) {
	list, _ := deployed.([]any)
	ids := make([]string, 0, len(list))
	for _, entry := range list {
		href := systemHref(entry)
		switch {
		case strings.HasPrefix(href, "urn"):
			found, err := p.meta.IDsWhere(ctx, model.Systems, "uniqueId", href)
			if err != nil {
				return nil, provider.StoreError(err, model.Systems, href)
			}
			if len(found) != 1 {
				return nil, apierr.Value("cannot find local system with urn: %s", href)
			}
			ids = append(ids, found[0])
		case strings.Contains(href, "systems/"):
			_, id, _ := strings.Cut(href, "systems/")
			id, _, _ = strings.Cut(id, "?")
			if id != "" {
				ids = append(ids, strings.TrimSuffix(id, "/"))
			}
		}
	}
	return ids, nil
}

func systemHref(entry any) string {
	m, _ := entry.(map[string]any)
	sys, _ := m["system"].(map[string]any)
	href, _ := sys["href"].(string)
	return href
}

func (p *Provider) Replace(ctx context.Context, t model.EntityType, id string, body map[string]any) error {
	if !Serves(t) || t == model.Collections {
		return provider.Unsupported(t)
	}
	old, err := p.meta.Get(ctx, t, id)
	if err != nil {
		return provider.StoreError(err, t, id)
	}
	body["id"] = id
	// relations only settable through the path survive a replace
	if parent, ok := old["parent"]; ok {
		body["parent"] = parent
	}
	if err := p.prepare(ctx, t, body); err != nil {
		return err
	}
	if err := p.meta.Replace(ctx, t, id, body); err != nil {
		return provider.StoreError(err, t, id)
	}
	return nil
}

func (p *Provider) Update(ctx context.Context, t model.EntityType, id string, body map[string]any) error {
	if !Serves(t) || t == model.Collections {
		return provider.Unsupported(t)
	}
	delete(body, "id")
	if err := p.prepare(ctx, t, body); err != nil {
		return err
	}
	if err := p.meta.Update(ctx, t, id, body); err != nil {
		return provider.StoreError(err, t, id)
	}
	return nil
}

func (p *Provider) Delete(ctx context.Context, t model.EntityType, id string, cascade bool) error {
	if !Serves(t) || t == model.Collections {
		return provider.Unsupported(t)
	}
	if t == model.Systems {
		if err := p.guard.CheckSystemDelete(ctx, id, cascade); err != nil {
			return err
		}
	}
	if err := p.meta.Delete(ctx, t, id); err != nil {
		return provider.StoreError(err, t, id)
	}
	return nil
}
