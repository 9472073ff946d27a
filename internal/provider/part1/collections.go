package part1

import (
	"context"
	"fmt"

	"github.com/mohammed-shakir/connected-systems/internal/core/model"
	"github.com/mohammed-shakir/connected-systems/internal/provider"
)

type mandatoryCollection struct {
	id          string
	title       string
	description string
	featureType string
	items       string
	noun        string
}

var mandatory = []mandatoryCollection{
	{
		id:          "all_systems",
		title:       "All Systems Instances",
		description: "All systems registered on this server (e.g. platforms, sensors, actuators, processes)",
		featureType: "system",
		items:       "/systems",
		noun:        "system instances",
	},
	{
		id:          "all_datastreams",
		title:       "All Systems Datastreams",
		description: "All datastreams produced by systems registered on this server",
		featureType: "datastreams",
		items:       "/datastreams",
		noun:        "datastreams",
	},
	{
		id:          "all_fois",
		title:       "All Features of Interest",
		description: "All features of interest observed or affected by systems registered on this server",
		featureType: "featureOfInterest",
		items:       "/samplingFeatures",
		noun:        "features of interests",
	},
	{
		id:          "all_procedures",
		title:       "All Procedures and System Datasheets",
		description: "All procedures (e.g. system datasheets) implemented by systems registered on this server",
		featureType: "procedure",
		items:       "/procedures",
		noun:        "procedures",
	},
}

var collectionItems = map[string]model.EntityType{
	"all_systems":     model.Systems,
	"all_procedures":  model.Procedures,
	"all_datastreams": model.Datastreams,
	"all_fois":        model.SamplingFeatures,
}

// CollectionItemType maps a collection id to the entity type of its items
func CollectionItemType(collectionID string) (model.EntityType, bool) {
	t, ok := collectionItems[collectionID]
	return t, ok
}

func (c mandatoryCollection) document() map[string]any {
	return map[string]any{
		"id":          c.id,
		"type":        "collection",
		"title":       c.title,
		"description": c.description,
		"itemType":    "feature",
		"featureType": c.featureType,
		"links": []model.Link{
			{Rel: "self", Title: "This document (JSON)", Href: "/collections/" + c.id, Type: "application/json"},
			{Rel: "items", Title: fmt.Sprintf("Access the %s in this collection (HTML)", c.noun), Href: c.items, Type: "text/html"},
			{Rel: "items", Title: fmt.Sprintf("Access the %s in this collection (JSON)", c.noun), Href: c.items + "?f=application/json", Type: "application/json"},
		},
	}
}

// EnsureMandatoryCollections indexes the collections every server exposes.
// Existing documents are left untouched.
func (p *Provider) EnsureMandatoryCollections(ctx context.Context) error {
	for _, c := range mandatory {
		ok, err := p.meta.Exists(ctx, model.Collections, c.id)
		if err != nil {
			return provider.StoreError(err, model.Collections, c.id)
		}
		if ok {
			continue
		}
		if err := p.meta.Create(ctx, model.Collections, c.id, c.document()); err != nil {
			return provider.StoreError(err, model.Collections, c.id)
		}
		p.log.Info("created mandatory collection", "id", c.id)
	}
	return nil
}
