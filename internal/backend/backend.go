// Package backend declares the storage contracts the providers are written against.
// The elastic and timescale packages implement them.
package backend

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/mohammed-shakir/connected-systems/internal/core/model"
	"github.com/mohammed-shakir/connected-systems/internal/core/params"
)

var (
	ErrNotFound = errors.New("document not found")
	ErrConflict = errors.New("document already exists")
)

// MetadataStore holds systems, deployments, procedures, sampling features,
// properties, datastreams and collections as json documents.
type MetadataStore interface {
	// Query translates p into a backend query and returns the matching documents
	Query(ctx context.Context, t model.EntityType, p *params.Params) ([]json.RawMessage, error)
	Exists(ctx context.Context, t model.EntityType, id string) (bool, error)
	// CountWhere counts documents of t whose field equals value
	CountWhere(ctx context.Context, t model.EntityType, field, value string) (int, error)
	// IDsWhere returns the ids of documents of t whose field equals value
	IDsWhere(ctx context.Context, t model.EntityType, field, value string) ([]string, error)
	Get(ctx context.Context, t model.EntityType, id string) (map[string]any, error)
	Create(ctx context.Context, t model.EntityType, id string, doc map[string]any) error
	Replace(ctx context.Context, t model.EntityType, id string, doc map[string]any) error
	Update(ctx context.Context, t model.EntityType, id string, partial map[string]any) error
	Delete(ctx context.Context, t model.EntityType, id string) error
	Ping(ctx context.Context) error
}

// TimeSeriesStore holds observation rows
type TimeSeriesStore interface {
	Observations(ctx context.Context, p *params.Params) ([]model.Observation, error)
	HasObservations(ctx context.Context, datastreamID string) (bool, error)
	// InsertBatch writes all rows in one transaction and returns their ids
	InsertBatch(ctx context.Context, obs []model.Observation) ([]string, error)
	// DeleteByID reports whether a row was removed
	DeleteByID(ctx context.Context, id string) (bool, error)
	Ping(ctx context.Context) error
}
