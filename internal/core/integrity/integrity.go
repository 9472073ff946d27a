// Package integrity enforces cross-entity reference rules before writes and deletes.
// Observations live in another store than the datastreams they reference, so
// these checks stand in for foreign keys.
package integrity

import (
	"context"
	"errors"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mohammed-shakir/connected-systems/internal/backend"
	"github.com/mohammed-shakir/connected-systems/internal/core/apierr"
	"github.com/mohammed-shakir/connected-systems/internal/core/model"
	"github.com/mohammed-shakir/connected-systems/internal/core/observability"
)

const nestedSystem = "cannot delete system with nested resources and cascade=false"

type Guard struct {
	meta backend.MetadataStore
	ts   backend.TimeSeriesStore
	// datastream ids known to exist
	known *lru.Cache[string, struct{}]
}

func New(meta backend.MetadataStore, ts backend.TimeSeriesStore, cacheSize int) (*Guard, error) {
	if cacheSize <= 0 {
		cacheSize = 128
	}
	known, err := lru.New[string, struct{}](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Guard{meta: meta, ts: ts, known: known}, nil
}

// dependents of a system, each must be empty for a plain delete
var systemDependents = []struct {
	t     model.EntityType
	field string
}{
	{model.Systems, "parent"},
	{model.Deployments, "system_ids"},
	{model.SamplingFeatures, "system"},
	{model.Datastreams, "system"},
}

func (g *Guard) CheckSystemDelete(ctx context.Context, id string, cascade bool) error {
	if cascade {
		return apierr.New(apierr.GenericProviderError, "cascade=true is not implemented yet!")
	}
	for _, dep := range systemDependents {
		n, err := g.meta.CountWhere(ctx, dep.t, dep.field, id)
		if err != nil {
			return apierr.Provider(err, "error while deleting: cannot check %s of system %s", dep.t, id)
		}
		if n > 0 {
			observability.IncIntegrityRejection(model.Systems.String(), dep.t.String())
			return apierr.Conflictf(nestedSystem)
		}
	}
	return nil
}

func (g *Guard) CheckDatastreamDelete(ctx context.Context, id string) error {
	has, err := g.hasObservations(ctx, id)
	if err != nil {
		return err
	}
	if has {
		observability.IncIntegrityRejection(model.Datastreams.String(), "observations")
		return apierr.Conflictf("cannot delete datastream with associated observations")
	}
	return nil
}

func (g *Guard) CheckSchemaChange(ctx context.Context, id string) error {
	has, err := g.hasObservations(ctx, id)
	if err != nil {
		return err
	}
	if has {
		observability.IncIntegrityRejection(model.DatastreamsSchema.String(), "observations")
		return apierr.Conflictf("cannot update/replace schema of datastream which has associated observations")
	}
	return nil
}

func (g *Guard) hasObservations(ctx context.Context, id string) (bool, error) {
	has, err := g.ts.HasObservations(ctx, id)
	if err != nil {
		return false, apierr.Provider(err, "cannot check observations of datastream %s", id)
	}
	return has, nil
}

func (g *Guard) CheckDatastreamCreate(ctx context.Context, systemID string) error {
	return g.mustExist(ctx, model.Systems, systemID, "no system with id %s found!")
}

func (g *Guard) CheckSystemParent(ctx context.Context, parentID string) error {
	return g.mustExist(ctx, model.Systems, parentID, "cannot find parent system with id: %s")
}

// CheckObservationCreate remembers datastreams that were found so a batch of
// observations costs one metadata lookup.
func (g *Guard) CheckObservationCreate(ctx context.Context, datastreamID string) error {
	if g.known.Contains(datastreamID) {
		return nil
	}
	if err := g.mustExist(ctx, model.Datastreams, datastreamID, "no datastream with id %s found!"); err != nil {
		return err
	}
	g.known.Add(datastreamID, struct{}{})
	return nil
}

// ForgetDatastream drops a deleted datastream from the existence cache
func (g *Guard) ForgetDatastream(id string) {
	g.known.Remove(id)
}

func (g *Guard) mustExist(ctx context.Context, t model.EntityType, id, msg string) error {
	ok, err := g.meta.Exists(ctx, t, id)
	if err != nil && !errors.Is(err, backend.ErrNotFound) {
		return apierr.Provider(err, "cannot check %s %s", t, id)
	}
	if !ok {
		observability.IncIntegrityRejection(t.String(), "missing")
		return apierr.NotFound(msg, id)
	}
	return nil
}
