package part1

import (
	"context"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/mohammed-shakir/connected-systems/internal/backend/memstore"
	"github.com/mohammed-shakir/connected-systems/internal/core/apierr"
	"github.com/mohammed-shakir/connected-systems/internal/core/integrity"
	"github.com/mohammed-shakir/connected-systems/internal/core/model"
	"github.com/mohammed-shakir/connected-systems/internal/core/params"
)

func newProvider(t *testing.T) (*Provider, *memstore.Metadata) {
	t.Helper()
	meta := memstore.NewMetadata()
	guard, err := integrity.New(meta, memstore.NewTimeSeries(), 8)
	if err != nil {
		t.Fatalf("integrity.New: %v", err)
	}
	p := New(slog.New(slog.NewTextHandler(io.Discard, nil)), meta, guard)
	p.now = func() time.Time { return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) }
	return p, meta
}

func TestCreate_GeneratesIDsAndRejectsDuplicates(t *testing.T) {
	p, _ := newProvider(t)
	ctx := context.Background()

	ids, err := p.Create(ctx, model.Procedures, []map[string]any{{"name": "a"}, {"id": "p2", "name": "b"}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(ids) != 2 || len(ids[0]) != 36 || ids[1] != "p2" {
		t.Fatalf("ids=%v", ids)
	}

	_, err = p.Create(ctx, model.Procedures, []map[string]any{{"id": "p2"}})
	if !apierr.IsKind(err, apierr.InvalidParameterValue) {
		t.Fatalf("err=%v want InvalidParameterValue", err)
	}
	if d := err.(*apierr.Error).Description; d != "entity with id p2 already exists!" {
		t.Fatalf("description=%q", d)
	}
}

func TestCreate_SystemValidTimeAndParent(t *testing.T) {
	p, meta := newProvider(t)
	ctx := context.Background()

	_, err := p.Create(ctx, model.Systems, []map[string]any{{"id": "s1", "validTime": []any{"2020-01-01T00:00:00Z", "now"}}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	doc, _ := meta.Get(ctx, model.Systems, "s1")
	if doc["validTime"] == nil {
		t.Fatalf("validTime dropped: %v", doc)
	}
	p2 := params.New(params.KindSystems)
	p2.ValidTime = model.TimeInterval{Start: ptr(time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC))}
	page, err := p.Query(ctx, model.Systems, p2)
	if err != nil || len(page.Items) != 1 {
		t.Fatalf("validTime query page=%+v err=%v", page, err)
	}
	if strings.Contains(string(page.Items[0]), "validTime_parsed") {
		t.Fatalf("internal field leaked: %s", page.Items[0])
	}

	_, err = p.Create(ctx, model.Systems, []map[string]any{{"id": "s2", "parent": "nope"}})
	if !apierr.IsKind(err, apierr.ItemNotFound) {
		t.Fatalf("missing parent err=%v want ItemNotFound", err)
	}
	if _, err := p.Create(ctx, model.Systems, []map[string]any{{"id": "s2", "parent": "s1"}}); err != nil {
		t.Fatalf("subsystem: %v", err)
	}
	if err := p.Delete(ctx, model.Systems, "s1", false); !apierr.IsKind(err, apierr.Conflict) {
		t.Fatalf("delete parent err=%v want Conflict", err)
	}
}

func TestCreate_DeploymentResolvesURN(t *testing.T) {
	p, meta := newProvider(t)
	ctx := context.Background()
	_ = meta.Create(ctx, model.Systems, "s1", map[string]any{"id": "s1", "uniqueId": "urn:x:1"})

	deployment := map[string]any{
		"id": "d1",
		"deployedSystems": []any{
			map[string]any{"system": map[string]any{"href": "urn:x:1"}},
			map[string]any{"system": map[string]any{"href": "http://host/systems/s9"}},
		},
	}
	if _, err := p.Create(ctx, model.Deployments, []map[string]any{deployment}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	q := params.New(params.KindDeployments)
	q.System = []string{"s1"}
	page, err := p.Query(ctx, model.Deployments, q)
	if err != nil || len(page.Items) != 1 {
		t.Fatalf("by system page=%+v err=%v", page, err)
	}
	n, _ := meta.CountWhere(ctx, model.Deployments, "system_ids", "s9")
	if n != 1 {
		t.Fatalf("href id not linked")
	}

	bad := map[string]any{"deployedSystems": []any{map[string]any{"system": map[string]any{"href": "urn:x:404"}}}}
	_, err = p.Create(ctx, model.Deployments, []map[string]any{bad})
	if !apierr.IsKind(err, apierr.InvalidParameterValue) {
		t.Fatalf("err=%v want InvalidParameterValue", err)
	}
	if d := err.(*apierr.Error).Description; d != "cannot find local system with urn: urn:x:404" {
		t.Fatalf("description=%q", d)
	}
}

func TestReplaceUpdateDelete(t *testing.T) {
	p, meta := newProvider(t)
	ctx := context.Background()
	_ = meta.Create(ctx, model.Systems, "root", map[string]any{"id": "root"})
	_ = meta.Create(ctx, model.Systems, "s1", map[string]any{"id": "s1", "name": "old", "parent": "root"})

	if err := p.Replace(ctx, model.Systems, "s1", map[string]any{"name": "new"}); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	doc, _ := meta.Get(ctx, model.Systems, "s1")
	want := map[string]any{"id": "s1", "name": "new", "parent": "root"}
	if !reflect.DeepEqual(doc, want) {
		t.Fatalf("doc=%v want %v", doc, want)
	}

	if err := p.Update(ctx, model.Systems, "s1", map[string]any{"description": "d"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	doc, _ = meta.Get(ctx, model.Systems, "s1")
	if doc["description"] != "d" || doc["name"] != "new" {
		t.Fatalf("doc=%v", doc)
	}

	if err := p.Replace(ctx, model.Systems, "nope", map[string]any{}); !apierr.IsKind(err, apierr.ItemNotFound) {
		t.Fatalf("replace missing err=%v", err)
	}
	if err := p.Update(ctx, model.Properties, "nope", map[string]any{}); !apierr.IsKind(err, apierr.ItemNotFound) {
		t.Fatalf("update missing err=%v", err)
	}
	if err := p.Delete(ctx, model.Systems, "s1", true); !apierr.IsKind(err, apierr.GenericProviderError) {
		t.Fatalf("cascade err=%v", err)
	}
	if err := p.Delete(ctx, model.Systems, "s1", false); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := p.Delete(ctx, model.Systems, "s1", false); !apierr.IsKind(err, apierr.ItemNotFound) {
		t.Fatalf("delete missing err=%v", err)
	}
}

func TestEnsureMandatoryCollections(t *testing.T) {
	p, meta := newProvider(t)
	ctx := context.Background()
	_ = meta.Create(ctx, model.Collections, "all_systems", map[string]any{"id": "all_systems", "title": "custom"})

	for range 2 {
		if err := p.EnsureMandatoryCollections(ctx); err != nil {
			t.Fatalf("EnsureMandatoryCollections: %v", err)
		}
	}
	page, err := p.Query(ctx, model.Collections, params.New(params.KindCollection))
	if err != nil || len(page.Items) != 4 {
		t.Fatalf("collections page=%+v err=%v", page, err)
	}
	doc, _ := meta.Get(ctx, model.Collections, "all_systems")
	if doc["title"] != "custom" {
		t.Fatalf("existing collection overwritten: %v", doc)
	}
	doc, _ = meta.Get(ctx, model.Collections, "all_fois")
	if doc["featureType"] != "featureOfInterest" || doc["itemType"] != "feature" {
		t.Fatalf("all_fois=%v", doc)
	}

	if et, ok := CollectionItemType("all_fois"); !ok || et != model.SamplingFeatures {
		t.Fatalf("all_fois items=%v,%v", et, ok)
	}
	if _, ok := CollectionItemType("other"); ok {
		t.Fatalf("unknown collection must not map")
	}
}

func ptr(t time.Time) *time.Time { return &t }
