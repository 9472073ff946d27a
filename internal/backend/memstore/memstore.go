// Package memstore keeps metadata documents and observations in process memory.
// It backs tests and the single-node dev mode (CSA_BACKEND=memory). Spatial
// filters are not evaluated.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mohammed-shakir/connected-systems/internal/backend"
	"github.com/mohammed-shakir/connected-systems/internal/core/model"
	"github.com/mohammed-shakir/connected-systems/internal/core/params"
)

var hidden = []string{"validTime_parsed", "phenomenonTime_parsed", "resultTime_parsed", "system_ids"}

type index struct {
	order []string
	docs  map[string]map[string]any
}

type Metadata struct {
	mu      sync.RWMutex
	indices map[string]*index
}

var _ backend.MetadataStore = (*Metadata)(nil)

func NewMetadata() *Metadata {
	return &Metadata{indices: map[string]*index{}}
}

var empty = &index{docs: map[string]map[string]any{}}

// lookup is safe under the read lock, it never creates an index
func (m *Metadata) lookup(t model.EntityType) *index {
	if ix, ok := m.indices[t.Index()]; ok {
		return ix
	}
	return empty
}

func (m *Metadata) idx(t model.EntityType) *index {
	name := t.Index()
	ix, ok := m.indices[name]
	if !ok {
		ix = &index{docs: map[string]map[string]any{}}
		m.indices[name] = ix
	}
	return ix
}

func (m *Metadata) Ping(context.Context) error { return nil }

func (m *Metadata) Query(_ context.Context, t model.EntityType, p *params.Params) ([]json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ix := m.lookup(t)

	var matched []map[string]any
	for _, id := range ix.order {
		doc := ix.docs[id]
		if matches(t, id, doc, p) {
			matched = append(matched, doc)
		}
	}
	if p.Offset >= len(matched) {
		return []json.RawMessage{}, nil
	}
	end := min(p.Offset+p.Limit, len(matched))
	out := make([]json.RawMessage, 0, end-p.Offset)
	for _, doc := range matched[p.Offset:end] {
		b, err := json.Marshal(visible(doc))
		if err != nil {
			return nil, fmt.Errorf("marshal document: %w", err)
		}
		out = append(out, b)
	}
	return out, nil
}

func matches(t model.EntityType, id string, doc map[string]any, p *params.Params) bool {
	if p.HasIDs() && !slices.Contains(p.IDs, id) {
		return false
	}
	if len(p.Q) > 0 {
		text := strings.ToLower(fmt.Sprint(doc["name"], " ", doc["description"]))
		found := false
		for _, q := range p.Q {
			if q != "" && strings.Contains(text, strings.ToLower(q)) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	systemField := "system"
	if t == model.Deployments {
		systemField = "system_ids"
	}
	for field, values := range map[string][]string{
		"parent":             p.Parent,
		"procedure":          p.Procedure,
		"foi":                p.Foi,
		"observedProperty":   p.ObservedProperty,
		"controlledProperty": p.ControlledProperty,
		systemField:          p.System,
	} {
		if values != nil && !anyIn(doc[field], values) {
			return false
		}
	}
	if t == model.Systems && p.Parent == nil && !p.HasIDs() {
		if _, ok := doc["parent"]; ok {
			return false
		}
	}
	return overlaps(doc["validTime_parsed"], p.ValidTime) &&
		overlaps(doc["phenomenonTime_parsed"], p.PhenomenonTime) &&
		overlaps(doc["resultTime_parsed"], p.ResultTime)
}

func anyIn(v any, values []string) bool {
	switch x := v.(type) {
	case string:
		return slices.Contains(values, x)
	case []string:
		for _, s := range x {
			if slices.Contains(values, s) {
				return true
			}
		}
	case []any:
		for _, s := range x {
			if str, ok := s.(string); ok && slices.Contains(values, str) {
				return true
			}
		}
	}
	return false
}

// overlaps evaluates a date_range field {gte,lte} against a query interval
func overlaps(field any, ti model.TimeInterval) bool {
	if ti.IsZero() {
		return true
	}
	r, ok := field.(map[string]any)
	if !ok {
		return false
	}
	lo, hi := bound(r["gte"]), bound(r["lte"])
	if ti.End != nil && lo != nil && lo.After(*ti.End) {
		return false
	}
	if ti.Start != nil && hi != nil && hi.Before(*ti.Start) {
		return false
	}
	return true
}

func bound(v any) *time.Time {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	return &t
}

func visible(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		if !slices.Contains(hidden, k) {
			out[k] = v
		}
	}
	return out
}

func (m *Metadata) Exists(_ context.Context, t model.EntityType, id string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.lookup(t).docs[id]
	return ok, nil
}

func (m *Metadata) CountWhere(ctx context.Context, t model.EntityType, field, value string) (int, error) {
	ids, err := m.IDsWhere(ctx, t, field, value)
	return len(ids), err
}

func (m *Metadata) IDsWhere(_ context.Context, t model.EntityType, field, value string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ix := m.lookup(t)
	var ids []string
	for _, id := range ix.order {
		if anyIn(ix.docs[id][field], []string{value}) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *Metadata) Get(_ context.Context, t model.EntityType, id string) (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.lookup(t).docs[id]
	if !ok {
		return nil, backend.ErrNotFound
	}
	return visible(doc), nil
}

func (m *Metadata) Create(_ context.Context, t model.EntityType, id string, doc map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ix := m.idx(t)
	if _, ok := ix.docs[id]; ok {
		return backend.ErrConflict
	}
	ix.docs[id] = clone(doc)
	ix.order = append(ix.order, id)
	return nil
}

func (m *Metadata) Replace(_ context.Context, t model.EntityType, id string, doc map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ix := m.idx(t)
	if _, ok := ix.docs[id]; !ok {
		ix.order = append(ix.order, id)
	}
	ix.docs[id] = clone(doc)
	return nil
}

func (m *Metadata) Update(_ context.Context, t model.EntityType, id string, partial map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.idx(t).docs[id]
	if !ok {
		return backend.ErrNotFound
	}
	for k, v := range partial {
		doc[k] = v
	}
	return nil
}

func (m *Metadata) Delete(_ context.Context, t model.EntityType, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ix := m.idx(t)
	if _, ok := ix.docs[id]; !ok {
		return backend.ErrNotFound
	}
	delete(ix.docs, id)
	ix.order = slices.DeleteFunc(ix.order, func(s string) bool { return s == id })
	return nil
}

// clone normalizes doc through json so stored values look like decoded search hits
func clone(doc map[string]any) map[string]any {
	b, err := json.Marshal(doc)
	if err != nil {
		return doc
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return doc
	}
	return out
}

type TimeSeries struct {
	mu   sync.RWMutex
	rows []model.Observation
}

var _ backend.TimeSeriesStore = (*TimeSeries)(nil)

func NewTimeSeries() *TimeSeries { return &TimeSeries{} }

func (s *TimeSeries) Ping(context.Context) error { return nil }

func (s *TimeSeries) Observations(_ context.Context, p *params.Params) ([]model.Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []model.Observation
	for _, o := range s.rows {
		if p.HasIDs() && !slices.Contains(p.IDs, o.ID) {
			continue
		}
		if len(p.Datastream) > 0 && !slices.Contains(p.Datastream, o.DatastreamID) {
			continue
		}
		if len(p.Foi) > 0 && !slices.Contains(p.Foi, o.SamplingFeatureID) {
			continue
		}
		if !within(&o.ResultTime, p.ResultTime) || !within(o.PhenomenonTime, p.PhenomenonTime) {
			continue
		}
		matched = append(matched, o)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].ResultTime.Equal(matched[j].ResultTime) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].ResultTime.Before(matched[j].ResultTime)
	})
	if p.Offset >= len(matched) {
		return []model.Observation{}, nil
	}
	return matched[p.Offset:min(p.Offset+p.Limit, len(matched))], nil
}

func within(t *time.Time, ti model.TimeInterval) bool {
	if ti.IsZero() {
		return true
	}
	if t == nil {
		return false
	}
	if ti.Start != nil && t.Before(*ti.Start) {
		return false
	}
	if ti.End != nil && t.After(*ti.End) {
		return false
	}
	return true
}

func (s *TimeSeries) HasObservations(_ context.Context, datastreamID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.rows {
		if o.DatastreamID == datastreamID {
			return true, nil
		}
	}
	return false, nil
}

func (s *TimeSeries) InsertBatch(_ context.Context, obs []model.Observation) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]bool{}
	for _, o := range s.rows {
		seen[o.ID] = true
	}
	ids := make([]string, len(obs))
	rows := make([]model.Observation, 0, len(obs))
	for i, o := range obs {
		if o.ID == "" {
			o.ID = uuid.NewString()
		}
		if seen[o.ID] {
			return nil, fmt.Errorf("observation %s: %w", o.ID, backend.ErrConflict)
		}
		seen[o.ID] = true
		ids[i] = o.ID
		rows = append(rows, o)
	}
	s.rows = append(s.rows, rows...)
	return ids, nil
}

func (s *TimeSeries) DeleteByID(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.rows)
	s.rows = slices.DeleteFunc(s.rows, func(o model.Observation) bool { return o.ID == id })
	return len(s.rows) < n, nil
}
