// Package cache keeps rendered listing responses in Redis. Every entity type has
// a generation counter that is part of each key. Bumping it after a write makes
// all earlier entries of that type unreachable until they expire.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/mohammed-shakir/connected-systems/internal/cache/keys"
	"github.com/mohammed-shakir/connected-systems/internal/core/model"
	"github.com/mohammed-shakir/connected-systems/internal/core/observability"
	"github.com/mohammed-shakir/connected-systems/internal/hotness"
)

type Interface interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Incr(ctx context.Context, key string) (int64, error)
}

// Entry is one cached response
type Entry struct {
	Status      int    `json:"status"`
	ContentType string `json:"contentType"`
	Body        []byte `json:"body"`
}

type Listing struct {
	store     Interface
	ttl       time.Duration
	opTimeout time.Duration
	log       *slog.Logger

	hot      hotness.Interface
	minScore float64
}

func NewListing(logger *slog.Logger, store Interface, ttl, opTimeout time.Duration) *Listing {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if opTimeout <= 0 {
		opTimeout = 250 * time.Millisecond
	}
	return &Listing{store: store, ttl: ttl, opTimeout: opTimeout, log: logger}
}

// WithAdmission stores a listing only once its query scored at least minScore
func (l *Listing) WithAdmission(h hotness.Interface, minScore float64) *Listing {
	l.hot, l.minScore = h, minScore
	return l
}

type sizer interface{ Size() int }

// admit records the request and reports whether its response may be stored
func (l *Listing) admit(canonical string) bool {
	if l.hot == nil {
		return true
	}
	l.hot.Inc(canonical)
	if s, ok := l.hot.(sizer); ok {
		observability.SetHotQueries(s.Size())
	}
	return l.hot.Score(canonical) >= l.minScore
}

// Cacheable reports whether listings of t go through the cache. Observations
// and datastreams change too often to be worth it.
func Cacheable(t model.EntityType) bool {
	switch t {
	case model.Systems, model.Deployments, model.Procedures, model.SamplingFeatures,
		model.Properties, model.Collections:
		return true
	default:
		return false
	}
}

// Affected lists the types whose cached listings a write to t can change
func Affected(t model.EntityType) []model.EntityType {
	switch t {
	case model.Systems:
		// deployments and sampling features are listed below their system
		return []model.EntityType{model.Systems, model.Deployments, model.SamplingFeatures}
	case model.DatastreamsSchema:
		return []model.EntityType{model.Datastreams}
	default:
		return []model.EntityType{t}
	}
}

// Lookup returns the cached entry for canonical and the key to store a fresh
// one under. An empty key means the cache is unavailable for this request.
func (l *Listing) Lookup(ctx context.Context, t model.EntityType, canonical string) (Entry, string, bool) {
	ctx, cancel := context.WithTimeout(ctx, l.opTimeout)
	defer cancel()

	gen, err := l.generation(ctx, t)
	if err != nil {
		l.fail("generation", err)
		return Entry{}, "", false
	}
	key := keys.List(t.String(), gen, canonical)
	b, ok, err := l.store.Get(ctx, key)
	if err != nil {
		l.fail("get", err)
		return Entry{}, "", false
	}
	if !ok {
		observability.IncCacheMiss()
		if !l.admit(canonical) {
			observability.IncCacheSkip()
			return Entry{}, "", false
		}
		return Entry{}, key, false
	}
	var e Entry
	if err := json.Unmarshal(b, &e); err != nil {
		l.fail("decode", err)
		return Entry{}, key, false
	}
	observability.IncCacheHit()
	return e, key, true
}

func (l *Listing) generation(ctx context.Context, t model.EntityType) (int64, error) {
	b, ok, err := l.store.Get(ctx, keys.Generation(t.String()))
	if err != nil || !ok {
		return 0, err
	}
	return strconv.ParseInt(string(b), 10, 64)
}

func (l *Listing) Store(ctx context.Context, key string, e Entry) {
	if key == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, l.opTimeout)
	defer cancel()
	b, err := json.Marshal(e)
	if err != nil {
		l.fail("encode", err)
		return
	}
	if err := l.store.Set(ctx, key, b, l.ttl); err != nil {
		l.fail("set", err)
	}
}

// Invalidate bumps the generation of every type in ts
func (l *Listing) Invalidate(ctx context.Context, ts ...model.EntityType) error {
	ctx, cancel := context.WithTimeout(ctx, l.opTimeout)
	defer cancel()
	var errs []error
	for _, t := range ts {
		if _, err := l.store.Incr(ctx, keys.Generation(t.String())); err != nil {
			l.fail("incr", err)
			errs = append(errs, fmt.Errorf("bump %s: %w", t, err))
		}
	}
	return errors.Join(errs...)
}

func (l *Listing) fail(op string, err error) {
	observability.IncCacheError()
	l.log.Warn("listing cache unavailable", "op", op, "err", err)
}
