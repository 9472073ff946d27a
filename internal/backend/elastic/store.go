// Package elastic stores connected-systems metadata documents in Elasticsearch.
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/mohammed-shakir/connected-systems/internal/backend"
	"github.com/mohammed-shakir/connected-systems/internal/core/config"
	"github.com/mohammed-shakir/connected-systems/internal/core/model"
	"github.com/mohammed-shakir/connected-systems/internal/core/observability"
	"github.com/mohammed-shakir/connected-systems/internal/core/params"
)

const whereLimit = 100

type Option func(*elasticsearch.Config)

func WithTransport(rt http.RoundTripper) Option {
	return func(c *elasticsearch.Config) { c.Transport = rt }
}

func WithMaxRetries(n int) Option {
	return func(c *elasticsearch.Config) { c.MaxRetries = n }
}

type Store struct {
	es     *elasticsearch.Client
	prefix string
	// refresh policy for writes, reads after writes must see the change
	refresh string
}

var _ backend.MetadataStore = (*Store)(nil)

func New(ctx context.Context, cfg config.ElasticCfg, opts ...Option) (*Store, error) {
	if len(cfg.Addresses) == 0 {
		return nil, errors.New("elasticsearch address is required")
	}
	ec := elasticsearch.Config{
		Addresses:  cfg.Addresses,
		Username:   cfg.Username,
		Password:   cfg.Password,
		MaxRetries: 3,
	}
	for _, f := range opts {
		f(&ec)
	}
	es, err := elasticsearch.NewClient(ec)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch client: %w", err)
	}
	s := &Store{es: es, prefix: cfg.IndexPrefix, refresh: "true"}
	if err := s.Ping(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) index(t model.EntityType) string { return s.prefix + t.Index() }

func (s *Store) Ping(ctx context.Context) error {
	start := time.Now()
	res, err := s.es.Info(s.es.Info.WithContext(ctx))
	err = check(res, err)
	observability.ObserveBackendOp("elastic", "ping", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("elasticsearch ping: %w", err)
	}
	return nil
}

// EnsureIndices creates every missing index with its mapping
func (s *Store) EnsureIndices(ctx context.Context) error {
	for _, t := range indexedTypes {
		name := s.index(t)
		res, err := s.es.Indices.Exists([]string{name}, s.es.Indices.Exists.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("index exists %s: %w", name, err)
		}
		drain(res)
		if res.StatusCode == http.StatusOK {
			continue
		}
		body, err := json.Marshal(mapping(t))
		if err != nil {
			return fmt.Errorf("marshal mapping %s: %w", name, err)
		}
		res, err = s.es.Indices.Create(name,
			s.es.Indices.Create.WithContext(ctx),
			s.es.Indices.Create.WithBody(bytes.NewReader(body)),
		)
		if err := check(res, err); err != nil {
			return fmt.Errorf("create index %s: %w", name, err)
		}
	}
	return nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string          `json:"_id"`
			Source json.RawMessage `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func (s *Store) Query(ctx context.Context, t model.EntityType, p *params.Params) ([]json.RawMessage, error) {
	q, err := BuildQuery(t, p)
	if err != nil {
		return nil, err
	}
	sr, err := s.search(ctx, "query", t, q)
	if err != nil {
		return nil, err
	}
	out := make([]json.RawMessage, 0, len(sr.Hits.Hits))
	for _, h := range sr.Hits.Hits {
		out = append(out, h.Source)
	}
	return out, nil
}

func (s *Store) IDsWhere(ctx context.Context, t model.EntityType, field, value string) ([]string, error) {
	q := TermQuery(field, value, whereLimit)
	q["_source"] = false
	sr, err := s.search(ctx, "ids_where", t, q)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(sr.Hits.Hits))
	for _, h := range sr.Hits.Hits {
		ids = append(ids, h.ID)
	}
	return ids, nil
}

func (s *Store) search(ctx context.Context, op string, t model.EntityType, q Query) (*searchResponse, error) {
	start := time.Now()
	body, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}
	res, err := s.es.Search(
		s.es.Search.WithContext(ctx),
		s.es.Search.WithIndex(s.index(t)),
		s.es.Search.WithBody(bytes.NewReader(body)),
	)
	var sr searchResponse
	err = decode(res, err, &sr)
	observability.ObserveBackendOp("elastic", op, err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", s.index(t), err)
	}
	return &sr, nil
}

func (s *Store) CountWhere(ctx context.Context, t model.EntityType, field, value string) (int, error) {
	start := time.Now()
	body, err := json.Marshal(map[string]any{
		"query": map[string]any{"term": map[string]any{field: value}},
	})
	if err != nil {
		return 0, fmt.Errorf("marshal count: %w", err)
	}
	res, err := s.es.Count(
		s.es.Count.WithContext(ctx),
		s.es.Count.WithIndex(s.index(t)),
		s.es.Count.WithBody(bytes.NewReader(body)),
	)
	var cr struct {
		Count int `json:"count"`
	}
	err = decode(res, err, &cr)
	observability.ObserveBackendOp("elastic", "count", err, time.Since(start).Seconds())
	if err != nil {
		return 0, fmt.Errorf("count %s where %s: %w", s.index(t), field, err)
	}
	return cr.Count, nil
}

func (s *Store) Exists(ctx context.Context, t model.EntityType, id string) (bool, error) {
	start := time.Now()
	res, err := s.es.Exists(s.index(t), id, s.es.Exists.WithContext(ctx))
	if err == nil {
		drain(res)
		switch res.StatusCode {
		case http.StatusOK, http.StatusNotFound:
		default:
			err = fmt.Errorf("unexpected status %d", res.StatusCode)
		}
	}
	observability.ObserveBackendOp("elastic", "exists", err, time.Since(start).Seconds())
	if err != nil {
		return false, fmt.Errorf("exists %s/%s: %w", s.index(t), id, err)
	}
	return res.StatusCode == http.StatusOK, nil
}

func (s *Store) Get(ctx context.Context, t model.EntityType, id string) (map[string]any, error) {
	start := time.Now()
	res, err := s.es.Get(s.index(t), id,
		s.es.Get.WithContext(ctx),
		s.es.Get.WithSourceExcludes(internalFields...),
	)
	var gr struct {
		Found  bool           `json:"found"`
		Source map[string]any `json:"_source"`
	}
	err = decode(res, err, &gr)
	observability.ObserveBackendOp("elastic", "get", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", s.index(t), id, err)
	}
	if !gr.Found {
		return nil, backend.ErrNotFound
	}
	return gr.Source, nil
}

func (s *Store) Create(ctx context.Context, t model.EntityType, id string, doc map[string]any) error {
	return s.write("create", t, id, doc, func(body io.Reader) (*esapi.Response, error) {
		return s.es.Create(s.index(t), id, body,
			s.es.Create.WithContext(ctx),
			s.es.Create.WithRefresh(s.refresh),
		)
	})
}

func (s *Store) Replace(ctx context.Context, t model.EntityType, id string, doc map[string]any) error {
	return s.write("replace", t, id, doc, func(body io.Reader) (*esapi.Response, error) {
		return s.es.Index(s.index(t), body,
			s.es.Index.WithContext(ctx),
			s.es.Index.WithDocumentID(id),
			s.es.Index.WithRefresh(s.refresh),
		)
	})
}

func (s *Store) Update(ctx context.Context, t model.EntityType, id string, partial map[string]any) error {
	return s.write("update", t, id, map[string]any{"doc": partial}, func(body io.Reader) (*esapi.Response, error) {
		return s.es.Update(s.index(t), id, body,
			s.es.Update.WithContext(ctx),
			s.es.Update.WithRefresh(s.refresh),
		)
	})
}

func (s *Store) Delete(ctx context.Context, t model.EntityType, id string) error {
	start := time.Now()
	res, err := s.es.Delete(s.index(t), id,
		s.es.Delete.WithContext(ctx),
		s.es.Delete.WithRefresh(s.refresh),
	)
	err = check(res, err)
	observability.ObserveBackendOp("elastic", "delete", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", s.index(t), id, err)
	}
	return nil
}

func (s *Store) write(
	op string,
	t model.EntityType,
	id string,
	doc map[string]any,
	do func(io.Reader) (*esapi.Response, error),
) error {
	start := time.Now()
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", id, err)
	}
	res, err := do(bytes.NewReader(body))
	err = check(res, err)
	observability.ObserveBackendOp("elastic", op, err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("%s %s/%s: %w", op, s.index(t), id, err)
	}
	return nil
}

// check maps a response to backend sentinels and always closes the body
func check(res *esapi.Response, err error) error {
	if err != nil {
		return err
	}
	defer drain(res)
	if !res.IsError() {
		return nil
	}
	switch res.StatusCode {
	case http.StatusNotFound:
		return backend.ErrNotFound
	case http.StatusConflict:
		return backend.ErrConflict
	}
	b, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
	return fmt.Errorf("status %d: %s", res.StatusCode, bytes.TrimSpace(b))
}

func decode(res *esapi.Response, err error, out any) error {
	if err != nil {
		return err
	}
	if res.IsError() {
		// get of a missing document answers 404 with found=false
		if res.StatusCode == http.StatusNotFound {
			defer drain(res)
			if jerr := json.NewDecoder(res.Body).Decode(out); jerr == nil {
				return nil
			}
			return backend.ErrNotFound
		}
		return check(res, nil)
	}
	defer drain(res)
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func drain(res *esapi.Response) {
	if res == nil || res.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, res.Body)
	_ = res.Body.Close()
}
