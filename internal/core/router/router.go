// Package router dispatches entity requests to the provider serving their type
// and renders the uniform (header, status, body) response.
package router

import (
	"bytes"
	"context"
	"encoding/json"
	"html"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"github.com/mohammed-shakir/connected-systems/internal/cache"
	"github.com/mohammed-shakir/connected-systems/internal/cache/keys"
	"github.com/mohammed-shakir/connected-systems/internal/core/apierr"
	"github.com/mohammed-shakir/connected-systems/internal/core/model"
	"github.com/mohammed-shakir/connected-systems/internal/core/ogc"
	"github.com/mohammed-shakir/connected-systems/internal/core/params"
	"github.com/mohammed-shakir/connected-systems/internal/core/schema"
	"github.com/mohammed-shakir/connected-systems/internal/invalidation"
	"github.com/mohammed-shakir/connected-systems/internal/logger"
	"github.com/mohammed-shakir/connected-systems/internal/provider"
)

type Op int

const (
	OpGet Op = iota
	OpCreate
	OpReplace
	OpUpdate
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpCreate:
		return invalidation.OpCreate
	case OpReplace:
		return invalidation.OpReplace
	case OpUpdate:
		return invalidation.OpUpdate
	case OpDelete:
		return invalidation.OpDelete
	default:
		return "get"
	}
}

// Request is one transport independent call. PathKey and PathValue carry the
// filter taken from the url path, e.g. ("parent", "sys-42") for subsystems.
type Request struct {
	Type      model.EntityType
	Op        Op
	PathKey   string
	PathValue string
	Query     url.Values
	// URL is the absolute request url without query string
	URL     string
	Body    []byte
	Cascade bool
	Accept  string
}

type Response struct {
	Header http.Header
	Status int
	Body   []byte
}

type Listing interface {
	Lookup(ctx context.Context, t model.EntityType, canonical string) (cache.Entry, string, bool)
	Store(ctx context.Context, key string, e cache.Entry)
	Invalidate(ctx context.Context, ts ...model.EntityType) error
}

type Emitter interface {
	Emit(ctx context.Context, op string, t model.EntityType, ids []string, bodies []map[string]any)
}

type Options struct {
	BaseURL       string
	MaxLimit      int
	ValidatePatch bool
	Now           func() time.Time
	// Cache and Events are optional
	Cache  Listing
	Events Emitter
}

type Router struct {
	providers map[model.EntityType]provider.Provider
	schemas   *schema.Registry
	log       *slog.Logger
	opts      Options
}

var idPattern = regexp.MustCompile(`^[\w-]+$`)

// New builds the static type table. part1 serves the metadata entities, part2
// datastreams and observations.
func New(log *slog.Logger, schemas *schema.Registry, part1, part2 provider.Provider, opts Options) *Router {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Router{
		providers: map[model.EntityType]provider.Provider{
			model.Systems:           part1,
			model.Deployments:       part1,
			model.Procedures:        part1,
			model.SamplingFeatures:  part1,
			model.Properties:        part1,
			model.Collections:       part1,
			model.Datastreams:       part2,
			model.DatastreamsSchema: part2,
			model.Observations:      part2,
		},
		schemas: schemas,
		log:     log,
		opts:    opts,
	}
}

func (r *Router) Dispatch(ctx context.Context, req Request) Response {
	ctx = logger.WithEntityType(ctx, req.Type.String())
	ctx = logger.WithOperation(ctx, req.Op.String())

	resp, err := r.dispatch(ctx, req)
	if err != nil {
		return r.failure(ctx, err)
	}
	return resp
}

func (r *Router) dispatch(ctx context.Context, req Request) (Response, error) {
	prov, ok := r.providers[req.Type]
	if !ok {
		return Response{}, provider.Unsupported(req.Type)
	}
	if req.PathKey != "" && !idPattern.MatchString(req.PathValue) {
		return Response{}, apierr.Value("entity identifier is malformed!")
	}

	switch req.Op {
	case OpGet:
		return r.get(ctx, prov, req)
	case OpCreate:
		return r.create(ctx, prov, req)
	case OpReplace, OpUpdate:
		return r.modify(ctx, prov, req)
	case OpDelete:
		if req.PathKey != "id" {
			return Response{}, apierr.Query("delete needs an entity id")
		}
		if err := prov.Delete(ctx, req.Type, req.PathValue, req.Cascade); err != nil {
			return Response{}, err
		}
		r.changed(ctx, req.Op, req.Type, []string{req.PathValue}, nil)
		return noContent(), nil
	default:
		return Response{}, apierr.Query("unsupported operation")
	}
}

func (r *Router) get(ctx context.Context, prov provider.Provider, req Request) (Response, error) {
	format, ok := ogc.Negotiate(req.Type, req.Query.Get(params.NameFormat.String()), req.Accept)
	if !ok {
		return Response{}, apierr.Value("unsupported format: %s", req.Query.Get(params.NameFormat.String()))
	}

	// path wins over query string
	q := url.Values{}
	for k, v := range req.Query {
		q[k] = v
	}
	if req.PathKey != "" {
		q.Set(req.PathKey, req.PathValue)
	}
	// a single item is never paged
	if req.PathKey == "id" {
		q.Del(params.NameLimit.String())
		q.Del(params.NameOffset.String())
	}

	p, err := params.Parse(params.KindFor(req.Type), q, r.opts.Now)
	if err != nil {
		return Response{}, err
	}
	p.URL = req.URL
	p.ClampLimit(r.opts.MaxLimit)

	var cacheKey string
	if r.opts.Cache != nil && cache.Cacheable(req.Type) {
		canonical := keys.Canonical(req.URL, q, string(format))
		entry, key, hit := r.opts.Cache.Lookup(ctx, req.Type, canonical)
		if hit {
			return Response{Header: contentType(entry.ContentType), Status: entry.Status, Body: entry.Body}, nil
		}
		cacheKey = key
	}

	page, err := prov.Query(ctx, req.Type, p)
	if err != nil {
		return Response{}, err
	}
	body, err := render(format, page, req.PathKey != "id")
	if err != nil {
		return Response{}, apierr.Provider(err, "cannot render response")
	}

	if cacheKey != "" {
		r.opts.Cache.Store(ctx, cacheKey, cache.Entry{Status: http.StatusOK, ContentType: format.MediaType(), Body: body})
	}
	return Response{Header: contentType(format.MediaType()), Status: http.StatusOK, Body: body}, nil
}

type itemsBody struct {
	Items []json.RawMessage `json:"items"`
	Links []model.Link      `json:"links"`
}

type featureCollection struct {
	Type     string            `json:"type"`
	Features []json.RawMessage `json:"features"`
	Links    []model.Link      `json:"links"`
}

// render shapes a page. An empty page is rendered as a bare empty array.
func render(format ogc.Format, page *provider.Page, collection bool) ([]byte, error) {
	var out []byte
	switch {
	case len(page.Items) == 0:
		out = []byte("[]")
	case !collection:
		out = page.Items[0]
	case format == ogc.FormatGeoJSON:
		b, err := json.Marshal(featureCollection{Type: "FeatureCollection", Features: page.Items, Links: page.Links})
		if err != nil {
			return nil, err
		}
		out = b
	default:
		b, err := json.Marshal(itemsBody{Items: page.Items, Links: page.Links})
		if err != nil {
			return nil, err
		}
		out = b
	}
	if format == ogc.FormatHTML {
		return htmlPage(out), nil
	}
	return out, nil
}

func htmlPage(body []byte) []byte {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err != nil {
		pretty.Reset()
		pretty.Write(body)
	}
	return []byte("<html><body><pre><code>" + html.EscapeString(pretty.String()) + "</code></pre></body></html>")
}

func (r *Router) create(ctx context.Context, prov provider.Provider, req Request) (Response, error) {
	if req.PathKey == "id" {
		return Response{}, apierr.Query("cannot create an entity at an item path")
	}
	raws, err := splitBody(req.Body)
	if err != nil {
		return Response{}, err
	}
	items := make([]map[string]any, 0, len(raws))
	for _, raw := range raws {
		item, err := r.decode(req.Type, raw, req.PathKey, req.PathValue, schema.Strict)
		if err != nil {
			return Response{}, err
		}
		items = append(items, item)
	}

	ids, err := prov.Create(ctx, req.Type, items)
	if err != nil {
		return Response{}, err
	}
	r.changed(ctx, req.Op, req.Type, ids, items)

	body, err := json.Marshal(ids)
	if err != nil {
		return Response{}, apierr.Provider(err, "cannot render response")
	}
	h := contentType(ogc.FormatJSON.MediaType())
	if len(ids) == 1 {
		h.Set("Location", r.opts.BaseURL+"/"+req.Type.String()+"/"+ids[0])
	}
	return Response{Header: h, Status: http.StatusCreated, Body: body}, nil
}

func (r *Router) modify(ctx context.Context, prov provider.Provider, req Request) (Response, error) {
	if req.PathKey != "id" {
		return Response{}, apierr.Query("%s needs an entity id", req.Op)
	}
	raws, err := splitBody(req.Body)
	if err != nil {
		return Response{}, err
	}
	if len(raws) != 1 {
		return Response{}, apierr.Value("expected a single entity")
	}

	mode := schema.Strict
	if req.Op == OpUpdate && !r.opts.ValidatePatch {
		mode = schema.Permissive
	}
	body, err := r.decode(req.Type, raws[0], "", "", mode)
	if err != nil {
		return Response{}, err
	}

	if req.Op == OpReplace {
		err = prov.Replace(ctx, req.Type, req.PathValue, body)
	} else {
		err = prov.Update(ctx, req.Type, req.PathValue, body)
	}
	if err != nil {
		return Response{}, err
	}
	r.changed(ctx, req.Op, req.Type, []string{req.PathValue}, []map[string]any{body})
	return noContent(), nil
}

// decode checks one payload and merges the path relation into it. The
// relation is merged before validation so a path supplied field counts.
func (r *Router) decode(t model.EntityType, raw json.RawMessage, pathKey, pathValue string, mode schema.Mode) (map[string]any, error) {
	var item map[string]any
	if err := json.Unmarshal(raw, &item); err != nil || item == nil {
		return nil, apierr.Value("entity must be a json object")
	}
	if err := schema.CheckPathOnlyFields(item, pathKey); err != nil {
		return nil, err
	}
	if pathKey == "" {
		return item, r.schemas.Validate(t, raw, mode)
	}
	item[pathKey] = pathValue
	merged, err := json.Marshal(item)
	if err != nil {
		return nil, apierr.Wrap(apierr.InvalidParameterValue, err, "invalid json payload")
	}
	return item, r.schemas.Validate(t, merged, mode)
}

// splitBody accepts one json object or an array of them
func splitBody(body []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, apierr.Value("request body is empty")
	}
	if trimmed[0] != '[' {
		return []json.RawMessage{trimmed}, nil
	}
	var raws []json.RawMessage
	if err := json.Unmarshal(trimmed, &raws); err != nil {
		return nil, apierr.Wrap(apierr.InvalidParameterValue, err, "invalid json payload")
	}
	if len(raws) == 0 {
		return nil, apierr.Value("request body is empty")
	}
	return raws, nil
}

// changed keeps caches and other replicas in step after a successful write
func (r *Router) changed(ctx context.Context, op Op, t model.EntityType, ids []string, bodies []map[string]any) {
	if r.opts.Cache != nil {
		var ts []model.EntityType
		for _, a := range cache.Affected(t) {
			if cache.Cacheable(a) {
				ts = append(ts, a)
			}
		}
		if len(ts) > 0 {
			_ = r.opts.Cache.Invalidate(ctx, ts...)
		}
	}
	if r.opts.Events != nil {
		r.opts.Events.Emit(ctx, op.String(), t, ids, bodies)
	}
}

func (r *Router) failure(ctx context.Context, err error) Response {
	ae := apierr.As(err)
	if ae.Kind == apierr.GenericProviderError {
		r.log.ErrorContext(ctx, "provider failure", "description", ae.Description, "err", ae.Cause)
	} else {
		r.log.DebugContext(ctx, "request rejected", "type", string(ae.Kind), "description", ae.Description)
	}
	return Response{Header: contentType(ogc.FormatJSON.MediaType()), Status: ae.Kind.Status(), Body: ae.Body()}
}

func contentType(ct string) http.Header {
	h := http.Header{}
	h.Set("Content-Type", ct)
	return h
}

func noContent() Response {
	return Response{Header: http.Header{}, Status: http.StatusNoContent}
}
