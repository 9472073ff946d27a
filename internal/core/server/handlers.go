package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/connected-systems/internal/core/apierr"
	"github.com/mohammed-shakir/connected-systems/internal/core/model"
	"github.com/mohammed-shakir/connected-systems/internal/core/ogc"
	"github.com/mohammed-shakir/connected-systems/internal/core/router"
	"github.com/mohammed-shakir/connected-systems/internal/provider/part1"
)

const maxBodyBytes = 8 << 20

type api struct {
	r       *router.Router
	baseURL string
}

// entity adapts one route to a router request. pathKey names the filter the
// {id} segment fills, empty for plain collections.
func (a *api) entity(t model.EntityType, op router.Op, pathKey string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		a.dispatch(w, req, t, op, pathKey, chi.URLParam(req, "id"))
	}
}

func (a *api) collectionItems(w http.ResponseWriter, req *http.Request) {
	t, ok := part1.CollectionItemType(chi.URLParam(req, "collectionId"))
	if !ok {
		writeError(w, apierr.NotFound("no collection with id %s found!", chi.URLParam(req, "collectionId")))
		return
	}
	id := chi.URLParam(req, "id")
	pathKey := ""
	if id != "" {
		pathKey = "id"
	}
	a.dispatch(w, req, t, router.OpGet, pathKey, id)
}

func (a *api) dispatch(w http.ResponseWriter, req *http.Request, t model.EntityType, op router.Op, pathKey, pathValue string) {
	rr := router.Request{
		Type:      t,
		Op:        op,
		PathKey:   pathKey,
		PathValue: pathValue,
		Query:     req.URL.Query(),
		URL:       a.baseURL + req.URL.Path,
		Accept:    req.Header.Get("Accept"),
	}
	switch op {
	case router.OpCreate, router.OpReplace, router.OpUpdate:
		body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxBodyBytes))
		if err != nil {
			writeError(w, apierr.Wrap(apierr.InvalidParameterValue, err, "cannot read request body"))
			return
		}
		rr.Body = body
	case router.OpDelete:
		rr.Cascade, _ = strconv.ParseBool(req.URL.Query().Get("cascade"))
	}

	resp := a.r.Dispatch(req.Context(), rr)
	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.Status)
	if len(resp.Body) > 0 {
		_, _ = w.Write(resp.Body)
	}
}

func writeError(w http.ResponseWriter, ae *apierr.Error) {
	w.Header().Set("Content-Type", ogc.FormatJSON.MediaType())
	w.WriteHeader(ae.Kind.Status())
	_, _ = w.Write(ae.Body())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", ogc.FormatJSON.MediaType())
	_ = json.NewEncoder(w).Encode(v)
}

func (a *api) landing(w http.ResponseWriter, _ *http.Request) {
	links := []model.Link{
		{Rel: "self", Href: a.baseURL + "/", Type: "application/json", Title: "this document"},
		{Rel: "conformance", Href: a.baseURL + "/conformance", Type: "application/json", Title: "Conformance"},
		{Rel: "data", Href: a.baseURL + "/collections", Type: "application/json", Title: "Collections"},
	}
	for _, t := range entityRoutes {
		links = append(links, model.Link{Rel: "items", Href: a.baseURL + "/" + t.String(), Type: "application/json", Title: t.String()})
	}
	writeJSON(w, map[string]any{
		"title":       "Connected Systems API",
		"description": "OGC API - Connected Systems server",
		"links":       links,
	})
}

func (a *api) conformance(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]any{"conformsTo": ogc.Conformance()})
}
