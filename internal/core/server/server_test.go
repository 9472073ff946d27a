package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mohammed-shakir/connected-systems/internal/backend/memstore"
	"github.com/mohammed-shakir/connected-systems/internal/core/config"
	"github.com/mohammed-shakir/connected-systems/internal/core/health"
	"github.com/mohammed-shakir/connected-systems/internal/core/integrity"
	"github.com/mohammed-shakir/connected-systems/internal/core/router"
	"github.com/mohammed-shakir/connected-systems/internal/core/schema"
	"github.com/mohammed-shakir/connected-systems/internal/provider/part1"
	"github.com/mohammed-shakir/connected-systems/internal/provider/part2"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	meta := memstore.NewMetadata()
	ts := memstore.NewTimeSeries()
	guard, err := integrity.New(meta, ts, 16)
	if err != nil {
		t.Fatalf("integrity.New: %v", err)
	}
	reg, err := schema.NewRegistry()
	if err != nil {
		t.Fatalf("schema.NewRegistry: %v", err)
	}
	p1 := part1.New(logger, meta, guard)
	if err := p1.EnsureMandatoryCollections(context.Background()); err != nil {
		t.Fatalf("EnsureMandatoryCollections: %v", err)
	}
	p2 := part2.New(logger, meta, ts, guard)

	srv := httptest.NewUnstartedServer(nil)
	cfg := config.Config{BaseURL: "http://" + srv.Listener.Addr().String()}
	rt := router.New(logger, reg, p1, p2, router.Options{BaseURL: cfg.BaseURL, MaxLimit: 1000})
	srv.Config.Handler = NewHandler(cfg, logger, Deps{
		Router: rt,
		Ready:  map[string]health.Pinger{"metadata": meta, "timeseries": ts},
	})
	srv.Start()
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp, string(b)
}

func createdIDs(t *testing.T, body string) []string {
	t.Helper()
	var ids []string
	if err := json.Unmarshal([]byte(body), &ids); err != nil {
		t.Fatalf("ids body %q: %v", body, err)
	}
	return ids
}

const systemBody = `{"type":"PhysicalSystem","uniqueId":"urn:x:station:1","name":"Station","position":{"type":"Point","coordinates":[7.6,51.9]}}`

func TestServer_SystemLifecycle(t *testing.T) {
	srv := newServer(t)

	resp, body := do(t, http.MethodPost, srv.URL+"/systems", systemBody)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", resp.StatusCode, body)
	}
	id := createdIDs(t, body)[0]
	if resp.Header.Get("Location") != srv.URL+"/systems/"+id {
		t.Fatalf("location=%q", resp.Header.Get("Location"))
	}

	resp, body = do(t, http.MethodPost, srv.URL+"/systems/"+id+"/subsystems",
		`{"type":"PhysicalSystem","uniqueId":"urn:x:sensor:1","name":"Sensor"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("subsystem status=%d body=%s", resp.StatusCode, body)
	}
	sub := createdIDs(t, body)[0]

	_, body = do(t, http.MethodGet, srv.URL+"/systems", "")
	if !strings.Contains(body, id) || strings.Contains(body, sub) {
		t.Fatalf("default listing must hide subsystems: %s", body)
	}
	_, body = do(t, http.MethodGet, srv.URL+"/systems/"+id+"/subsystems", "")
	if !strings.Contains(body, sub) {
		t.Fatalf("subsystem listing: %s", body)
	}

	resp, _ = do(t, http.MethodDelete, srv.URL+"/systems/"+id, "")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("delete with subsystem status=%d", resp.StatusCode)
	}
	resp, _ = do(t, http.MethodDelete, srv.URL+"/systems/"+sub, "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete subsystem status=%d", resp.StatusCode)
	}
	resp, _ = do(t, http.MethodDelete, srv.URL+"/systems/"+id+"?cascade=true", "")
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("cascade status=%d", resp.StatusCode)
	}
	resp, _ = do(t, http.MethodDelete, srv.URL+"/systems/"+id, "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status=%d", resp.StatusCode)
	}
	resp, _ = do(t, http.MethodGet, srv.URL+"/systems/"+id, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get deleted status=%d", resp.StatusCode)
	}
}

func TestServer_DatastreamAndObservations(t *testing.T) {
	srv := newServer(t)

	_, body := do(t, http.MethodPost, srv.URL+"/systems", systemBody)
	sys := createdIDs(t, body)[0]

	resp, body := do(t, http.MethodPost, srv.URL+"/systems/"+sys+"/datastreams",
		`{"name":"temp","outputName":"temp","schema":{"obsFormat":"application/om+json"}}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("datastream status=%d body=%s", resp.StatusCode, body)
	}
	ds := createdIDs(t, body)[0]

	resp, body = do(t, http.MethodPost, srv.URL+"/datastreams/"+ds+"/observations",
		`[{"resultTime":"2024-01-01T00:00:00Z","result":1.5},{"resultTime":"2024-01-01T01:00:00Z","result":2.5}]`)
	if resp.StatusCode != http.StatusCreated || len(createdIDs(t, body)) != 2 {
		t.Fatalf("observations status=%d body=%s", resp.StatusCode, body)
	}

	resp, body = do(t, http.MethodGet, srv.URL+"/datastreams/"+ds+"/observations", "")
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Content-Type") != "application/om+json" {
		t.Fatalf("list status=%d content type=%s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	var page struct {
		Items []map[string]any `json:"items"`
	}
	if err := json.Unmarshal([]byte(body), &page); err != nil || len(page.Items) != 2 {
		t.Fatalf("items=%v err=%v body=%s", page.Items, err, body)
	}
	if page.Items[0]["datastream@id"] != ds {
		t.Fatalf("first item=%v", page.Items[0])
	}

	resp, _ = do(t, http.MethodPut, srv.URL+"/datastreams/"+ds+"/schema", `{"obsFormat":"application/swe+json"}`)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("schema change with observations status=%d", resp.StatusCode)
	}
	resp, _ = do(t, http.MethodDelete, srv.URL+"/datastreams/"+ds, "")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("datastream delete with observations status=%d", resp.StatusCode)
	}

	resp, _ = do(t, http.MethodPost, srv.URL+"/datastreams/missing/observations", `{"resultTime":"2024-01-01T00:00:00Z","result":1}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("observation for missing datastream status=%d", resp.StatusCode)
	}
}

func TestServer_CollectionsAndOps(t *testing.T) {
	srv := newServer(t)

	resp, body := do(t, http.MethodGet, srv.URL+"/collections", "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, "all_systems") {
		t.Fatalf("collections status=%d body=%s", resp.StatusCode, body)
	}
	resp, _ = do(t, http.MethodGet, srv.URL+"/collections/all_procedures/items", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("collection items status=%d", resp.StatusCode)
	}
	resp, _ = do(t, http.MethodGet, srv.URL+"/collections/nope/items", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown collection status=%d", resp.StatusCode)
	}

	resp, body = do(t, http.MethodGet, srv.URL+"/conformance", "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, "conformsTo") {
		t.Fatalf("conformance status=%d body=%s", resp.StatusCode, body)
	}
	resp, _ = do(t, http.MethodGet, srv.URL+"/readyz", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz status=%d", resp.StatusCode)
	}
	resp, _ = do(t, http.MethodGet, srv.URL+"/systems/bad.id", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("malformed id status=%d", resp.StatusCode)
	}
	resp, _ = do(t, http.MethodGet, srv.URL+"/systems?bogus=1", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown parameter status=%d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("missing request id header")
	}
}

func TestServer_ObservationPathDatastreamWins(t *testing.T) {
	srv := newServer(t)

	_, body := do(t, http.MethodPost, srv.URL+"/systems", systemBody)
	sys := createdIDs(t, body)[0]
	_, body = do(t, http.MethodPost, srv.URL+"/systems/"+sys+"/datastreams",
		`[{"name":"a","outputName":"a","schema":{"obsFormat":"application/om+json"}},
		  {"name":"b","outputName":"b","schema":{"obsFormat":"application/om+json"}}]`)
	ids := createdIDs(t, body)
	if len(ids) != 2 {
		t.Fatalf("datastreams=%v", ids)
	}
	a, b := ids[0], ids[1]

	resp, body := do(t, http.MethodPost, srv.URL+"/datastreams/"+a+"/observations",
		`{"datastream@id":"`+b+`","resultTime":"2024-01-01T00:00:00Z","result":1}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("mismatched datastream status=%d body=%s", resp.StatusCode, body)
	}
	for _, ds := range ids {
		_, body = do(t, http.MethodGet, srv.URL+"/datastreams/"+ds+"/observations", "")
		if strings.Contains(body, "resultTime") {
			t.Fatalf("datastream %s gained an observation: %s", ds, body)
		}
	}
}

func TestServer_ItemGetIgnoresPaging(t *testing.T) {
	srv := newServer(t)

	_, body := do(t, http.MethodPost, srv.URL+"/systems", systemBody)
	id := createdIDs(t, body)[0]
	for _, q := range []string{"?limit=0", "?offset=3", "?limit=1&offset=1"} {
		resp, body := do(t, http.MethodGet, srv.URL+"/systems/"+id+q, "")
		if resp.StatusCode != http.StatusOK || !strings.Contains(body, id) {
			t.Fatalf("get %s status=%d body=%s", q, resp.StatusCode, body)
		}
	}
}
