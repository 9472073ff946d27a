package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	mylog "github.com/mohammed-shakir/connected-systems/internal/logger"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestLogging_AssignsOrKeepsRequestID(t *testing.T) {
	var seen string
	h := Logging(quiet())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = mylog.RequestID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/systems", nil))
	if seen == "" || rr.Header().Get("X-Request-ID") != seen {
		t.Fatalf("generated id=%q header=%q", seen, rr.Header().Get("X-Request-ID"))
	}
	if rr.Code != http.StatusTeapot {
		t.Fatalf("status=%d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/systems", nil)
	req.Header.Set("X-Request-ID", "abc")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if seen != "abc" {
		t.Fatalf("incoming id not kept, got %q", seen)
	}
}

func TestRecover_RendersProviderError(t *testing.T) {
	h := Recover(quiet())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"type":"GenericProviderError"`) {
		t.Fatalf("body=%s", rr.Body.String())
	}
}

func TestCORS_Preflight(t *testing.T) {
	r := chi.NewRouter()
	r.Use(CORS())
	r.Get("/systems", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodOptions, "/systems", nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status=%d", rr.Code)
	}
	if !strings.Contains(rr.Header().Get("Access-Control-Allow-Methods"), "DELETE") {
		t.Fatalf("methods=%q", rr.Header().Get("Access-Control-Allow-Methods"))
	}
}
