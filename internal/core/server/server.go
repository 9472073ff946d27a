// Package server exposes the entity router over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/connected-systems/internal/core/config"
	"github.com/mohammed-shakir/connected-systems/internal/core/health"
	middleware "github.com/mohammed-shakir/connected-systems/internal/core/middleware"
	"github.com/mohammed-shakir/connected-systems/internal/core/model"
	"github.com/mohammed-shakir/connected-systems/internal/core/router"
)

type Deps struct {
	Router *router.Router
	Ready  map[string]health.Pinger
	// Metrics is mounted at /metrics when set
	Metrics http.Handler
}

// entityRoutes are the top level collections with item access
var entityRoutes = []model.EntityType{
	model.Systems, model.Deployments, model.Procedures,
	model.SamplingFeatures, model.Properties, model.Datastreams,
}

func NewHandler(cfg config.Config, logger *slog.Logger, d Deps) http.Handler {
	a := &api{r: d.Router, baseURL: cfg.BaseURL}

	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Metrics())
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(2*time.Second, d.Ready))
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	r.Get("/", a.landing)
	r.Get("/conformance", a.conformance)
	r.Get("/collections", a.entity(model.Collections, router.OpGet, ""))
	r.Get("/collections/{id}", a.entity(model.Collections, router.OpGet, "id"))
	r.Get("/collections/{collectionId}/items", a.collectionItems)
	r.Get("/collections/{collectionId}/items/{id}", a.collectionItems)

	for _, t := range entityRoutes {
		base := "/" + t.String()
		r.Get(base, a.entity(t, router.OpGet, ""))
		r.Post(base, a.entity(t, router.OpCreate, ""))
		r.Get(base+"/{id}", a.entity(t, router.OpGet, "id"))
		r.Put(base+"/{id}", a.entity(t, router.OpReplace, "id"))
		r.Patch(base+"/{id}", a.entity(t, router.OpUpdate, "id"))
		r.Delete(base+"/{id}", a.entity(t, router.OpDelete, "id"))
	}

	r.Get("/systems/{id}/subsystems", a.entity(model.Systems, router.OpGet, "parent"))
	r.Post("/systems/{id}/subsystems", a.entity(model.Systems, router.OpCreate, "parent"))
	r.Get("/systems/{id}/deployments", a.entity(model.Deployments, router.OpGet, "system"))
	r.Get("/systems/{id}/samplingFeatures", a.entity(model.SamplingFeatures, router.OpGet, "system"))
	r.Post("/systems/{id}/samplingFeatures", a.entity(model.SamplingFeatures, router.OpCreate, "system"))
	r.Get("/systems/{id}/datastreams", a.entity(model.Datastreams, router.OpGet, "system"))
	r.Post("/systems/{id}/datastreams", a.entity(model.Datastreams, router.OpCreate, "system"))

	r.Get("/datastreams/{id}/schema", a.entity(model.DatastreamsSchema, router.OpGet, "id"))
	r.Put("/datastreams/{id}/schema", a.entity(model.DatastreamsSchema, router.OpReplace, "id"))
	r.Get("/datastreams/{id}/observations", a.entity(model.Observations, router.OpGet, "datastream"))
	r.Post("/datastreams/{id}/observations", a.entity(model.Observations, router.OpCreate, "datastream"))

	r.Get("/observations", a.entity(model.Observations, router.OpGet, ""))
	r.Get("/observations/{id}", a.entity(model.Observations, router.OpGet, "id"))
	r.Delete("/observations/{id}", a.entity(model.Observations, router.OpDelete, "id"))

	return r
}

// Run serves h until ctx is done
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, h http.Handler) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
