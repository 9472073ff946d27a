package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mohammed-shakir/connected-systems/internal/backend"
	"github.com/mohammed-shakir/connected-systems/internal/backend/elastic"
	"github.com/mohammed-shakir/connected-systems/internal/backend/memstore"
	"github.com/mohammed-shakir/connected-systems/internal/backend/timescale"
	"github.com/mohammed-shakir/connected-systems/internal/cache"
	"github.com/mohammed-shakir/connected-systems/internal/cache/redisstore"
	"github.com/mohammed-shakir/connected-systems/internal/core/config"
	"github.com/mohammed-shakir/connected-systems/internal/core/health"
	"github.com/mohammed-shakir/connected-systems/internal/core/integrity"
	"github.com/mohammed-shakir/connected-systems/internal/core/router"
	"github.com/mohammed-shakir/connected-systems/internal/core/schema"
	"github.com/mohammed-shakir/connected-systems/internal/core/server"
	"github.com/mohammed-shakir/connected-systems/internal/events"
	"github.com/mohammed-shakir/connected-systems/internal/hotness/expdecay"
	"github.com/mohammed-shakir/connected-systems/internal/invalidation/kafkaconsumer"
	"github.com/mohammed-shakir/connected-systems/internal/logger"
	h3mapper "github.com/mohammed-shakir/connected-systems/internal/mapper/h3"
	"github.com/mohammed-shakir/connected-systems/internal/metrics"
	"github.com/mohammed-shakir/connected-systems/internal/provider/part1"
	"github.com/mohammed-shakir/connected-systems/internal/provider/part2"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

type backends struct {
	meta  backend.MetadataStore
	ts    backend.TimeSeriesStore
	ready map[string]health.Pinger
	close func()
}

func run() int {
	// overriding backend via flag
	backendFlag := flag.String("backend", "", "storage backend: elastic or memory")
	flag.Parse()

	cfg := config.FromEnv()
	if *backendFlag != "" {
		cfg.Backend = strings.ToLower(strings.TrimSpace(*backendFlag))
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Service:   "connected-systems",
		Component: "csa-server",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	appLog.Info("starting csa-server",
		"addr", cfg.Addr,
		"version", Version,
		"backend", cfg.Backend,
		"base_url", cfg.BaseURL)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	be, err := openBackends(ctx, cfg, appLog)
	if err != nil {
		appLog.Error("backend setup failed", "err", err)
		return 1
	}
	defer be.close()

	guard, err := integrity.New(be.meta, be.ts, cfg.DSExistsCacheSize)
	if err != nil {
		appLog.Error("integrity guard setup failed", "err", err)
		return 1
	}
	p1 := part1.New(appLog, be.meta, guard)
	p2 := part2.New(appLog, be.meta, be.ts, guard)
	if err := p1.EnsureMandatoryCollections(ctx); err != nil {
		appLog.Error("mandatory collections", "err", err)
		return 1
	}

	schemas, err := schema.NewRegistry()
	if err != nil {
		appLog.Error("schema registry", "err", err)
		return 1
	}

	opts := router.Options{
		BaseURL:       cfg.BaseURL,
		MaxLimit:      cfg.MaxLimit,
		ValidatePatch: cfg.ValidatePatch,
	}
	source := logger.NewID()

	var listing *cache.Listing
	if cfg.Cache.Enabled() {
		rc, err := redisstore.New(ctx, cfg.Cache.RedisAddr)
		if err != nil {
			appLog.Error("redis connect failed", "addr", cfg.Cache.RedisAddr, "err", err)
			return 1
		}
		defer func() { _ = rc.Close() }()
		listing = cache.NewListing(appLog, rc, cfg.Cache.TTL, cfg.Cache.OpTimeout)
		if cfg.Cache.AdmitScore > 0 {
			listing.WithAdmission(expdecay.New(cfg.Cache.HotHalfLife, 0), cfg.Cache.AdmitScore)
		}
		opts.Cache = listing
		be.ready["redis"] = rc
	}

	if cfg.Events.Enabled {
		pub, err := events.NewPublisher(appLog, cfg.Events)
		if err != nil {
			appLog.Error("kafka producer setup failed", "brokers", cfg.Events.Brokers, "err", err)
			return 1
		}
		defer func() { _ = pub.Close() }()
		opts.Events = events.NewEmitter(appLog, pub, h3mapper.New(), cfg.Events.H3Res, source)

		if listing != nil {
			cons := kafkaconsumer.New(kafkaconsumer.FromEvents(cfg.Events), appLog, listing, source)
			go func() {
				if err := cons.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
					appLog.Error("invalidation consumer stopped", "err", err)
				}
			}()
		}
	}

	deps := server.Deps{
		Router: router.New(appLog, schemas, p1, p2, opts),
		Ready:  be.ready,
	}
	if cfg.MetricsEnabled {
		deps.Metrics = metrics.Init(metrics.Config{
			Build: metrics.BuildInfo{
				Version:   firstNonEmpty(os.Getenv("BUILD_VERSION"), Version),
				Revision:  os.Getenv("BUILD_REVISION"),
				Branch:    os.Getenv("BUILD_BRANCH"),
				BuildDate: os.Getenv("BUILD_DATE"),
			},
		}).Handler()
	}

	if err := server.Run(ctx, cfg, appLog, server.NewHandler(cfg, appLog, deps)); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}

func openBackends(ctx context.Context, cfg config.Config, log *slog.Logger) (*backends, error) {
	if cfg.Backend == "memory" {
		meta, ts := memstore.NewMetadata(), memstore.NewTimeSeries()
		log.Warn("using in-memory backends, data is lost on restart")
		return &backends{
			meta:  meta,
			ts:    ts,
			ready: map[string]health.Pinger{"metadata": meta, "timeseries": ts},
			close: func() {},
		}, nil
	}

	setupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	es, err := elastic.New(setupCtx, cfg.Elastic)
	if err != nil {
		return nil, err
	}
	if err := es.EnsureIndices(setupCtx); err != nil {
		return nil, err
	}
	pg, err := timescale.New(setupCtx, cfg.Postgres)
	if err != nil {
		return nil, err
	}
	if err := pg.EnsureSchema(setupCtx); err != nil {
		if !errors.Is(err, timescale.ErrNoHypertable) {
			pg.Close()
			return nil, err
		}
		log.Warn("observations stored in a plain table", "err", err)
	}
	return &backends{
		meta:  es,
		ts:    pg,
		ready: map[string]health.Pinger{"elasticsearch": es, "timescale": pg},
		close: pg.Close,
	}, nil
}

func firstNonEmpty(vs ...string) string {
	for _, v := range vs {
		if v != "" {
			return v
		}
	}
	return ""
}
