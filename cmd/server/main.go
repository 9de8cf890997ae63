package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/TimurManjosov/contentship/internal/api"
	"github.com/TimurManjosov/contentship/internal/config"
	"github.com/TimurManjosov/contentship/internal/engine"
	"github.com/TimurManjosov/contentship/internal/evaluation"
	"github.com/TimurManjosov/contentship/internal/expr"
	"github.com/TimurManjosov/contentship/internal/geo"
	"github.com/TimurManjosov/contentship/internal/logging"
	"github.com/TimurManjosov/contentship/internal/reqctx"
	"github.com/TimurManjosov/contentship/internal/rollout"
	"github.com/TimurManjosov/contentship/internal/snapshot"
	"github.com/TimurManjosov/contentship/internal/store"
	"github.com/TimurManjosov/contentship/internal/targeting"
	"github.com/TimurManjosov/contentship/internal/telemetry"
	"github.com/TimurManjosov/contentship/internal/tracing"
	"github.com/TimurManjosov/contentship/internal/views"
)

const assignmentPurgeInterval = time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New("info", "json")
		bootLog.Fatal().Err(err).Msg("config")
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if cfg.SaltGenerated() {
		log.Warn().Msg("EXPERIMENT_SALT not set, generated a random salt; hash assignments will change on restart")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("tracing")
	}

	metrics := telemetry.New()

	st, err := store.NewStore(ctx, cfg.StoreType, cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Str("store", cfg.StoreType).Msg("store")
	}
	if pg, ok := st.(*store.PostgresStore); ok {
		metrics.RegisterPool(pg.Pool())
	}

	eng, err := newEngine(metrics)
	if err != nil {
		log.Fatal().Err(err).Msg("engine")
	}

	cache := snapshot.New(st.GetDefinition, cfg.DefinitionCacheTTL)
	cache.OnHit = func() { metrics.CacheHits.WithLabelValues("definition").Inc() }
	cache.OnMiss = func() { metrics.CacheMisses.WithLabelValues("definition").Inc() }
	cache.OnInvalidate = metrics.CacheInvalidations.Inc
	changes, err := st.Subscribe(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("subscribe to definition changes")
	}
	go cache.Watch(ctx, changes)

	recorder := views.NewRecorder(st, cfg.ViewQueueSize, log)
	recorder.OnDrop = metrics.ViewsDropped.Inc
	recorder.Start()

	picker, err := rollout.PickerByName(cfg.ExperimentAssignment, cfg.ExperimentSalt)
	if err != nil {
		log.Fatal().Err(err).Msg("experiment assignment")
	}
	assigner := rollout.NewAssigner(st, rollout.WithPicker(picker), rollout.WithTTL(cfg.ExperimentTTL))
	go purgeAssignments(ctx, st, log)

	ranges, err := geo.ParseStaticRanges(cfg.GeoStaticRanges)
	if err != nil {
		log.Fatal().Err(err).Msg("geo ranges")
	}
	geoResolver := geo.NewCachedResolver(ranges, cfg.GeoCacheTTL, cfg.GeoDefaultCountry)
	geoResolver.OnHit = func() { metrics.CacheHits.WithLabelValues("geo").Inc() }
	geoResolver.OnMiss = func() { metrics.CacheMisses.WithLabelValues("geo").Inc() }

	builder := reqctx.New(
		reqctx.WithGeo(geoResolver),
		reqctx.WithExperiments(assigner),
		reqctx.WithLocation(cfg.Location()),
		reqctx.WithLogger(log),
	)

	svc := evaluation.New(eng, st,
		evaluation.WithCache(cache),
		evaluation.WithRecorder(recorder),
		evaluation.WithMetrics(metrics),
		evaluation.WithLogger(log),
	)

	srvAPI := api.NewServer(svc, builder, cfg.AdminAPIKey,
		api.WithMetrics(metrics),
		api.WithLogger(log),
		api.WithRateLimit(cfg.RateLimitPerIP),
	)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srvAPI.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go serve(srv, log, "api")
	go serve(metricsSrv, log, "metrics")
	log.Info().
		Str("addr", cfg.HTTPAddr).
		Str("metrics_addr", cfg.MetricsAddr).
		Str("store", cfg.StoreType).
		Str("env", cfg.AppEnv).
		Msg("contentship started")

	<-ctx.Done()
	log.Info().Msg("shutting down")

	ctxShut, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctxShut); err != nil {
		log.Error().Err(err).Msg("api shutdown")
	}
	_ = metricsSrv.Shutdown(ctxShut)
	// The recorder flushes into the store, so it closes first.
	if err := recorder.Close(); err != nil {
		log.Error().Err(err).Msg("view recorder shutdown")
	}
	if err := st.Close(); err != nil {
		log.Error().Err(err).Msg("store shutdown")
	}
	if err := shutdownTracing(ctxShut); err != nil {
		log.Error().Err(err).Msg("tracing shutdown")
	}
	log.Info().Msg("stopped")
}

func newEngine(metrics *telemetry.Metrics) (*engine.Engine, error) {
	registry := engine.NewRegistry()
	if err := registry.Register(targeting.Extension()); err != nil {
		return nil, err
	}
	expressions, err := expr.New()
	if err != nil {
		return nil, err
	}
	return engine.New(
		engine.WithRegistry(registry),
		engine.WithExpressions(expressions),
		engine.WithUnknownTypeHook(metrics.CountUnknownCondition),
	), nil
}

func serve(srv *http.Server, log zerolog.Logger, name string) {
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Str("server", name).Msg("listen")
	}
}

// purgeAssignments deletes expired experiment assignments until ctx is done.
func purgeAssignments(ctx context.Context, st store.Store, log zerolog.Logger) {
	ticker := time.NewTicker(assignmentPurgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := st.PurgeAssignments(ctx, now.UTC())
			if err != nil {
				log.Warn().Err(err).Msg("purge expired assignments")
				continue
			}
			if n > 0 {
				log.Debug().Int64("purged", n).Msg("expired assignments removed")
			}
		}
	}
}
