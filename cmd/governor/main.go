package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"send-governor/governance/application"
	"send-governor/governance/httpapi"
	"send-governor/governance/infra"
	"send-governor/internal/config"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config error")
	}
	setupLogging(cfg)

	catalog, err := config.LoadCatalog(cfg.PlanCatalogPath)
	if err != nil {
		log.Fatal().Err(err).Msg("plan catalog error")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := openStores(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("store setup error")
	}
	defer st.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	memStats := infra.NewMemoryStatsStore()
	stats := infra.StatsFanout{memStats, infra.NewPrometheusStats(reg)}
	if cfg.StatsRedis {
		stats = append(stats, infra.NewRedisStatsStore(
			st.redis,
			infra.WithStatsPrefix(cfg.RedisPrefix+":stats"),
			infra.WithStatsTTL(cfg.StatsTTL),
			infra.WithStatsBucket(cfg.StatsBucket),
		))
	}

	gens := application.NewGenerations()
	cache, notifier, err := setupCache(ctx, cfg, st.redis, gens)
	if err != nil {
		log.Fatal().Err(err).Msg("entitlement cache setup error")
	}

	fallbacks, err := application.BuildFallbacks(cfg.Fallbacks, application.FallbackDeps{
		Accounts: st.billing,
		Addons:   st.billing,
		Plans:    st.billing,
		Catalog:  catalog,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("fallback chain error")
	}

	resolver := application.Resolver{
		Plans:       st.billing,
		Addons:      st.billing,
		Catalog:     catalog,
		Fallbacks:   fallbacks,
		Cache:       cache,
		Notifier:    notifier,
		Generations: gens,
	}
	governor := application.Governor{
		Counters:     st.counters,
		Cooldowns:    st.cooldowns,
		Entitlements: resolver,
		Limits:       st.billing,
		Defaults:     cfg.Limits.LimitConfig(),
		Stats:        stats,
	}

	mux := http.NewServeMux()
	httpapi.Handlers{
		Governor:  governor,
		Resolver:  resolver,
		Billing:   application.Billing{Store: st.billing, Invalidator: resolver},
		Decisions: memStats,
	}.Register(mux)
	httpapi.StripeWebhook{
		Billing: application.Billing{Store: st.billing, Invalidator: resolver},
		Secret:  cfg.StripeWebhookSecret,
	}.Register(mux)

	guard := application.RequestGuard{
		RetryAfter:     cfg.RetryAfter,
		AcquireTimeout: cfg.ConcurrencyTimeout,
	}
	sweepers := memorySweepers(cfg, st, cache)
	if cfg.ThrottleEnabled {
		limiters := infra.NewSubjectLimiters(cfg.ThrottleRPS, cfg.ThrottleBurst)
		guard.Limiters = limiters
		sweepers = append(sweepers, infra.Sweeper{Name: "throttle", Every: time.Minute, Sweep: limiters.Sweep})
	}
	if cfg.ConcurrencyMax > 0 {
		slots := infra.NewSlotPool(cfg.ConcurrencyMax)
		guard.Slots = slots
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "governor_requests_in_flight",
			Help: "Requests currently holding a concurrency slot.",
		}, func() float64 { return float64(slots.InUse()) }))
	}
	infra.StartSweepers(ctx, sweepers...)

	handler := httpapi.Chain(mux,
		httpapi.AccessLog(log.Logger),
		httpapi.Recover(),
		httpapi.Concurrency(guard),
		httpapi.Throttle(guard, httpapi.CallerSubject(cfg.TrustXFF)),
	)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           metricsMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	go func() {
		log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics listening")
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server error")
		}
	}()

	log.Info().
		Str("addr", cfg.ListenAddr).
		Str("backend", cfg.Backend).
		Str("cache", cfg.CacheBackend).
		Bool("invalidationBus", cfg.InvalidationBus).
		Dur("cacheTTL", cfg.CacheTTL).
		Strs("fallbacks", cfg.Fallbacks).
		Str("lowestPlan", catalog.Lowest().Code).
		Msg("governor listening")
	log.Info().
		Bool("enabled", cfg.ThrottleEnabled).
		Float64("rps", cfg.ThrottleRPS).
		Int("burst", cfg.ThrottleBurst).
		Int("concurrencyMax", cfg.ConcurrencyMax).
		Dur("acquireTimeout", cfg.ConcurrencyTimeout).
		Msg("request guards")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server error")
	}
}

func setupLogging(cfg config.Config) {
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}
