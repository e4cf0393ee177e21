package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"send-governor/governance/application"
	"send-governor/governance/domain"
	"send-governor/governance/infra"
	"send-governor/internal/config"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

type billingDirectory interface {
	domain.PlanLookup
	domain.AddonLookup
	domain.AccountLookup
	domain.LimitLookup
	domain.BillingWriter
}

type stores struct {
	counters  domain.CounterStore
	cooldowns domain.CooldownTracker
	billing   billingDirectory

	redis   *redis.Client
	pool    *pgxpool.Pool
	closers []func() error
}

func (s *stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			log.Warn().Err(err).Msg("close store")
		}
	}
}

func openStores(ctx context.Context, cfg config.Config) (*stores, error) {
	st := &stores{}

	if cfg.NeedsRedis() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPass,
			DB:       cfg.RedisDB,
		})
		st.closers = append(st.closers, rdb.Close)

		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		_, err := rdb.Ping(pingCtx).Result()
		cancel()
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		st.redis = rdb
	}

	// Postgres guarda o diretório de cobrança sempre que configurado, mesmo
	// com contadores em outro backend.
	if cfg.PostgresURL != "" {
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("postgres connect: %w", err)
		}
		st.closers = append(st.closers, func() error { pool.Close(); return nil })
		if err := pool.Ping(ctx); err != nil {
			st.Close()
			return nil, fmt.Errorf("postgres ping: %w", err)
		}
		if cfg.EnsureSchema {
			if err := infra.EnsureSchema(ctx, pool); err != nil {
				st.Close()
				return nil, err
			}
		}
		st.pool = pool
		st.billing = infra.NewPostgresBilling(pool)
	} else {
		log.Warn().Msg("GOVERNOR_POSTGRES_URL not set, billing directory is in memory")
		st.billing = infra.NewMemoryBilling()
	}

	prefix := infra.WithRedisPrefix(cfg.RedisPrefix)
	switch cfg.Backend {
	case config.BackendMemory:
		st.counters = infra.NewMemoryCounterStore()
		st.cooldowns = infra.NewMemoryCooldownTracker()
	case config.BackendRedis:
		st.counters = infra.NewRedisCounterStore(st.redis, prefix)
		st.cooldowns = infra.NewRedisCooldownTracker(st.redis, prefix)
	case config.BackendBolt:
		bs, err := infra.OpenBoltStore(cfg.BoltPath)
		if err != nil {
			st.Close()
			return nil, err
		}
		st.closers = append(st.closers, bs.Close)
		st.counters = bs
		st.cooldowns = bs
	case config.BackendPostgres:
		ps := infra.NewPostgresStore(st.pool)
		st.counters = ps
		st.cooldowns = ps
	default:
		st.Close()
		return nil, errors.New("unknown backend " + cfg.Backend)
	}
	return st, nil
}

func setupCache(ctx context.Context, cfg config.Config, rdb *redis.Client, gens *application.Generations) (domain.EntitlementCache, domain.InvalidationNotifier, error) {
	prefix := infra.WithRedisPrefix(cfg.RedisPrefix)
	if cfg.CacheBackend == config.BackendRedis {
		// cache compartilhado: o DEL já vale para todas as réplicas
		return infra.NewRedisEntitlementCache(rdb, cfg.CacheTTL, prefix), nil, nil
	}

	cache := infra.NewMemoryEntitlementCache(cfg.CacheTTL)
	if !cfg.InvalidationBus {
		return cache, nil, nil
	}
	bus := infra.NewRedisInvalidationBus(rdb, prefix)
	err := bus.Listen(ctx, func(subject domain.Subject) {
		gens.Bump(subject)
		_ = cache.Delete(ctx, subject)
		log.Debug().Str("subject", string(subject)).Msg("entitlements invalidated by peer")
	})
	if err != nil {
		return nil, nil, err
	}
	return cache, bus, nil
}

// memorySweepers limpa o estado em memória que tem prazo: entradas vencidas do
// cache e buckets de hora/dia fora da retenção. Marcas de cooldown não entram
// aqui; elas não expiram.
func memorySweepers(cfg config.Config, st *stores, cache domain.EntitlementCache) []infra.Sweeper {
	var out []infra.Sweeper
	if mc, ok := cache.(*infra.MemoryEntitlementCache); ok {
		out = append(out, infra.Sweeper{Name: "entitlement-cache", Every: cfg.CacheTTL, Sweep: func(time.Time) int {
			return mc.Purge()
		}})
	}
	if mc, ok := st.counters.(*infra.MemoryCounterStore); ok {
		out = append(out, infra.Sweeper{Name: "counters", Every: 10 * time.Minute, Sweep: mc.Prune})
	}
	return out
}
