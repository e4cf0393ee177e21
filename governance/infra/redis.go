package infra

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"send-governor/governance/domain"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "governor"

type RedisOption func(*redisBase)

type redisBase struct {
	rdb    redis.UniversalClient
	prefix string
}

func WithRedisPrefix(prefix string) RedisOption {
	return func(b *redisBase) {
		if p := strings.Trim(prefix, ":"); p != "" {
			b.prefix = p
		}
	}
}

func newRedisBase(rdb redis.UniversalClient, opts []RedisOption) redisBase {
	b := redisBase{rdb: rdb, prefix: defaultRedisPrefix}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStoreUnavailable, err)
}

// RedisCounterStore guarda cada (subject, provider, period) em um hash com os
// campos sent/received. HINCRBY é atômico no servidor, então incrementos
// concorrentes nunca se perdem. Buckets de hora/dia recebem TTL; o mensal não expira.
type RedisCounterStore struct {
	redisBase
}

func NewRedisCounterStore(rdb redis.UniversalClient, opts ...RedisOption) *RedisCounterStore {
	return &RedisCounterStore{redisBase: newRedisBase(rdb, opts)}
}

func (s *RedisCounterStore) key(k domain.CounterKey) string {
	return joinRedisKey(s.prefix, "usage", redisKeyPart(string(k.Subject)), string(k.Provider), k.Period.Label)
}

func (s *RedisCounterStore) Increment(ctx context.Context, key domain.CounterKey, field domain.Field, delta int64) (int64, error) {
	rk := s.key(key)

	pipe := s.rdb.TxPipeline()
	incr := pipe.HIncrBy(ctx, rk, string(field), delta)
	if ttl := key.Period.Retention(); ttl > 0 {
		pipe.Expire(ctx, rk, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, unavailable("redis increment", err)
	}
	return incr.Val(), nil
}

func (s *RedisCounterStore) Read(ctx context.Context, key domain.CounterKey) (domain.Usage, error) {
	vals, err := s.rdb.HGetAll(ctx, s.key(key)).Result()
	if err != nil {
		return domain.Usage{}, unavailable("redis read", err)
	}
	var u domain.Usage
	if u.Sent, err = parseCounter(vals[string(domain.FieldSent)]); err != nil {
		return domain.Usage{}, err
	}
	if u.Received, err = parseCounter(vals[string(domain.FieldReceived)]); err != nil {
		return domain.Usage{}, err
	}
	return u, nil
}

func parseCounter(v string) (int64, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt counter value %q: %w", v, err)
	}
	return n, nil
}

// RedisCooldownTracker guarda o último envio como unix millis, sem expiração.
type RedisCooldownTracker struct {
	redisBase
}

func NewRedisCooldownTracker(rdb redis.UniversalClient, opts ...RedisOption) *RedisCooldownTracker {
	return &RedisCooldownTracker{redisBase: newRedisBase(rdb, opts)}
}

func (t *RedisCooldownTracker) key(subject domain.Subject, scope domain.Scope, key string) string {
	return joinRedisKey(t.prefix, "cooldown", redisKeyPart(string(subject)), string(scope), redisKeyPart(key))
}

func (t *RedisCooldownTracker) LastSentAt(ctx context.Context, subject domain.Subject, scope domain.Scope, key string) (time.Time, bool, error) {
	ms, err := t.rdb.Get(ctx, t.key(subject, scope, key)).Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, unavailable("redis cooldown read", err)
	}
	return time.UnixMilli(ms).UTC(), true, nil
}

func (t *RedisCooldownTracker) Touch(ctx context.Context, subject domain.Subject, scope domain.Scope, key string, now time.Time) error {
	if err := t.rdb.Set(ctx, t.key(subject, scope, key), now.UnixMilli(), 0).Err(); err != nil {
		return unavailable("redis cooldown touch", err)
	}
	return nil
}
