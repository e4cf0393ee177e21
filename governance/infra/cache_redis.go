package infra

import (
	"context"
	"errors"
	"fmt"
	"time"

	"send-governor/governance/domain"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/vmihailenco/msgpack/v5"
)

// RedisEntitlementCache é um cache compartilhado entre réplicas: SET com EX
// para o TTL e DEL para a invalidação explícita.
type RedisEntitlementCache struct {
	redisBase
	ttl time.Duration
}

func NewRedisEntitlementCache(rdb redis.UniversalClient, ttl time.Duration, opts ...RedisOption) *RedisEntitlementCache {
	return &RedisEntitlementCache{redisBase: newRedisBase(rdb, opts), ttl: ttl}
}

func (c *RedisEntitlementCache) key(subject domain.Subject) string {
	return joinRedisKey(c.prefix, "entitlements", redisKeyPart(string(subject)))
}

func (c *RedisEntitlementCache) Get(ctx context.Context, subject domain.Subject) (domain.Entitlements, bool, error) {
	raw, err := c.rdb.Get(ctx, c.key(subject)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable("redis entitlement get", err)
	}
	var snap domain.Entitlements
	if err := msgpack.Unmarshal(raw, &snap); err != nil {
		return nil, false, fmt.Errorf("decode entitlements: %w", err)
	}
	return snap, true, nil
}

func (c *RedisEntitlementCache) Set(ctx context.Context, subject domain.Subject, e domain.Entitlements) error {
	raw, err := msgpack.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode entitlements: %w", err)
	}
	if err := c.rdb.Set(ctx, c.key(subject), raw, c.ttl).Err(); err != nil {
		return unavailable("redis entitlement set", err)
	}
	return nil
}

func (c *RedisEntitlementCache) Delete(ctx context.Context, subject domain.Subject) error {
	if err := c.rdb.Del(ctx, c.key(subject)).Err(); err != nil {
		return unavailable("redis entitlement delete", err)
	}
	return nil
}

// RedisInvalidationBus propaga invalidações de entitlements entre réplicas que
// usam cache em processo.
type RedisInvalidationBus struct {
	redisBase
}

func NewRedisInvalidationBus(rdb redis.UniversalClient, opts ...RedisOption) *RedisInvalidationBus {
	return &RedisInvalidationBus{redisBase: newRedisBase(rdb, opts)}
}

func (b *RedisInvalidationBus) channel() string {
	return joinRedisKey(b.prefix, "entitlements", "invalidate")
}

func (b *RedisInvalidationBus) Publish(ctx context.Context, subject domain.Subject) error {
	if err := b.rdb.Publish(ctx, b.channel(), string(subject)).Err(); err != nil {
		return unavailable("redis publish", err)
	}
	return nil
}

// Listen confirma a inscrição antes de retornar e entrega cada subject recebido
// para fn em uma goroutine, até o ctx encerrar.
func (b *RedisInvalidationBus) Listen(ctx context.Context, fn func(domain.Subject)) error {
	sub := b.rdb.Subscribe(ctx, b.channel())
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return unavailable("redis subscribe", err)
	}

	ch := sub.Channel()
	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					log.Warn().Str("channel", b.channel()).Msg("invalidation subscription closed")
					return
				}
				fn(domain.Subject(msg.Payload))
			}
		}
	}()
	return nil
}
