package infra

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"send-governor/governance/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// EnsureSchema cria as tabelas do governor se ainda não existirem.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// PostgresStore implementa CounterStore e CooldownTracker.
//
// Increment é um único INSERT ... ON CONFLICT DO UPDATE SET x = x + EXCLUDED.x,
// então dois commits concorrentes na mesma linha nunca perdem incremento.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Increment(ctx context.Context, key domain.CounterKey, field domain.Field, delta int64) (int64, error) {
	var sent, received int64
	if field == domain.FieldReceived {
		received = delta
	} else {
		sent = delta
	}

	query := `
		INSERT INTO usage_counters (subject, provider, period, sent, received)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (subject, provider, period)
		DO UPDATE SET sent = usage_counters.sent + EXCLUDED.sent,
			received = usage_counters.received + EXCLUDED.received,
			updated_at = NOW()
		RETURNING sent, received
	`
	var u domain.Usage
	err := s.pool.QueryRow(ctx, query,
		string(key.Subject), string(key.Provider), key.Period.Label, sent, received,
	).Scan(&u.Sent, &u.Received)
	if err != nil {
		return 0, unavailable("postgres increment", err)
	}
	return u.Get(field), nil
}

func (s *PostgresStore) Read(ctx context.Context, key domain.CounterKey) (domain.Usage, error) {
	query := `
		SELECT sent, received
		FROM usage_counters
		WHERE subject = $1 AND provider = $2 AND period = $3
	`
	var u domain.Usage
	err := s.pool.QueryRow(ctx, query, string(key.Subject), string(key.Provider), key.Period.Label).
		Scan(&u.Sent, &u.Received)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Usage{}, nil
	}
	if err != nil {
		return domain.Usage{}, unavailable("postgres read", err)
	}
	return u, nil
}

func (s *PostgresStore) LastSentAt(ctx context.Context, subject domain.Subject, scope domain.Scope, key string) (time.Time, bool, error) {
	query := `
		SELECT last_sent_at
		FROM send_cooldowns
		WHERE subject = $1 AND scope = $2 AND target = $3
	`
	var at time.Time
	err := s.pool.QueryRow(ctx, query, string(subject), string(scope), key).Scan(&at)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, unavailable("postgres cooldown read", err)
	}
	return at.UTC(), true, nil
}

func (s *PostgresStore) Touch(ctx context.Context, subject domain.Subject, scope domain.Scope, key string, now time.Time) error {
	query := `
		INSERT INTO send_cooldowns (subject, scope, target, last_sent_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (subject, scope, target)
		DO UPDATE SET last_sent_at = EXCLUDED.last_sent_at
	`
	if _, err := s.pool.Exec(ctx, query, string(subject), string(scope), key, now.UTC()); err != nil {
		return unavailable("postgres cooldown touch", err)
	}
	return nil
}

// PostgresBilling implementa as consultas de cobrança (PlanLookup, AddonLookup,
// AccountLookup, LimitLookup) e as escritas (BillingWriter).
type PostgresBilling struct {
	pool *pgxpool.Pool
}

func NewPostgresBilling(pool *pgxpool.Pool) *PostgresBilling {
	return &PostgresBilling{pool: pool}
}

func (b *PostgresBilling) LatestActivePlan(ctx context.Context, subject domain.Subject) (string, bool, error) {
	query := `
		SELECT plan_code
		FROM billing_subscriptions
		WHERE subject = $1 AND status IN ($2, $3)
		ORDER BY updated_at DESC, id DESC
		LIMIT 1
	`
	var plan string
	err := b.pool.QueryRow(ctx, query, string(subject), domain.SubscriptionActive, domain.SubscriptionTrialing).Scan(&plan)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, unavailable("postgres latest plan", err)
	}
	return plan, true, nil
}

func (b *PostgresBilling) ActiveAddons(ctx context.Context, subject domain.Subject) ([]domain.Addon, error) {
	query := `
		SELECT provider, active, source
		FROM subject_addons
		WHERE subject = $1 AND active
		ORDER BY provider
	`
	rows, err := b.pool.Query(ctx, query, string(subject))
	if err != nil {
		return nil, unavailable("postgres addons", err)
	}
	defer rows.Close()

	var out []domain.Addon
	for rows.Next() {
		var provider, source string
		var a domain.Addon
		if err := rows.Scan(&provider, &a.Active, &source); err != nil {
			return nil, fmt.Errorf("failed to scan addon: %w", err)
		}
		p, err := domain.ParseProvider(provider)
		if err != nil {
			continue
		}
		a.Provider = p
		a.Source = domain.AddonSource(source)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("postgres addons", err)
	}
	return out, nil
}

func (b *PostgresBilling) HasConnectedAccount(ctx context.Context, subject domain.Subject, provider domain.Provider) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM connected_accounts WHERE subject = $1 AND provider = $2)`
	var ok bool
	if err := b.pool.QueryRow(ctx, query, string(subject), string(provider)).Scan(&ok); err != nil {
		return false, unavailable("postgres connected account", err)
	}
	return ok, nil
}

func (b *PostgresBilling) LimitConfig(ctx context.Context, subject domain.Subject) (domain.LimitConfig, bool, error) {
	query := `
		SELECT max_recipients_per_message, max_per_hour, max_per_day,
			recipient_cooldown_seconds, domain_cooldown_seconds,
			max_attachment_bytes, trial_mode, trial_daily_cap
		FROM subject_limits
		WHERE subject = $1
	`
	var (
		cfg                  domain.LimitConfig
		recipientSec, domSec int
	)
	err := b.pool.QueryRow(ctx, query, string(subject)).Scan(
		&cfg.MaxRecipientsPerMessage,
		&cfg.MaxPerHour,
		&cfg.MaxPerDay,
		&recipientSec,
		&domSec,
		&cfg.MaxAttachmentBytes,
		&cfg.TrialMode,
		&cfg.TrialDailyCap,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.LimitConfig{}, false, nil
	}
	if err != nil {
		return domain.LimitConfig{}, false, unavailable("postgres limit config", err)
	}
	cfg.RecipientCooldown = time.Duration(recipientSec) * time.Second
	cfg.DomainCooldown = time.Duration(domSec) * time.Second
	return cfg, true, nil
}

// UpsertSubscription ignora eventos mais antigos que a linha gravada: webhooks
// chegam fora de ordem e um updated atrasado não pode reativar um cancelamento.
func (b *PostgresBilling) UpsertSubscription(ctx context.Context, sub domain.Subscription) error {
	query := `
		INSERT INTO billing_subscriptions (subject, ref, plan_code, status, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (subject, ref)
		DO UPDATE SET plan_code = EXCLUDED.plan_code,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at
		WHERE billing_subscriptions.updated_at <= EXCLUDED.updated_at
	`
	_, err := b.pool.Exec(ctx, query, string(sub.Subject), sub.Ref, sub.PlanCode, sub.Status, sub.UpdatedAt.UTC())
	if err != nil {
		return unavailable("postgres upsert subscription", err)
	}
	return nil
}

func (b *PostgresBilling) UpsertAddon(ctx context.Context, subject domain.Subject, addon domain.Addon) error {
	query := `
		INSERT INTO subject_addons (subject, provider, active, source)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (subject, provider)
		DO UPDATE SET active = EXCLUDED.active, source = EXCLUDED.source
	`
	_, err := b.pool.Exec(ctx, query, string(subject), string(addon.Provider), addon.Active, string(addon.Source))
	if err != nil {
		return unavailable("postgres upsert addon", err)
	}
	return nil
}

func (b *PostgresBilling) DeactivateAddon(ctx context.Context, subject domain.Subject, provider domain.Provider) error {
	query := `UPDATE subject_addons SET active = FALSE WHERE subject = $1 AND provider = $2`
	if _, err := b.pool.Exec(ctx, query, string(subject), string(provider)); err != nil {
		return unavailable("postgres deactivate addon", err)
	}
	return nil
}

func (b *PostgresBilling) ConnectAccount(ctx context.Context, subject domain.Subject, provider domain.Provider, accountID string) error {
	query := `
		INSERT INTO connected_accounts (subject, provider, account_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (subject, provider, account_id) DO NOTHING
	`
	if _, err := b.pool.Exec(ctx, query, string(subject), string(provider), accountID); err != nil {
		return unavailable("postgres connect account", err)
	}
	return nil
}

func (b *PostgresBilling) DisconnectAccount(ctx context.Context, subject domain.Subject, provider domain.Provider, accountID string) error {
	query := `DELETE FROM connected_accounts WHERE subject = $1 AND provider = $2 AND account_id = $3`
	if _, err := b.pool.Exec(ctx, query, string(subject), string(provider), accountID); err != nil {
		return unavailable("postgres disconnect account", err)
	}
	return nil
}

func (b *PostgresBilling) SetLimitConfig(ctx context.Context, subject domain.Subject, cfg domain.LimitConfig) error {
	query := `
		INSERT INTO subject_limits (
			subject, max_recipients_per_message, max_per_hour, max_per_day,
			recipient_cooldown_seconds, domain_cooldown_seconds,
			max_attachment_bytes, trial_mode, trial_daily_cap
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (subject) DO UPDATE SET
			max_recipients_per_message = EXCLUDED.max_recipients_per_message,
			max_per_hour = EXCLUDED.max_per_hour,
			max_per_day = EXCLUDED.max_per_day,
			recipient_cooldown_seconds = EXCLUDED.recipient_cooldown_seconds,
			domain_cooldown_seconds = EXCLUDED.domain_cooldown_seconds,
			max_attachment_bytes = EXCLUDED.max_attachment_bytes,
			trial_mode = EXCLUDED.trial_mode,
			trial_daily_cap = EXCLUDED.trial_daily_cap
	`
	_, err := b.pool.Exec(ctx, query,
		string(subject),
		cfg.MaxRecipientsPerMessage,
		cfg.MaxPerHour,
		cfg.MaxPerDay,
		int(cfg.RecipientCooldown/time.Second),
		int(cfg.DomainCooldown/time.Second),
		cfg.MaxAttachmentBytes,
		cfg.TrialMode,
		cfg.TrialDailyCap,
	)
	if err != nil {
		return unavailable("postgres set limit config", err)
	}
	return nil
}
