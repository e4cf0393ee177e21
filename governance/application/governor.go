package application

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"send-governor/governance/domain"

	"github.com/rs/zerolog/log"
)

// EntitlementResolver é o que o Governor precisa do Resolver.
type EntitlementResolver interface {
	Resolve(ctx context.Context, subject domain.Subject) domain.Entitlements
}

// SendRequest descreve um envio de saída em um canal.
type SendRequest struct {
	Subject         domain.Subject
	Provider        domain.Provider
	Recipients      []string
	Domains         []string
	AttachmentBytes int64
	IsReply         bool
	Now             time.Time
}

// Governor combina entitlement, quotas de volume e cooldowns em uma decisão
// ordenada antes do envio, e registra as consequências depois da entrega.
//
// Ele não guarda estado entre chamadas: todo estado vive no CounterStore e no
// CooldownTracker. Colaboradores nil desativam as checagens correspondentes.
type Governor struct {
	Counters     domain.CounterStore
	Cooldowns    domain.CooldownTracker
	Entitlements EntitlementResolver
	Limits       domain.LimitLookup
	Defaults     domain.LimitConfig
	Stats        domain.StatsStore
}

// Authorize aplica as checagens na ordem: entrada estática, entitlement,
// contadores agregados (hora, dia) e por fim os loops por destinatário/domínio.
//
// Erro de store falha fechado: a decisão volta como LIMITS_UNAVAILABLE (500)
// junto com o erro.
func (g Governor) Authorize(ctx context.Context, req SendRequest) (domain.Decision, error) {
	if req.Now.IsZero() {
		req.Now = time.Now()
	}

	dec, err := g.authorize(ctx, req)
	if err != nil {
		log.Error().Err(err).
			Str("subject", string(req.Subject)).
			Str("provider", string(req.Provider)).
			Msg("unable to verify limits")
		dec = domain.Deny(domain.CodeLimitsUnavailable, "unable to verify limits", 0)
	}

	if g.Stats != nil {
		_ = g.Stats.Record(ctx, domain.DecisionEvent{
			Subject:  req.Subject,
			Provider: req.Provider,
			Allowed:  dec.Allowed,
			Code:     dec.Code,
			At:       req.Now,
		})
	}
	return dec, err
}

func (g Governor) authorize(ctx context.Context, req SendRequest) (domain.Decision, error) {
	if len(req.Recipients) == 0 {
		return domain.Deny(domain.CodeNoRecipients, "at least one recipient is required", 0), nil
	}

	limits, err := g.LimitsFor(ctx, req.Subject)
	if err != nil {
		return domain.Decision{}, err
	}

	if limit := limits.MaxRecipientsPerMessage; limit >= 0 && len(req.Recipients) > limit {
		return domain.Deny(domain.CodeTooManyRecipients,
			fmt.Sprintf("too many recipients: %d (max %d per message)", len(req.Recipients), limit), 0), nil
	}
	if limit := limits.MaxAttachmentBytes; limit >= 0 && req.AttachmentBytes > limit {
		return domain.Deny(domain.CodeAttachmentTooLarge,
			fmt.Sprintf("attachments too large: %d bytes (max %d)", req.AttachmentBytes, limit), 0), nil
	}

	if g.Entitlements != nil {
		if !g.Entitlements.Resolve(ctx, req.Subject).Allows(req.Provider) {
			return domain.Deny(domain.CodeNoEntitlement,
				fmt.Sprintf("your plan does not include %s", req.Provider), 0), nil
		}
	}

	if g.Counters != nil {
		if limit := limits.MaxPerHour; limit >= 0 {
			hour := domain.HourOf(req.Now)
			usage, err := g.Counters.Read(ctx, domain.CounterKey{Subject: req.Subject, Provider: req.Provider, Period: hour})
			if err != nil {
				return domain.Decision{}, fmt.Errorf("read hourly counter: %w", err)
			}
			if usage.Sent >= int64(limit) {
				return domain.Deny(domain.CodeHourlyCap,
					fmt.Sprintf("hourly send limit of %d messages reached", limit),
					untilNext(req.Now, time.Hour)), nil
			}
		}

		if limit := limits.EffectiveDailyCap(); limit >= 0 {
			day := domain.DayOf(req.Now)
			usage, err := g.Counters.Read(ctx, domain.CounterKey{Subject: req.Subject, Provider: req.Provider, Period: day})
			if err != nil {
				return domain.Decision{}, fmt.Errorf("read daily counter: %w", err)
			}
			if usage.Sent >= int64(limit) {
				msg := fmt.Sprintf("daily send limit of %d messages reached", limit)
				if limits.TrialMode && limit == limits.TrialDailyCap {
					msg = fmt.Sprintf("trial daily limit of %d messages reached", limit)
				}
				return domain.Deny(domain.CodeDailyCap, msg, untilNext(req.Now, 24*time.Hour)), nil
			}
		}
	}

	if g.Cooldowns != nil {
		// respostas não são contato não solicitado: só o pacing por domínio vale.
		if !req.IsReply && limits.RecipientCooldown > 0 {
			for _, r := range req.Recipients {
				key := NormalizeTarget(r)
				remaining, err := g.remaining(ctx, req, domain.ScopeRecipient, key, limits.RecipientCooldown)
				if err != nil {
					return domain.Decision{}, err
				}
				if remaining > 0 {
					return domain.Deny(domain.CodeRecipientCooldown,
						fmt.Sprintf("please wait %ds before messaging %s again", ceilSeconds(remaining), key),
						remaining), nil
				}
			}
		}
		if limits.DomainCooldown > 0 {
			for _, d := range req.Domains {
				key := NormalizeTarget(d)
				remaining, err := g.remaining(ctx, req, domain.ScopeDomain, key, limits.DomainCooldown)
				if err != nil {
					return domain.Decision{}, err
				}
				if remaining > 0 {
					return domain.Deny(domain.CodeDomainCooldown,
						fmt.Sprintf("please wait %ds before sending to %s again", ceilSeconds(remaining), key),
						remaining), nil
				}
			}
		}
	}

	return domain.Allow(), nil
}

func (g Governor) remaining(ctx context.Context, req SendRequest, scope domain.Scope, key string, cooldown time.Duration) (time.Duration, error) {
	last, ok, err := g.Cooldowns.LastSentAt(ctx, req.Subject, scope, key)
	if err != nil {
		return 0, fmt.Errorf("read %s cooldown: %w", scope, err)
	}
	if !ok {
		return 0, nil
	}
	elapsed := req.Now.Sub(last)
	if elapsed >= cooldown {
		return 0, nil
	}
	remaining := cooldown - elapsed
	if remaining > cooldown {
		remaining = cooldown
	}
	return remaining, nil
}

// Commit registra um envio já confirmado pelo provider. Cada efeito é
// independente: a falha de um não impede os outros, e o erro agregado volta
// para o chamador, que trata a mensagem como enviada-porém-não-contabilizada.
func (g Governor) Commit(ctx context.Context, req SendRequest) error {
	if req.Now.IsZero() {
		req.Now = time.Now()
	}
	var errs []error

	if g.Counters != nil {
		for _, period := range []domain.Period{domain.MonthOf(req.Now), domain.DayOf(req.Now), domain.HourOf(req.Now)} {
			key := domain.CounterKey{Subject: req.Subject, Provider: req.Provider, Period: period}
			if _, err := g.Counters.Increment(ctx, key, domain.FieldSent, 1); err != nil {
				errs = append(errs, fmt.Errorf("increment sent %s: %w", period, err))
			}
		}
	}

	if g.Cooldowns != nil {
		for _, r := range req.Recipients {
			if err := g.Cooldowns.Touch(ctx, req.Subject, domain.ScopeRecipient, NormalizeTarget(r), req.Now); err != nil {
				errs = append(errs, fmt.Errorf("touch recipient cooldown: %w", err))
			}
		}
		for _, d := range req.Domains {
			if err := g.Cooldowns.Touch(ctx, req.Subject, domain.ScopeDomain, NormalizeTarget(d), req.Now); err != nil {
				errs = append(errs, fmt.Errorf("touch domain cooldown: %w", err))
			}
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		log.Warn().Err(err).
			Str("subject", string(req.Subject)).
			Str("provider", string(req.Provider)).
			Msg("commit incomplete, message sent but untracked")
	}
	return err
}

// RecordReceived contabiliza uma mensagem de entrada. Não há gate de autorização.
func (g Governor) RecordReceived(ctx context.Context, subject domain.Subject, provider domain.Provider, now time.Time) error {
	if g.Counters == nil {
		return nil
	}
	if now.IsZero() {
		now = time.Now()
	}
	key := domain.CounterKey{Subject: subject, Provider: provider, Period: domain.MonthOf(now)}
	if _, err := g.Counters.Increment(ctx, key, domain.FieldReceived, 1); err != nil {
		return fmt.Errorf("increment received %s: %w", key.Period, err)
	}
	return nil
}

// LimitsFor devolve o override do subject ou os defaults globais.
func (g Governor) LimitsFor(ctx context.Context, subject domain.Subject) (domain.LimitConfig, error) {
	defaults := g.Defaults
	if defaults == (domain.LimitConfig{}) {
		defaults = domain.DefaultLimitConfig()
	}
	if g.Limits == nil {
		return defaults, nil
	}
	cfg, ok, err := g.Limits.LimitConfig(ctx, subject)
	if err != nil {
		return domain.LimitConfig{}, fmt.Errorf("read limit config: %w", err)
	}
	if !ok {
		return defaults, nil
	}
	return cfg, nil
}

// NormalizeTarget é a forma canônica de um destinatário/domínio nas chaves de cooldown.
func NormalizeTarget(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func untilNext(now time.Time, d time.Duration) time.Duration {
	now = now.UTC()
	return now.Truncate(d).Add(d).Sub(now)
}

func ceilSeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}
