package application

import (
	"context"
	"errors"
	"fmt"

	"send-governor/governance/domain"

	"github.com/rs/zerolog/log"
)

// Resolver deriva o snapshot de entitlements de um subject a partir de
// plano ∪ addons ∪ fallbacks, com cache explícito e invalidação por subject.
type Resolver struct {
	Plans     domain.PlanLookup
	Addons    domain.AddonLookup
	Catalog   Catalog
	Fallbacks []Fallback
	Cache     domain.EntitlementCache
	Notifier  domain.InvalidationNotifier
	// Generations detecta um Invalidate concorrente com o Resolve; sem ele o
	// snapshot antigo pode ficar cacheado por mais um TTL.
	Generations *Generations
}

// Resolve nunca falha: erros de store resolvem para o tier mais baixo e o
// snapshot degradado não é cacheado, para que a próxima chamada tente de novo.
func (r Resolver) Resolve(ctx context.Context, subject domain.Subject) domain.Entitlements {
	if r.Cache != nil {
		snap, ok, err := r.Cache.Get(ctx, subject)
		if err != nil {
			log.Warn().Err(err).Str("subject", string(subject)).Msg("entitlement cache read failed")
		} else if ok {
			return snap
		}
	}

	gen := r.Generations.Current(subject)
	snap, degraded := r.resolve(ctx, subject)
	if r.Cache == nil || degraded {
		return snap
	}
	if err := r.Cache.Set(ctx, subject, snap); err != nil {
		log.Warn().Err(err).Str("subject", string(subject)).Msg("entitlement cache write failed")
		return snap
	}
	// Invalidate incrementa antes de apagar: se a geração mudou, o Set acima
	// pode ter chegado depois do Delete dele.
	if r.Generations.Current(subject) != gen {
		if err := r.Cache.Delete(ctx, subject); err != nil {
			log.Warn().Err(err).Str("subject", string(subject)).Msg("stale entitlement drop failed")
		}
	}
	return snap
}

func (r Resolver) resolve(ctx context.Context, subject domain.Subject) (domain.Entitlements, bool) {
	granted := make(map[domain.Provider]bool, len(domain.Capabilities))
	degraded := false

	plan := r.Catalog.Lowest()
	if r.Plans != nil {
		code, ok, err := r.Plans.LatestActivePlan(ctx, subject)
		switch {
		case err != nil:
			degraded = true
			log.Warn().Err(err).Str("subject", string(subject)).Str("plan", plan.Code).
				Msg("plan lookup failed, resolving to lowest tier")
		case ok:
			if p, found := r.Catalog.Lookup(code); found {
				plan = p
			} else {
				log.Debug().Str("subject", string(subject)).Str("plan", code).Msg("plan not in catalog")
			}
		}
	}
	for _, p := range plan.Providers {
		granted[p.Capability()] = true
	}

	if r.Addons != nil {
		addons, err := r.Addons.ActiveAddons(ctx, subject)
		if err != nil {
			degraded = true
			log.Warn().Err(err).Str("subject", string(subject)).Msg("addon lookup failed, ignoring addons")
		}
		for _, a := range addons {
			if a.Active && a.Source == domain.AddonSourceAddon {
				granted[a.Provider.Capability()] = true
			}
		}
	}

	// whatsapp e instagram compartilham a mesma credencial de provider.
	for _, c := range domain.Capabilities {
		if !granted[c] {
			continue
		}
		if linked, ok := c.Linked(); ok {
			granted[linked] = true
		}
	}

	for _, c := range domain.Capabilities {
		if granted[c] {
			continue
		}
		for _, fb := range r.Fallbacks {
			ok, err := fb.Grants(ctx, subject, c)
			if err != nil {
				degraded = true
				log.Warn().Err(err).Str("subject", string(subject)).Str("provider", string(c)).
					Str("fallback", fb.Name()).Msg("entitlement fallback failed")
				continue
			}
			if ok {
				granted[c] = true
				log.Debug().Str("subject", string(subject)).Str("provider", string(c)).
					Str("fallback", fb.Name()).Msg("entitlement granted by fallback")
				break
			}
		}
	}

	snap := make(domain.Entitlements, len(domain.Providers))
	for _, p := range domain.Providers {
		snap[p] = granted[p.Capability()]
	}
	return snap, degraded
}

// Invalidate descarta o snapshot do subject e avisa as outras réplicas.
// Deve ser chamado em toda escrita de assinatura e em todo connect/disconnect de conta.
func (r Resolver) Invalidate(ctx context.Context, subject domain.Subject) error {
	r.Generations.Bump(subject)
	var errs []error
	if r.Cache != nil {
		if err := r.Cache.Delete(ctx, subject); err != nil {
			errs = append(errs, fmt.Errorf("delete cached entitlements: %w", err))
		}
	}
	if r.Notifier != nil {
		if err := r.Notifier.Publish(ctx, subject); err != nil {
			errs = append(errs, fmt.Errorf("publish invalidation: %w", err))
		}
	}
	return errors.Join(errs...)
}
