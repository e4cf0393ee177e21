package application

import (
	"context"
	"fmt"
	"strings"

	"send-governor/governance/domain"
)

// Fallback é uma estratégia nomeada de concessão conservadora: quando plano e
// addons não liberam uma capacidade, a cadeia é consultada em ordem e o
// primeiro Grants=true libera.
type Fallback interface {
	Name() string
	Grants(ctx context.Context, subject domain.Subject, capability domain.Provider) (bool, error)
}

const (
	FallbackConnectedAccount   = "connected_account"
	FallbackDirectEntitlement  = "direct_entitlement"
	FallbackActiveSubscription = "active_subscription"
)

var DefaultFallbacks = []string{FallbackConnectedAccount, FallbackDirectEntitlement, FallbackActiveSubscription}

// ConnectedAccountFallback libera quando já existe uma conta conectada para
// algum canal da capacidade (ex: conta outlook libera a classe email).
type ConnectedAccountFallback struct {
	Accounts domain.AccountLookup
}

func (ConnectedAccountFallback) Name() string { return FallbackConnectedAccount }

func (f ConnectedAccountFallback) Grants(ctx context.Context, subject domain.Subject, capability domain.Provider) (bool, error) {
	for _, p := range domain.ProvidersOf(capability) {
		ok, err := f.Accounts.HasConnectedAccount(ctx, subject, p)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// DirectEntitlementFallback libera quando existe uma linha de entitlement ativa
// para a capacidade, inclusive as criadas pelo plano (source=plan), que não
// entram na união de addons.
type DirectEntitlementFallback struct {
	Addons domain.AddonLookup
}

func (DirectEntitlementFallback) Name() string { return FallbackDirectEntitlement }

func (f DirectEntitlementFallback) Grants(ctx context.Context, subject domain.Subject, capability domain.Provider) (bool, error) {
	addons, err := f.Addons.ActiveAddons(ctx, subject)
	if err != nil {
		return false, err
	}
	for _, a := range addons {
		if a.Active && a.Provider.Capability() == capability {
			return true, nil
		}
	}
	return false, nil
}

// ActiveSubscriptionFallback libera quando há uma assinatura ativa cujo plano
// não está no catálogo (preço legado/custom): na dúvida, concede.
type ActiveSubscriptionFallback struct {
	Plans   domain.PlanLookup
	Catalog Catalog
}

func (ActiveSubscriptionFallback) Name() string { return FallbackActiveSubscription }

func (f ActiveSubscriptionFallback) Grants(ctx context.Context, subject domain.Subject, _ domain.Provider) (bool, error) {
	code, ok, err := f.Plans.LatestActivePlan(ctx, subject)
	if err != nil || !ok {
		return false, err
	}
	_, known := f.Catalog.Lookup(code)
	return !known, nil
}

// FallbackDeps são os colaboradores necessários para montar a cadeia por nome.
type FallbackDeps struct {
	Accounts domain.AccountLookup
	Addons   domain.AddonLookup
	Plans    domain.PlanLookup
	Catalog  Catalog
}

// BuildFallbacks monta a cadeia na ordem dos nomes recebidos.
func BuildFallbacks(names []string, deps FallbackDeps) ([]Fallback, error) {
	out := make([]Fallback, 0, len(names))
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		switch name {
		case "":
			continue
		case FallbackConnectedAccount:
			if deps.Accounts == nil {
				return nil, fmt.Errorf("fallback %s requires an account lookup", name)
			}
			out = append(out, ConnectedAccountFallback{Accounts: deps.Accounts})
		case FallbackDirectEntitlement:
			if deps.Addons == nil {
				return nil, fmt.Errorf("fallback %s requires an addon lookup", name)
			}
			out = append(out, DirectEntitlementFallback{Addons: deps.Addons})
		case FallbackActiveSubscription:
			if deps.Plans == nil {
				return nil, fmt.Errorf("fallback %s requires a plan lookup", name)
			}
			out = append(out, ActiveSubscriptionFallback{Plans: deps.Plans, Catalog: deps.Catalog})
		default:
			return nil, fmt.Errorf("unknown fallback %q", raw)
		}
	}
	return out, nil
}
