package domain

import (
	"context"
	"time"
)

// Entitlements é o snapshot resolvido {provider -> permitido} de um subject.
type Entitlements map[Provider]bool

// Allows consulta o canal pela sua capacidade (outlook usa a classe email).
func (e Entitlements) Allows(p Provider) bool {
	if e == nil {
		return false
	}
	if e[p] {
		return true
	}
	return e[p.Capability()]
}

func (e Entitlements) Clone() Entitlements {
	out := make(Entitlements, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}

type AddonSource string

const (
	AddonSourcePlan  AddonSource = "plan"
	AddonSourceAddon AddonSource = "addon"
)

// Addon é uma concessão de capacidade independente do plano.
type Addon struct {
	Provider Provider    `json:"provider"`
	Active   bool        `json:"active"`
	Source   AddonSource `json:"source"`
}

// Subscription é a linha de cobrança mais recente de um subject.
type Subscription struct {
	Subject Subject `json:"subject"`
	// Ref identifica a assinatura na origem (ex: id da Stripe); vazio vira "manual".
	Ref       string    `json:"ref"`
	PlanCode  string    `json:"planCode"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updatedAt"`
}

const (
	SubscriptionActive   = "active"
	SubscriptionTrialing = "trialing"
	SubscriptionCanceled = "canceled"
)

func (s Subscription) IsActive() bool {
	return s.Status == SubscriptionActive || s.Status == SubscriptionTrialing
}

// PlanLookup devolve o plano da assinatura ativa mais recente; ok=false quando não há.
type PlanLookup interface {
	LatestActivePlan(ctx context.Context, subject Subject) (plan string, ok bool, err error)
}

// AddonLookup devolve apenas os addons ativos do subject.
type AddonLookup interface {
	ActiveAddons(ctx context.Context, subject Subject) ([]Addon, error)
}

type AccountLookup interface {
	HasConnectedAccount(ctx context.Context, subject Subject, provider Provider) (bool, error)
}

// BillingWriter concentra as mutações de cobrança/conta. Toda chamada deve ser
// seguida de invalidação do snapshot de entitlements do subject.
type BillingWriter interface {
	UpsertSubscription(ctx context.Context, sub Subscription) error
	UpsertAddon(ctx context.Context, subject Subject, addon Addon) error
	DeactivateAddon(ctx context.Context, subject Subject, provider Provider) error
	ConnectAccount(ctx context.Context, subject Subject, provider Provider, accountID string) error
	DisconnectAccount(ctx context.Context, subject Subject, provider Provider, accountID string) error
	SetLimitConfig(ctx context.Context, subject Subject, cfg LimitConfig) error
}

// EntitlementCache guarda snapshots com TTL. Erros são tratados como cache miss.
type EntitlementCache interface {
	Get(ctx context.Context, subject Subject) (Entitlements, bool, error)
	Set(ctx context.Context, subject Subject, e Entitlements) error
	Delete(ctx context.Context, subject Subject) error
}

// InvalidationNotifier propaga invalidações para outras réplicas.
type InvalidationNotifier interface {
	Publish(ctx context.Context, subject Subject) error
}
