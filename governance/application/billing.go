package application

import (
	"context"
	"fmt"
	"strings"
	"time"

	"send-governor/governance/domain"
)

// Invalidator é o que as mutações de cobrança precisam do Resolver.
type Invalidator interface {
	Invalidate(ctx context.Context, subject domain.Subject) error
}

// Billing concentra as escritas de cobrança e de conexão de contas.
// Toda escrita bem-sucedida invalida o snapshot de entitlements do subject
// antes de retornar.
type Billing struct {
	Store       domain.BillingWriter
	Invalidator Invalidator
}

func (b Billing) SetPlan(ctx context.Context, subject domain.Subject, ref, planCode, status string, at time.Time) error {
	if at.IsZero() {
		at = time.Now()
	}
	if ref == "" {
		ref = "manual"
	}
	if status == "" {
		status = domain.SubscriptionActive
	}
	sub := domain.Subscription{
		Subject:   subject,
		Ref:       ref,
		PlanCode:  strings.ToLower(strings.TrimSpace(planCode)),
		Status:    strings.ToLower(strings.TrimSpace(status)),
		UpdatedAt: at,
	}
	if err := b.Store.UpsertSubscription(ctx, sub); err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	return b.invalidate(ctx, subject)
}

// GrantAddon é idempotente por (subject, provider): conceder duas vezes não duplica.
func (b Billing) GrantAddon(ctx context.Context, subject domain.Subject, provider domain.Provider) error {
	addon := domain.Addon{Provider: provider, Active: true, Source: domain.AddonSourceAddon}
	if err := b.Store.UpsertAddon(ctx, subject, addon); err != nil {
		return fmt.Errorf("upsert addon: %w", err)
	}
	return b.invalidate(ctx, subject)
}

func (b Billing) RevokeAddon(ctx context.Context, subject domain.Subject, provider domain.Provider) error {
	if err := b.Store.DeactivateAddon(ctx, subject, provider); err != nil {
		return fmt.Errorf("deactivate addon: %w", err)
	}
	return b.invalidate(ctx, subject)
}

func (b Billing) ConnectAccount(ctx context.Context, subject domain.Subject, provider domain.Provider, accountID string) error {
	if err := b.Store.ConnectAccount(ctx, subject, provider, accountID); err != nil {
		return fmt.Errorf("connect account: %w", err)
	}
	return b.invalidate(ctx, subject)
}

func (b Billing) DisconnectAccount(ctx context.Context, subject domain.Subject, provider domain.Provider, accountID string) error {
	if err := b.Store.DisconnectAccount(ctx, subject, provider, accountID); err != nil {
		return fmt.Errorf("disconnect account: %w", err)
	}
	return b.invalidate(ctx, subject)
}

// SetLimits grava o override de limites. Limites não entram no snapshot de
// entitlements, então não há invalidação.
func (b Billing) SetLimits(ctx context.Context, subject domain.Subject, cfg domain.LimitConfig) error {
	if cfg.RecipientCooldown < 0 || cfg.DomainCooldown < 0 {
		return fmt.Errorf("limit config for %s: cooldowns must be >= 0", subject)
	}
	if err := b.Store.SetLimitConfig(ctx, subject, cfg); err != nil {
		return fmt.Errorf("set limit config: %w", err)
	}
	return nil
}

func (b Billing) invalidate(ctx context.Context, subject domain.Subject) error {
	if b.Invalidator == nil {
		return nil
	}
	if err := b.Invalidator.Invalidate(ctx, subject); err != nil {
		return fmt.Errorf("invalidate entitlements for %s: %w", subject, err)
	}
	return nil
}
