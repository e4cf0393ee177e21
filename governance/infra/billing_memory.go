package infra

import (
	"context"
	"sort"
	"sync"

	"send-governor/governance/domain"
)

// MemoryBilling é o diretório de cobrança em memória (assinaturas, addons,
// contas conectadas, overrides de limite). Útil para testes e para o backend memory.
type MemoryBilling struct {
	mu       sync.RWMutex
	subs     map[domain.Subject]map[string]domain.Subscription
	addons   map[domain.Subject]map[domain.Provider]domain.Addon
	accounts map[domain.Subject]map[domain.Provider]map[string]struct{}
	limits   map[domain.Subject]domain.LimitConfig
}

func NewMemoryBilling() *MemoryBilling {
	return &MemoryBilling{
		subs:     make(map[domain.Subject]map[string]domain.Subscription),
		addons:   make(map[domain.Subject]map[domain.Provider]domain.Addon),
		accounts: make(map[domain.Subject]map[domain.Provider]map[string]struct{}),
		limits:   make(map[domain.Subject]domain.LimitConfig),
	}
}

func (m *MemoryBilling) LatestActivePlan(_ context.Context, subject domain.Subject) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *domain.Subscription
	for _, s := range m.subs[subject] {
		if !s.IsActive() {
			continue
		}
		if latest == nil || s.UpdatedAt.After(latest.UpdatedAt) ||
			(s.UpdatedAt.Equal(latest.UpdatedAt) && s.Ref > latest.Ref) {
			s := s
			latest = &s
		}
	}
	if latest == nil {
		return "", false, nil
	}
	return latest.PlanCode, true, nil
}

func (m *MemoryBilling) ActiveAddons(_ context.Context, subject domain.Subject) ([]domain.Addon, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.Addon, 0, len(m.addons[subject]))
	for _, a := range m.addons[subject] {
		if a.Active {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out, nil
}

func (m *MemoryBilling) HasConnectedAccount(_ context.Context, subject domain.Subject, provider domain.Provider) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.accounts[subject][provider]) > 0, nil
}

func (m *MemoryBilling) LimitConfig(_ context.Context, subject domain.Subject) (domain.LimitConfig, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.limits[subject]
	return cfg, ok, nil
}

func (m *MemoryBilling) UpsertSubscription(_ context.Context, sub domain.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subs[sub.Subject] == nil {
		m.subs[sub.Subject] = make(map[string]domain.Subscription)
	}
	// evento mais antigo que o gravado não sobrescreve
	if cur, ok := m.subs[sub.Subject][sub.Ref]; ok && cur.UpdatedAt.After(sub.UpdatedAt) {
		return nil
	}
	m.subs[sub.Subject][sub.Ref] = sub
	return nil
}

func (m *MemoryBilling) UpsertAddon(_ context.Context, subject domain.Subject, addon domain.Addon) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.addons[subject] == nil {
		m.addons[subject] = make(map[domain.Provider]domain.Addon)
	}
	m.addons[subject][addon.Provider] = addon
	return nil
}

func (m *MemoryBilling) DeactivateAddon(_ context.Context, subject domain.Subject, provider domain.Provider) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.addons[subject][provider]; ok {
		a.Active = false
		m.addons[subject][provider] = a
	}
	return nil
}

func (m *MemoryBilling) ConnectAccount(_ context.Context, subject domain.Subject, provider domain.Provider, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.accounts[subject] == nil {
		m.accounts[subject] = make(map[domain.Provider]map[string]struct{})
	}
	if m.accounts[subject][provider] == nil {
		m.accounts[subject][provider] = make(map[string]struct{})
	}
	m.accounts[subject][provider][accountID] = struct{}{}
	return nil
}

func (m *MemoryBilling) DisconnectAccount(_ context.Context, subject domain.Subject, provider domain.Provider, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.accounts[subject][provider], accountID)
	return nil
}

func (m *MemoryBilling) SetLimitConfig(_ context.Context, subject domain.Subject, cfg domain.LimitConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limits[subject] = cfg
	return nil
}
