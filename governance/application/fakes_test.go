package application

import (
	"context"
	"errors"
	"sync"
	"time"

	"send-governor/governance/domain"
)

var errBoom = errors.New("boom")

type fakeCounters struct {
	mu      sync.Mutex
	rows    map[domain.CounterKey]domain.Usage
	readErr error
	incErr  error
	reads   []domain.Period
}

func newFakeCounters() *fakeCounters {
	return &fakeCounters{rows: make(map[domain.CounterKey]domain.Usage)}
}

func (f *fakeCounters) Increment(_ context.Context, key domain.CounterKey, field domain.Field, delta int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.incErr != nil {
		return 0, f.incErr
	}
	u := f.rows[key]
	if field == domain.FieldReceived {
		u.Received += delta
	} else {
		u.Sent += delta
	}
	f.rows[key] = u
	return u.Get(field), nil
}

func (f *fakeCounters) Read(_ context.Context, key domain.CounterKey) (domain.Usage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads = append(f.reads, key.Period)
	if f.readErr != nil {
		return domain.Usage{}, f.readErr
	}
	return f.rows[key], nil
}

func (f *fakeCounters) set(subject domain.Subject, provider domain.Provider, period domain.Period, sent int64) {
	f.rows[domain.CounterKey{Subject: subject, Provider: provider, Period: period}] = domain.Usage{Sent: sent}
}

type fakeCooldowns struct {
	last     map[string]time.Time
	readErr  error
	touchErr error
	lookups  int
}

func newFakeCooldowns() *fakeCooldowns {
	return &fakeCooldowns{last: make(map[string]time.Time)}
}

func cooldownKey(subject domain.Subject, scope domain.Scope, key string) string {
	return string(subject) + "|" + string(scope) + "|" + key
}

func (f *fakeCooldowns) LastSentAt(_ context.Context, subject domain.Subject, scope domain.Scope, key string) (time.Time, bool, error) {
	f.lookups++
	if f.readErr != nil {
		return time.Time{}, false, f.readErr
	}
	at, ok := f.last[cooldownKey(subject, scope, key)]
	return at, ok, nil
}

func (f *fakeCooldowns) Touch(_ context.Context, subject domain.Subject, scope domain.Scope, key string, now time.Time) error {
	if f.touchErr != nil {
		return f.touchErr
	}
	f.last[cooldownKey(subject, scope, key)] = now
	return nil
}

type staticEntitlements domain.Entitlements

func (s staticEntitlements) Resolve(context.Context, domain.Subject) domain.Entitlements {
	return domain.Entitlements(s)
}

func allEntitled() staticEntitlements {
	e := staticEntitlements{}
	for _, p := range domain.Providers {
		e[p] = true
	}
	return e
}

type fakeLimits struct {
	cfg map[domain.Subject]domain.LimitConfig
	err error
}

func (f fakeLimits) LimitConfig(_ context.Context, subject domain.Subject) (domain.LimitConfig, bool, error) {
	if f.err != nil {
		return domain.LimitConfig{}, false, f.err
	}
	cfg, ok := f.cfg[subject]
	return cfg, ok, nil
}

type fakeStats struct {
	events []domain.DecisionEvent
}

func (f *fakeStats) Record(_ context.Context, ev domain.DecisionEvent) error {
	f.events = append(f.events, ev)
	return nil
}

// fakeDirectory implementa as lookups de cobrança a partir de campos simples.
type fakeDirectory struct {
	plan      string
	hasPlan   bool
	planErr   error
	addons    []domain.Addon
	addonErr  error
	accounts  map[domain.Provider]bool
	accErr    error
	planCalls int
	// duringPlan roda no meio da leitura do plano, antes do Resolve terminar.
	duringPlan func()
}

func (f *fakeDirectory) LatestActivePlan(context.Context, domain.Subject) (string, bool, error) {
	f.planCalls++
	plan, has, err := f.plan, f.hasPlan, f.planErr
	if f.duringPlan != nil {
		f.duringPlan()
	}
	return plan, has, err
}

func (f *fakeDirectory) ActiveAddons(context.Context, domain.Subject) ([]domain.Addon, error) {
	return f.addons, f.addonErr
}

func (f *fakeDirectory) HasConnectedAccount(_ context.Context, _ domain.Subject, p domain.Provider) (bool, error) {
	if f.accErr != nil {
		return false, f.accErr
	}
	return f.accounts[p], nil
}

type fakeCache struct {
	entries map[domain.Subject]domain.Entitlements
	getErr  error
	delErr  error
	sets    int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[domain.Subject]domain.Entitlements)}
}

func (c *fakeCache) Get(_ context.Context, s domain.Subject) (domain.Entitlements, bool, error) {
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	e, ok := c.entries[s]
	return e, ok, nil
}

func (c *fakeCache) Set(_ context.Context, s domain.Subject, e domain.Entitlements) error {
	c.sets++
	c.entries[s] = e
	return nil
}

func (c *fakeCache) Delete(_ context.Context, s domain.Subject) error {
	if c.delErr != nil {
		return c.delErr
	}
	delete(c.entries, s)
	return nil
}

type fakeNotifier struct {
	published []domain.Subject
	err       error
}

func (n *fakeNotifier) Publish(_ context.Context, s domain.Subject) error {
	n.published = append(n.published, s)
	return n.err
}
