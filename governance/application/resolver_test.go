package application

import (
	"context"
	"testing"

	"send-governor/governance/domain"

	"github.com/stretchr/testify/require"
)

func newTestResolver(dir *fakeDirectory, cache *fakeCache) Resolver {
	catalog := DefaultCatalog()
	fallbacks, err := BuildFallbacks(DefaultFallbacks, FallbackDeps{
		Accounts: dir, Addons: dir, Plans: dir, Catalog: catalog,
	})
	if err != nil {
		panic(err)
	}
	r := Resolver{Plans: dir, Addons: dir, Catalog: catalog, Fallbacks: fallbacks, Generations: NewGenerations()}
	if cache != nil {
		r.Cache = cache
	}
	return r
}

func TestResolve_NoPlanIsLowestTier(t *testing.T) {
	r := newTestResolver(&fakeDirectory{}, nil)

	snap := r.Resolve(context.Background(), subj)
	for _, p := range domain.Providers {
		require.False(t, snap[p], p)
	}
}

func TestResolve_PlanProviders(t *testing.T) {
	r := newTestResolver(&fakeDirectory{plan: "growth", hasPlan: true}, nil)

	snap := r.Resolve(context.Background(), subj)
	require.True(t, snap[domain.ProviderEmail])
	require.True(t, snap[domain.ProviderOutlook])
	require.True(t, snap[domain.ProviderWhatsApp])
	// growth só inclui whatsapp; instagram vem pela regra de vínculo
	require.True(t, snap[domain.ProviderInstagram])
}

func TestResolve_WhatsAppAddonLinksInstagram(t *testing.T) {
	r := newTestResolver(&fakeDirectory{addons: []domain.Addon{
		{Provider: domain.ProviderWhatsApp, Active: true, Source: domain.AddonSourceAddon},
	}}, nil)

	snap := r.Resolve(context.Background(), subj)
	require.True(t, snap[domain.ProviderWhatsApp])
	require.True(t, snap[domain.ProviderInstagram])
	require.False(t, snap[domain.ProviderEmail])
}

func TestResolve_PlanSourcedAddonRowIsNotAnAddonGrant(t *testing.T) {
	dir := &fakeDirectory{addons: []domain.Addon{
		{Provider: domain.ProviderEmail, Active: true, Source: domain.AddonSourcePlan},
	}}
	catalog := DefaultCatalog()
	// sem fallbacks: a linha source=plan não concede nada sozinha
	r := Resolver{Plans: dir, Addons: dir, Catalog: catalog}

	snap := r.Resolve(context.Background(), subj)
	require.False(t, snap[domain.ProviderEmail])

	// com direct_entitlement a mesma linha vira concessão conservadora
	r.Fallbacks = []Fallback{DirectEntitlementFallback{Addons: dir}}
	snap = r.Resolve(context.Background(), subj)
	require.True(t, snap[domain.ProviderEmail])
}

func TestResolve_ConnectedInstagramAccountGrantsInstagram(t *testing.T) {
	dir := &fakeDirectory{accounts: map[domain.Provider]bool{domain.ProviderInstagram: true}}
	r := newTestResolver(dir, nil)

	snap := r.Resolve(context.Background(), subj)
	require.True(t, snap[domain.ProviderInstagram])

	g := Governor{Entitlements: r, Counters: newFakeCounters(), Cooldowns: newFakeCooldowns()}
	dec, err := g.Authorize(context.Background(), SendRequest{
		Subject:    subj,
		Provider:   domain.ProviderInstagram,
		Recipients: []string{"@someone"},
		Now:        testNow,
	})
	require.NoError(t, err)
	require.True(t, dec.Allowed)
}

func TestResolve_UnknownActivePlanGrantsViaActiveSubscription(t *testing.T) {
	r := newTestResolver(&fakeDirectory{plan: "legacy-2019", hasPlan: true}, nil)

	snap := r.Resolve(context.Background(), subj)
	for _, p := range domain.Providers {
		require.True(t, snap[p], p)
	}
}

func TestResolve_CachesSnapshot(t *testing.T) {
	dir := &fakeDirectory{plan: "starter", hasPlan: true}
	cache := newFakeCache()
	r := newTestResolver(dir, cache)

	first := r.Resolve(context.Background(), subj)
	calls := dir.planCalls

	dir.plan = "business"
	second := r.Resolve(context.Background(), subj)
	require.Equal(t, first, second)
	require.Equal(t, calls, dir.planCalls, "cached snapshot must not hit the billing lookup")

	require.NoError(t, r.Invalidate(context.Background(), subj))
	third := r.Resolve(context.Background(), subj)
	require.True(t, third[domain.ProviderWhatsApp])
}

func TestResolve_PlanLookupErrorIsLowestTierAndNotCached(t *testing.T) {
	dir := &fakeDirectory{plan: "business", hasPlan: true, planErr: errBoom}
	cache := newFakeCache()
	r := newTestResolver(dir, cache)

	snap := r.Resolve(context.Background(), subj)
	require.False(t, snap[domain.ProviderEmail])
	require.Zero(t, cache.sets)

	dir.planErr = nil
	snap = r.Resolve(context.Background(), subj)
	require.True(t, snap[domain.ProviderEmail])
	require.Equal(t, 1, cache.sets)
}

func TestResolve_CacheReadErrorFallsThrough(t *testing.T) {
	cache := newFakeCache()
	cache.getErr = errBoom
	r := newTestResolver(&fakeDirectory{plan: "starter", hasPlan: true}, cache)

	snap := r.Resolve(context.Background(), subj)
	require.True(t, snap[domain.ProviderEmail])
}

func TestResolve_FallbackErrorDoesNotGrant(t *testing.T) {
	dir := &fakeDirectory{accErr: errBoom}
	cache := newFakeCache()
	r := newTestResolver(dir, cache)

	snap := r.Resolve(context.Background(), subj)
	require.False(t, snap[domain.ProviderEmail])
	require.Zero(t, cache.sets)
}

func TestInvalidate_DeletesAndPublishes(t *testing.T) {
	cache := newFakeCache()
	cache.entries[subj] = domain.Entitlements{domain.ProviderEmail: true}
	notifier := &fakeNotifier{}
	r := Resolver{Catalog: DefaultCatalog(), Cache: cache, Notifier: notifier}

	require.NoError(t, r.Invalidate(context.Background(), subj))
	require.NotContains(t, cache.entries, subj)
	require.Equal(t, []domain.Subject{subj}, notifier.published)
}

func TestInvalidate_JoinsErrorsButStillPublishes(t *testing.T) {
	cache := newFakeCache()
	cache.delErr = errBoom
	notifier := &fakeNotifier{}
	r := Resolver{Catalog: DefaultCatalog(), Cache: cache, Notifier: notifier}

	err := r.Invalidate(context.Background(), subj)
	require.ErrorIs(t, err, errBoom)
	require.Len(t, notifier.published, 1)
}

func TestResolve_InvalidateDuringResolveIsNotOverwritten(t *testing.T) {
	ctx := context.Background()
	dir := &fakeDirectory{plan: "starter", hasPlan: true}
	cache := newFakeCache()
	r := newTestResolver(dir, cache)

	// o plano muda e é invalidado enquanto o Resolve ainda usa o valor antigo
	dir.duringPlan = func() {
		dir.plan = "business"
		dir.duringPlan = nil
		require.NoError(t, r.Invalidate(ctx, subj))
	}

	stale := r.Resolve(ctx, subj)
	require.False(t, stale[domain.ProviderWhatsApp])
	_, cached := cache.entries[subj]
	require.False(t, cached, "stale snapshot must not outlive the invalidation")

	fresh := r.Resolve(ctx, subj)
	require.True(t, fresh[domain.ProviderWhatsApp])
	require.True(t, cache.entries[subj][domain.ProviderWhatsApp])
}

func TestGenerations_NilIsInert(t *testing.T) {
	var g *Generations
	g.Bump(subj)
	require.Zero(t, g.Current(subj))

	g = NewGenerations()
	g.Bump(subj)
	g.Bump(subj)
	require.Equal(t, uint64(2), g.Current(subj))
	require.Zero(t, g.Current("globex"))
}
