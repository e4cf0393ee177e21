package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"send-governor/governance/application"
	"send-governor/governance/domain"
	"send-governor/governance/infra"

	"github.com/stretchr/testify/require"
)

type testEnv struct {
	mux     *http.ServeMux
	billing *infra.MemoryBilling
	cache   *infra.MemoryEntitlementCache
	now     time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		billing: infra.NewMemoryBilling(),
		cache:   infra.NewMemoryEntitlementCache(time.Minute),
		now:     time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC),
	}
	catalog := application.DefaultCatalog()
	fallbacks, err := application.BuildFallbacks(application.DefaultFallbacks, application.FallbackDeps{
		Accounts: env.billing,
		Addons:   env.billing,
		Plans:    env.billing,
		Catalog:  catalog,
	})
	require.NoError(t, err)

	resolver := application.Resolver{
		Plans:     env.billing,
		Addons:    env.billing,
		Catalog:   catalog,
		Fallbacks: fallbacks,
		Cache:     env.cache,
	}
	h := Handlers{
		Governor: application.Governor{
			Counters:     infra.NewMemoryCounterStore(),
			Cooldowns:    infra.NewMemoryCooldownTracker(),
			Entitlements: resolver,
			Limits:       env.billing,
		},
		Resolver: resolver,
		Billing:  application.Billing{Store: env.billing, Invalidator: resolver},
		Now:      func() time.Time { return env.now },
	}
	env.mux = http.NewServeMux()
	h.Register(env.mux)
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	e.mux.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v))
	return v
}

func send(subject, provider string, recipients ...string) map[string]any {
	return map[string]any{"subject": subject, "provider": provider, "recipients": recipients}
}

func TestAuthorize_NoRecipients(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/v1/send/authorize", send("acme", "email"))
	require.Equal(t, http.StatusBadRequest, rr.Code)
	body := decodeBody[errorBody](t, rr)
	require.Equal(t, "NO_RECIPIENTS", body.Code)
}

func TestAuthorize_UnknownProvider(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/v1/send/authorize", send("acme", "fax", "a@x.com"))
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "INVALID_REQUEST", decodeBody[errorBody](t, rr).Code)
}

func TestAuthorize_NotEntitledOnLowestTier(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/v1/send/authorize", send("acme", "email", "a@x.com"))
	require.Equal(t, http.StatusForbidden, rr.Code)
	body := decodeBody[errorBody](t, rr)
	require.Equal(t, "NO_ENTITLEMENT", body.Code)
	require.Equal(t, "your plan does not include email", body.Message)
}

func TestPlanChangeInvalidatesAndAllows(t *testing.T) {
	env := newTestEnv(t)

	// primeiro Resolve cacheia o snapshot sem email
	rr := env.do(t, http.MethodPost, "/v1/send/authorize", send("acme", "email", "a@x.com"))
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = env.do(t, http.MethodPut, "/v1/subjects/acme/plan", map[string]string{"plan": "starter"})
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = env.do(t, http.MethodPost, "/v1/send/authorize", send("acme", "email", "a@x.com"))
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody[authorizeResponse](t, rr)
	require.True(t, body.Allowed)
	require.NotEmpty(t, body.DecisionID)
}

func TestHourlyCapAfterCommit(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusNoContent,
		env.do(t, http.MethodPut, "/v1/subjects/acme/plan", map[string]string{"plan": "business"}).Code)
	require.Equal(t, http.StatusNoContent,
		env.do(t, http.MethodPut, "/v1/subjects/acme/limits", map[string]any{"maxPerHour": 1}).Code)

	rr := env.do(t, http.MethodPost, "/v1/send/commit", send("acme", "whatsapp", "+5511999990000"))
	require.Equal(t, http.StatusAccepted, rr.Code)
	require.True(t, decodeBody[commitResponse](t, rr).Tracked)

	rr = env.do(t, http.MethodPost, "/v1/send/authorize", send("acme", "whatsapp", "+5511999990001"))
	require.Equal(t, http.StatusPaymentRequired, rr.Code)
	require.Equal(t, "HOURLY_CAP", decodeBody[errorBody](t, rr).Code)
	// 12:00 em ponto: falta uma hora inteira até o próximo bucket
	require.Equal(t, "3600", rr.Header().Get("Retry-After"))
}

func TestRecipientCooldownSkippedForReply(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusNoContent,
		env.do(t, http.MethodPut, "/v1/subjects/acme/plan", map[string]string{"plan": "business"}).Code)
	require.Equal(t, http.StatusNoContent,
		env.do(t, http.MethodPut, "/v1/subjects/acme/limits", map[string]any{"domainCooldownSec": 0}).Code)

	require.Equal(t, http.StatusAccepted,
		env.do(t, http.MethodPost, "/v1/send/commit", send("acme", "email", "Bob@Example.com")).Code)

	env.now = env.now.Add(30 * time.Second)
	rr := env.do(t, http.MethodPost, "/v1/send/authorize", send("acme", "email", "bob@example.com"))
	require.Equal(t, http.StatusPaymentRequired, rr.Code)
	body := decodeBody[errorBody](t, rr)
	require.Equal(t, "RECIPIENT_COOLDOWN", body.Code)
	require.Equal(t, "please wait 90s before messaging bob@example.com again", body.Message)
	require.Equal(t, "90", rr.Header().Get("Retry-After"))

	reply := send("acme", "email", "bob@example.com")
	reply["isReply"] = true
	rr = env.do(t, http.MethodPost, "/v1/send/authorize", reply)
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestUsageReflectsCommitAndReceived(t *testing.T) {
	env := newTestEnv(t)

	require.Equal(t, http.StatusAccepted,
		env.do(t, http.MethodPost, "/v1/send/commit", send("acme", "outlook", "a@x.com")).Code)
	require.Equal(t, http.StatusAccepted,
		env.do(t, http.MethodPost, "/v1/messages/received", map[string]string{"subject": "acme", "provider": "outlook"}).Code)

	rr := env.do(t, http.MethodGet, "/v1/usage?subject=acme&provider=outlook", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	stats := decodeBody[application.UsageStats](t, rr)
	require.Equal(t, int64(1), stats.UsedHour)
	require.Equal(t, int64(1), stats.UsedDay)
	require.Equal(t, domain.Usage{Sent: 1, Received: 1}, stats.Month)
	require.Equal(t, domain.DefaultMaxPerHour, stats.PerHour)
	require.Equal(t, 120, stats.Cooldowns.RecipientSec)
}

func TestUsage_RequiresSubject(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodGet, "/v1/usage?provider=email", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAddonGrantsLinkedProviders(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/v1/subjects/acme/addons/instagram", nil)
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = env.do(t, http.MethodGet, "/v1/entitlements/acme", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody[struct {
		Entitlements domain.Entitlements `json:"entitlements"`
	}](t, rr)
	require.True(t, body.Entitlements[domain.ProviderWhatsApp])
	require.True(t, body.Entitlements[domain.ProviderInstagram])
	require.False(t, body.Entitlements[domain.ProviderEmail])

	rr = env.do(t, http.MethodDelete, "/v1/subjects/acme/addons/instagram", nil)
	require.Equal(t, http.StatusNoContent, rr.Code)

	body = decodeBody[struct {
		Entitlements domain.Entitlements `json:"entitlements"`
	}](t, env.do(t, http.MethodGet, "/v1/entitlements/acme", nil))
	require.False(t, body.Entitlements[domain.ProviderWhatsApp])
}

func TestConnectedAccountFallback(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/v1/subjects/acme/accounts/outlook", map[string]string{"accountId": "acc-1"})
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = env.do(t, http.MethodPost, "/v1/send/authorize", send("acme", "email", "a@x.com"))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = env.do(t, http.MethodDelete, "/v1/subjects/acme/accounts/outlook", map[string]string{"accountId": "acc-1"})
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = env.do(t, http.MethodPost, "/v1/send/authorize", send("acme", "email", "a@x.com"))
	require.Equal(t, http.StatusForbidden, rr.Code)
}

func TestAccount_RequiresAccountID(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/v1/subjects/acme/accounts/email", map[string]string{})
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestInvalidateEndpoint(t *testing.T) {
	env := newTestEnv(t)

	env.do(t, http.MethodGet, "/v1/entitlements/acme", nil)
	_, ok, _ := env.cache.Get(t.Context(), "acme")
	require.True(t, ok)

	rr := env.do(t, http.MethodPost, "/v1/entitlements/acme/invalidate", nil)
	require.Equal(t, http.StatusNoContent, rr.Code)
	_, ok, _ = env.cache.Get(t.Context(), "acme")
	require.False(t, ok)
}

func TestSetLimits_RejectsNegativeCooldown(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPut, "/v1/subjects/acme/limits", map[string]any{"recipientCooldownSec": -1})
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSetLimits_UnknownFieldRejected(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPut, "/v1/subjects/acme/limits", map[string]any{"perHour": 5})
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rr.Code)
}
