package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"send-governor/governance/application"
	"send-governor/governance/domain"
	"send-governor/governance/infra"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func throttled(guard application.RequestGuard, next http.Handler) http.Handler {
	return Throttle(guard, CallerSubject(false))(next)
}

func requestAs(subject string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "http://governor/v1/send/authorize", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	if subject != "" {
		r.Header.Set(SubjectHeader, subject)
	}
	return r
}

func TestThrottle_SubjectOverBudgetGetsThrottledDecision(t *testing.T) {
	guard := application.RequestGuard{Limiters: infra.NewSubjectLimiters(0.01, 1), RetryAfter: 2500 * time.Millisecond}

	calls := 0
	h := throttled(guard, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, requestAs("acme"))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, requestAs("acme"))
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, "3", w.Header().Get("Retry-After"))
	body := decodeBody[errorBody](t, w)
	require.Equal(t, errorBody{
		Error:   "rate limited",
		Message: "too many requests from acme, retry in 3s",
		Code:    string(domain.CodeThrottled),
	}, body)

	// cada subject tem o próprio bucket
	w = httptest.NewRecorder()
	h.ServeHTTP(w, requestAs("globex"))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 2, calls)
}

func TestThrottle_CallsWithoutSubjectShareAddressBucket(t *testing.T) {
	limiters := infra.NewSubjectLimiters(0.01, 1)
	h := throttled(application.RequestGuard{Limiters: limiters}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, requestAs(""))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, requestAs(""))
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Contains(t, decodeBody[errorBody](t, w).Message, "addr:10.0.0.1")

	// o subject "acme" vindo do mesmo endereço não paga pelas chamadas anônimas
	w = httptest.NewRecorder()
	h.ServeHTTP(w, requestAs("acme"))
	require.Equal(t, http.StatusOK, w.Code)
}

func TestThrottle_ThrottledAuthorizeNeverReachesGovernor(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusNoContent,
		env.do(t, http.MethodPut, "/v1/subjects/acme/plan", map[string]string{"plan": "growth"}).Code)
	h := throttled(application.RequestGuard{Limiters: infra.NewSubjectLimiters(0.01, 1)}, env.mux)

	call := func(subject string) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		require.NoError(t, json.NewEncoder(&buf).Encode(send(subject, "email", "bob@example.com")))
		r := httptest.NewRequest(http.MethodPost, "/v1/send/authorize", &buf)
		r.Header.Set(SubjectHeader, subject)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w
	}

	require.Equal(t, http.StatusOK, call("acme").Code)
	w := call("acme")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, string(domain.CodeThrottled), decodeBody[errorBody](t, w).Code)
}

func TestThrottle_NoLimitersPassesThrough(t *testing.T) {
	called := false
	h := Throttle(application.RequestGuard{}, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	h.ServeHTTP(httptest.NewRecorder(), requestAs("acme"))
	require.True(t, called)
}

func TestConcurrency_OverloadedWhenNoSlot(t *testing.T) {
	pool := infra.NewSlotPool(1)
	hold, ok := pool.Acquire(context.Background())
	require.True(t, ok)
	defer hold()

	h := Concurrency(application.RequestGuard{Slots: pool, AcquireTimeout: 10 * time.Millisecond})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Errorf("handler must not run without a slot")
		}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, requestAs("acme"))
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	require.Equal(t, string(domain.CodeOverloaded), decodeBody[errorBody](t, w).Code)
	require.Empty(t, w.Header().Get("Retry-After"))
}

func TestConcurrency_ReleasesSlotAfterHandler(t *testing.T) {
	pool := infra.NewSlotPool(1)
	h := Concurrency(application.RequestGuard{Slots: pool})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, 1, pool.InUse())
	}))

	for i := 0; i < 3; i++ {
		h.ServeHTTP(httptest.NewRecorder(), requestAs("acme"))
	}
	require.Zero(t, pool.InUse())
}

func TestRecoverAndAccessLog(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}), AccessLog(logger), Recover())

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://governor/v1/usage", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	out := buf.String()
	if !strings.Contains(out, `"panic":"boom"`) {
		t.Fatalf("expected panic to be logged, got %s", out)
	}
	if !strings.Contains(out, `"path":"/v1/usage"`) || !strings.Contains(out, `"status":500`) {
		t.Fatalf("expected access log line, got %s", out)
	}
}
