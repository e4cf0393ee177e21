package application

import (
	"context"
	"fmt"
	"time"

	"send-governor/governance/domain"
)

const defaultThrottleRetry = time.Second

// RequestGuard protege a API do governor: um token bucket por subject chamador
// e um teto de chamadas simultâneas. As quotas de envio continuam no Governor;
// aqui só se decide se a chamada chega até ele.
type RequestGuard struct {
	Limiters domain.LimiterStore
	Slots    domain.SlotPool
	// RetryAfter é o que o subject throttled deve esperar; 0 usa 1s.
	RetryAfter time.Duration
	// AcquireTimeout limita a espera por vaga; 0 espera até o ctx da requisição.
	AcquireTimeout time.Duration
}

// Admit consome um token do subject. Sem LimiterStore tudo passa.
func (g RequestGuard) Admit(subject domain.Subject) domain.Decision {
	if g.Limiters == nil {
		return domain.Allow()
	}
	if lim := g.Limiters.For(subject); lim == nil || lim.Allow() {
		return domain.Allow()
	}
	retry := g.RetryAfter
	if retry <= 0 {
		retry = defaultThrottleRetry
	}
	return domain.Deny(domain.CodeThrottled,
		fmt.Sprintf("too many requests from %s, retry in %ds", subject, ceilSeconds(retry)), retry)
}

// Enter reserva uma vaga. Quando a decisão nega, release é nil.
func (g RequestGuard) Enter(ctx context.Context) (release func(), dec domain.Decision) {
	if g.Slots == nil {
		return func() {}, domain.Allow()
	}
	if g.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.AcquireTimeout)
		defer cancel()
	}
	release, ok := g.Slots.Acquire(ctx)
	if !ok {
		return nil, domain.Deny(domain.CodeOverloaded, "too many requests in flight, try again shortly", 0)
	}
	return release, domain.Allow()
}
