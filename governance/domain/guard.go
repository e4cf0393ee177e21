package domain

import "context"

// Limiter decide se o subject pode fazer mais uma chamada à API agora.
type Limiter interface {
	Allow() bool
}

// LimiterStore entrega o token bucket de chamadas de cada subject.
type LimiterStore interface {
	For(subject Subject) Limiter
}

// SlotPool limita quantas chamadas a API atende ao mesmo tempo.
//
// Acquire bloqueia até conseguir uma vaga ou até o ctx encerrar; o release
// devolvido deve ser chamado exatamente uma vez.
type SlotPool interface {
	Acquire(ctx context.Context) (release func(), ok bool)
}
