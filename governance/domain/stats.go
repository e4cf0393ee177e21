package domain

import (
	"context"
	"time"
)

// DecisionEvent representa uma decisão de Authorize.
//
// Observação: cuidado com cardinalidade; Subject não deve virar label em bases
// como Prometheus.
type DecisionEvent struct {
	Subject  Subject
	Provider Provider
	Allowed  bool
	Code     Code

	At time.Time
}

// StatsStore é a estratégia de persistência para estatísticas de decisão.
//
// Implementações podem armazenar em Redis, Prometheus, memória, etc.
// O governor trata erro como best-effort (não derruba a decisão).
type StatsStore interface {
	Record(ctx context.Context, ev DecisionEvent) error
}
