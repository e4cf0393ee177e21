package infra

import (
	"context"
	"sync"

	"send-governor/governance/domain"
)

type Counters struct {
	Allowed int64 `json:"allowed"`
	Denied  int64 `json:"denied"`
}

// StatsSnapshot é a visão serializável do MemoryStatsStore.
type StatsSnapshot struct {
	Total      Counters                     `json:"total"`
	ByProvider map[domain.Provider]Counters `json:"byProvider"`
	ByCode     map[domain.Code]int64        `json:"byCode"`
}

// MemoryStatsStore é uma implementação simples em memória.
// Útil para testes e desenvolvimento.
//
// Não faz expiração e não é indicada para produção.
type MemoryStatsStore struct {
	mu         sync.Mutex
	total      Counters
	byProvider map[domain.Provider]Counters
	byCode     map[domain.Code]int64
}

func NewMemoryStatsStore() *MemoryStatsStore {
	return &MemoryStatsStore{
		byProvider: make(map[domain.Provider]Counters),
		byCode:     make(map[domain.Code]int64),
	}
}

func (s *MemoryStatsStore) Record(_ context.Context, ev domain.DecisionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.byProvider[ev.Provider]
	if ev.Allowed {
		s.total.Allowed++
		c.Allowed++
	} else {
		s.total.Denied++
		c.Denied++
		s.byCode[ev.Code]++
	}
	s.byProvider[ev.Provider] = c
	return nil
}

func (s *MemoryStatsStore) Total() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *MemoryStatsStore) ByProvider() map[domain.Provider]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[domain.Provider]Counters, len(s.byProvider))
	for k, v := range s.byProvider {
		out[k] = v
	}
	return out
}

// ByCode conta apenas negações.
func (s *MemoryStatsStore) ByCode() map[domain.Code]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[domain.Code]int64, len(s.byCode))
	for k, v := range s.byCode {
		out[k] = v
	}
	return out
}

// Snapshot devolve uma cópia dos contadores atuais.
func (s *MemoryStatsStore) Snapshot() any {
	return StatsSnapshot{Total: s.Total(), ByProvider: s.ByProvider(), ByCode: s.ByCode()}
}

// StatsFanout repassa cada evento para vários stores; o primeiro erro é devolvido
// depois que todos foram chamados.
type StatsFanout []domain.StatsStore

func (f StatsFanout) Record(ctx context.Context, ev domain.DecisionEvent) error {
	var first error
	for _, s := range f {
		if err := s.Record(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
