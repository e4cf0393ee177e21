package infra

import (
	"context"
	"sync"
	"time"

	"send-governor/governance/domain"

	"github.com/cespare/xxhash/v2"
)

const defaultStripes = 32

// stripedLocks distribui as chaves entre N mutexes pelo hash da chave.
type stripedLocks []sync.Mutex

func newStripedLocks(n int) stripedLocks {
	if n <= 0 {
		n = defaultStripes
	}
	return make(stripedLocks, n)
}

func (s stripedLocks) lockFor(key string) *sync.Mutex {
	return &s[xxhash.Sum64String(key)%uint64(len(s))]
}

// MemoryCounterStore é uma implementação em memória, útil para testes,
// desenvolvimento e para o example-sender. Não persiste entre reinícios.
type MemoryCounterStore struct {
	locks   stripedLocks
	mu      sync.RWMutex
	rows    map[string]*domain.Usage
	periods map[string]domain.Period
}

func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{
		locks:   newStripedLocks(defaultStripes),
		rows:    make(map[string]*domain.Usage),
		periods: make(map[string]domain.Period),
	}
}

func (s *MemoryCounterStore) row(key string, period domain.Period) *domain.Usage {
	s.mu.RLock()
	u, ok := s.rows[key]
	s.mu.RUnlock()
	if ok {
		return u
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.rows[key]; ok {
		return u
	}
	u = &domain.Usage{}
	s.rows[key] = u
	s.periods[key] = period
	return u
}

func (s *MemoryCounterStore) Increment(_ context.Context, key domain.CounterKey, field domain.Field, delta int64) (int64, error) {
	k := counterKeyString(key)
	u := s.row(k, key.Period)

	l := s.locks.lockFor(k)
	l.Lock()
	defer l.Unlock()
	if field == domain.FieldReceived {
		u.Received += delta
		return u.Received, nil
	}
	u.Sent += delta
	return u.Sent, nil
}

func (s *MemoryCounterStore) Read(_ context.Context, key domain.CounterKey) (domain.Usage, error) {
	k := counterKeyString(key)

	s.mu.RLock()
	u, ok := s.rows[k]
	s.mu.RUnlock()
	if !ok {
		return domain.Usage{}, nil
	}

	l := s.locks.lockFor(k)
	l.Lock()
	defer l.Unlock()
	return *u, nil
}

// Prune remove buckets de hora/dia que já passaram da retenção.
func (s *MemoryCounterStore) Prune(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, p := range s.periods {
		if p.Expired(now) {
			delete(s.rows, k)
			delete(s.periods, k)
			n++
		}
	}
	return n
}

// MemoryCooldownTracker guarda o último envio por chave em memória. As marcas
// nunca expiram: um override de cooldown por subject pode ser arbitrariamente longo.
type MemoryCooldownTracker struct {
	mu   sync.RWMutex
	last map[string]time.Time
}

func NewMemoryCooldownTracker() *MemoryCooldownTracker {
	return &MemoryCooldownTracker{last: make(map[string]time.Time)}
}

func (t *MemoryCooldownTracker) LastSentAt(_ context.Context, subject domain.Subject, scope domain.Scope, key string) (time.Time, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	at, ok := t.last[cooldownKeyString(subject, scope, key)]
	return at, ok, nil
}

func (t *MemoryCooldownTracker) Touch(_ context.Context, subject domain.Subject, scope domain.Scope, key string, now time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last[cooldownKeyString(subject, scope, key)] = now
	return nil
}
