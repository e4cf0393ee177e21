package application

import (
	"sync"

	"send-governor/governance/domain"
)

// Generations conta invalidações por subject dentro do processo. Um ponteiro
// nil é válido e sempre responde geração zero.
type Generations struct {
	mu sync.Mutex
	n  map[domain.Subject]uint64
}

func NewGenerations() *Generations {
	return &Generations{n: make(map[domain.Subject]uint64)}
}

func (g *Generations) Current(subject domain.Subject) uint64 {
	if g == nil {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n[subject]
}

// Bump marca que o snapshot do subject ficou velho.
func (g *Generations) Bump(subject domain.Subject) {
	if g == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n[subject]++
}
