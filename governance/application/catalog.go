package application

import (
	"fmt"
	"sort"
	"strings"

	"send-governor/governance/domain"
)

// Plan é um tier de cobrança e as capacidades que ele inclui estaticamente.
type Plan struct {
	Code      string            `yaml:"code" json:"code"`
	Rank      int               `yaml:"rank" json:"rank"`
	Providers []domain.Provider `yaml:"providers" json:"providers"`
}

// Catalog é o conjunto fechado de planos. O plano de menor rank é o fallback
// quando o subject não tem assinatura ou quando a consulta falha.
type Catalog struct {
	plans  map[string]Plan
	lowest Plan
}

func NewCatalog(plans []Plan) (Catalog, error) {
	if len(plans) == 0 {
		return Catalog{}, fmt.Errorf("plan catalog is empty")
	}
	c := Catalog{plans: make(map[string]Plan, len(plans))}
	sorted := append([]Plan(nil), plans...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Rank < sorted[j].Rank })
	for i, p := range sorted {
		code := strings.ToLower(strings.TrimSpace(p.Code))
		if code == "" {
			return Catalog{}, fmt.Errorf("plan at rank %d has no code", p.Rank)
		}
		if _, dup := c.plans[code]; dup {
			return Catalog{}, fmt.Errorf("duplicate plan %q", code)
		}
		providers := make([]domain.Provider, 0, len(p.Providers))
		for _, raw := range p.Providers {
			prov, err := domain.ParseProvider(string(raw))
			if err != nil {
				return Catalog{}, fmt.Errorf("plan %q: %w", code, err)
			}
			providers = append(providers, prov.Capability())
		}
		plan := Plan{Code: code, Rank: p.Rank, Providers: providers}
		c.plans[code] = plan
		if i == 0 {
			c.lowest = plan
		}
	}
	return c, nil
}

// DefaultCatalog é o catálogo embutido; o tier mais alto inclui todos os canais.
func DefaultCatalog() Catalog {
	c, err := NewCatalog([]Plan{
		{Code: "free", Rank: 0},
		{Code: "starter", Rank: 1, Providers: []domain.Provider{domain.ProviderEmail}},
		{Code: "growth", Rank: 2, Providers: []domain.Provider{domain.ProviderEmail, domain.ProviderWhatsApp}},
		{Code: "business", Rank: 3, Providers: domain.Capabilities},
	})
	if err != nil {
		panic(err)
	}
	return c
}

func (c Catalog) Lookup(code string) (Plan, bool) {
	p, ok := c.plans[strings.ToLower(strings.TrimSpace(code))]
	return p, ok
}

func (c Catalog) Lowest() Plan { return c.lowest }
