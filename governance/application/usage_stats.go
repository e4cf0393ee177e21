package application

import (
	"context"
	"fmt"
	"time"

	"send-governor/governance/domain"
)

type CooldownStats struct {
	RecipientSec int `json:"recipientSec"`
	DomainSec    int `json:"domainSec"`
}

// UsageStats é a visão de dashboard dos mesmos contadores lidos por Authorize.
type UsageStats struct {
	Provider  domain.Provider `json:"provider"`
	PerHour   int             `json:"perHour"`
	UsedHour  int64           `json:"usedHour"`
	PerDay    int             `json:"perDay"`
	UsedDay   int64           `json:"usedDay"`
	TrialMode bool            `json:"trialMode"`
	Month     domain.Usage    `json:"month"`
	Cooldowns CooldownStats   `json:"cooldowns"`
}

// GetUsageStats lê os contadores no momento da chamada, sem cache próprio.
func (g Governor) GetUsageStats(ctx context.Context, subject domain.Subject, provider domain.Provider, now time.Time) (UsageStats, error) {
	if now.IsZero() {
		now = time.Now()
	}
	limits, err := g.LimitsFor(ctx, subject)
	if err != nil {
		return UsageStats{}, err
	}

	stats := UsageStats{
		Provider:  provider,
		PerHour:   limits.MaxPerHour,
		PerDay:    limits.EffectiveDailyCap(),
		TrialMode: limits.TrialMode,
		Cooldowns: CooldownStats{
			RecipientSec: int(limits.RecipientCooldown / time.Second),
			DomainSec:    int(limits.DomainCooldown / time.Second),
		},
	}
	if g.Counters == nil {
		return stats, nil
	}

	reads := []struct {
		period domain.Period
		dst    func(domain.Usage)
	}{
		{domain.HourOf(now), func(u domain.Usage) { stats.UsedHour = u.Sent }},
		{domain.DayOf(now), func(u domain.Usage) { stats.UsedDay = u.Sent }},
		{domain.MonthOf(now), func(u domain.Usage) { stats.Month = u }},
	}
	for _, r := range reads {
		u, err := g.Counters.Read(ctx, domain.CounterKey{Subject: subject, Provider: provider, Period: r.period})
		if err != nil {
			return UsageStats{}, fmt.Errorf("read %s usage: %w", r.period.Granularity, err)
		}
		r.dst(u)
	}
	return stats, nil
}
