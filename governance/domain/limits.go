package domain

import (
	"context"
	"time"
)

const (
	DefaultMaxRecipientsPerMessage = 10
	DefaultMaxPerHour              = 50
	DefaultMaxPerDay               = 200
	DefaultRecipientCooldown       = 120 * time.Second
	DefaultDomainCooldown          = 60 * time.Second
	DefaultMaxAttachmentBytes      = 10 * 1024 * 1024
	DefaultTrialDailyCap           = 20
)

// LimitConfig são os parâmetros de pacing/quota de um subject.
// Um teto negativo desativa a checagem correspondente.
type LimitConfig struct {
	MaxRecipientsPerMessage int
	MaxPerHour              int
	MaxPerDay               int
	RecipientCooldown       time.Duration
	DomainCooldown          time.Duration
	MaxAttachmentBytes      int64
	TrialMode               bool
	TrialDailyCap           int
}

func DefaultLimitConfig() LimitConfig {
	return LimitConfig{
		MaxRecipientsPerMessage: DefaultMaxRecipientsPerMessage,
		MaxPerHour:              DefaultMaxPerHour,
		MaxPerDay:               DefaultMaxPerDay,
		RecipientCooldown:       DefaultRecipientCooldown,
		DomainCooldown:          DefaultDomainCooldown,
		MaxAttachmentBytes:      DefaultMaxAttachmentBytes,
		TrialDailyCap:           DefaultTrialDailyCap,
	}
}

// EffectiveDailyCap aplica o teto de trial sobre o teto diário.
func (c LimitConfig) EffectiveDailyCap() int {
	if !c.TrialMode || c.TrialDailyCap < 0 {
		return c.MaxPerDay
	}
	if c.MaxPerDay < 0 || c.TrialDailyCap < c.MaxPerDay {
		return c.TrialDailyCap
	}
	return c.MaxPerDay
}

// LimitLookup devolve o override do subject; ok=false quando não há linha
// (o chamador cai nos defaults globais).
type LimitLookup interface {
	LimitConfig(ctx context.Context, subject Subject) (cfg LimitConfig, ok bool, err error)
}
