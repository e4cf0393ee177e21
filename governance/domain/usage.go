package domain

import (
	"context"
	"errors"
	"time"
)

// ErrStoreUnavailable marca falhas de infraestrutura (timeout, conexão recusada) dos stores.
var ErrStoreUnavailable = errors.New("store unavailable")

type Field string

const (
	FieldSent     Field = "sent"
	FieldReceived Field = "received"
)

type CounterKey struct {
	Subject  Subject
	Provider Provider
	Period   Period
}

type Usage struct {
	Sent     int64 `json:"sent" msgpack:"sent"`
	Received int64 `json:"received" msgpack:"received"`
}

func (u Usage) Get(f Field) int64 {
	if f == FieldReceived {
		return u.Received
	}
	return u.Sent
}

// CounterStore guarda contadores persistentes por (subject, provider, period).
//
// Increment deve ser atômico no store (upsert-and-add nativo, nunca ler-e-escrever),
// de modo que o valor final seja a soma de todos os incrementos bem-sucedidos
// independente da ordem de chegada. Read devolve zero quando a linha não existe.
type CounterStore interface {
	Increment(ctx context.Context, key CounterKey, field Field, delta int64) (int64, error)
	Read(ctx context.Context, key CounterKey) (Usage, error)
}

type Scope string

const (
	ScopeRecipient Scope = "recipient"
	ScopeDomain    Scope = "domain"
)

// CooldownTracker guarda o último envio por (subject, scope, key).
//
// Touch sobrescreve incondicionalmente (last-write-wins); não há expiração.
type CooldownTracker interface {
	LastSentAt(ctx context.Context, subject Subject, scope Scope, key string) (time.Time, bool, error)
	Touch(ctx context.Context, subject Subject, scope Scope, key string, now time.Time) error
}
