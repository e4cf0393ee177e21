// Package httpapi fornece os adapters HTTP (net/http) do motor de governança de envio.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos (sem net/http)
//   - application: Governor, Resolver e Billing (decisão, commit, invalidação)
//   - infra: stores concretos (memória, Redis, bbolt, Postgres)
//   - httpapi (este pacote): endpoints JSON + tradução de Decision para status/corpo,
//     webhook da Stripe, throttle por subject e limite de concorrência
//
// Fluxo de um handler de canal:
//
//  1. POST /v1/send/authorize antes de chamar a API do provider
//  2. Se negado, devolve httpStatus com {error, message, code}
//  3. Se o provider confirmar a entrega, POST /v1/send/commit
package httpapi
