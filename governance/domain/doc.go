// Package domain define os tipos e contratos do motor de governança de envio.
//
// Este pacote não depende de net/http nem de drivers concretos (Redis, Postgres, bbolt).
// A intenção é permitir testes de unidade puros da camada application e deixar
// os detalhes de persistência para a camada infra.
package domain
