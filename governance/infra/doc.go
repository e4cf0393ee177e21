// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - MemoryCounterStore / MemoryCooldownTracker: mapas com lock por faixa (xxhash)
//   - RedisCounterStore / RedisCooldownTracker: HINCRBY atômico e SET/GET por chave
//   - BoltStore: contadores e cooldowns em um arquivo bbolt (nó único)
//   - PostgresStore / PostgresBilling: upsert atômico e consultas de cobrança via pgx
//   - MemoryEntitlementCache / RedisEntitlementCache / RedisInvalidationBus
//   - SubjectLimiters: token bucket por subject chamador (golang.org/x/time/rate)
//   - SlotPool: vagas de chamadas simultâneas à API
//   - Sweeper: limpeza periódica do estado em memória com prazo
package infra
