package infra

import (
	"strings"

	"send-governor/governance/domain"
)

const keySep = "\x00"

func counterKeyString(k domain.CounterKey) string {
	return string(k.Subject) + keySep + string(k.Provider) + keySep + k.Period.Label
}

func cooldownKeyString(subject domain.Subject, scope domain.Scope, key string) string {
	return string(subject) + keySep + string(scope) + keySep + key
}

// redisKeyEscaper escapa o separador dentro de componentes livres (subject,
// destinatário) para que "a:recipient:x" + "y" e "a" + "x:recipient:y" não
// caiam na mesma chave.
var redisKeyEscaper = strings.NewReplacer("%", "%25", ":", "%3A")

func redisKeyPart(s string) string {
	return redisKeyEscaper.Replace(s)
}

func joinRedisKey(parts ...string) string {
	return strings.Join(parts, ":")
}
