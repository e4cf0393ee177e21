package domain

import (
	"net/http"
	"time"
)

type Code string

const (
	CodeNoRecipients       Code = "NO_RECIPIENTS"
	CodeTooManyRecipients  Code = "TOO_MANY_RECIPIENTS"
	CodeAttachmentTooLarge Code = "ATTACHMENT_TOO_LARGE"
	CodeNoEntitlement      Code = "NO_ENTITLEMENT"
	CodeHourlyCap          Code = "HOURLY_CAP"
	CodeDailyCap           Code = "DAILY_CAP"
	CodeRecipientCooldown  Code = "RECIPIENT_COOLDOWN"
	CodeDomainCooldown     Code = "DOMAIN_COOLDOWN"
	CodeLimitsUnavailable  Code = "LIMITS_UNAVAILABLE"

	// Proteção da própria API; não têm relação com as quotas de envio.
	CodeThrottled  Code = "THROTTLED"
	CodeOverloaded Code = "OVERLOADED"
)

// Status traduz o código para o status HTTP devolvido pelos handlers de canal.
func (c Code) Status() int {
	switch c {
	case CodeNoRecipients, CodeTooManyRecipients, CodeAttachmentTooLarge:
		return http.StatusBadRequest
	case CodeNoEntitlement:
		return http.StatusForbidden
	case CodeHourlyCap, CodeDailyCap, CodeRecipientCooldown, CodeDomainCooldown:
		return http.StatusPaymentRequired
	case CodeThrottled:
		return http.StatusTooManyRequests
	case CodeOverloaded:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// Label é o campo "error" curto da resposta.
func (c Code) Label() string {
	switch c {
	case CodeNoRecipients, CodeTooManyRecipients, CodeAttachmentTooLarge:
		return "invalid request"
	case CodeNoEntitlement:
		return "not entitled"
	case CodeHourlyCap, CodeDailyCap:
		return "send limit reached"
	case CodeRecipientCooldown, CodeDomainCooldown:
		return "cooldown active"
	case CodeThrottled:
		return "rate limited"
	case CodeOverloaded:
		return "service busy"
	}
	return "internal error"
}

type Decision struct {
	Allowed bool
	Code    Code
	Status  int
	Message string
	// RetryAfter é o tempo restante recomendado quando a negação é temporária.
	// Se 0, não há recomendação.
	RetryAfter time.Duration
}

func Allow() Decision { return Decision{Allowed: true, Status: http.StatusOK} }

func Deny(code Code, message string, retryAfter time.Duration) Decision {
	return Decision{
		Code:       code,
		Status:     code.Status(),
		Message:    message,
		RetryAfter: retryAfter,
	}
}
