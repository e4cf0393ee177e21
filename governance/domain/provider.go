package domain

import (
	"errors"
	"fmt"
	"strings"
)

type Subject string

// Provider é um canal de mensagens.
type Provider string

const (
	ProviderWhatsApp  Provider = "whatsapp"
	ProviderInstagram Provider = "instagram"
	ProviderEmail     Provider = "email"
	ProviderOutlook   Provider = "outlook"
)

var ErrUnknownProvider = errors.New("unknown provider")

// Providers lista todos os canais governados, na ordem usada em snapshots e logs.
var Providers = []Provider{ProviderWhatsApp, ProviderInstagram, ProviderEmail, ProviderOutlook}

// Capabilities lista as capacidades que um plano ou addon pode conceder.
// Outlook não é uma capacidade própria: ele herda a classe email.
var Capabilities = []Provider{ProviderWhatsApp, ProviderInstagram, ProviderEmail}

func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case ProviderWhatsApp, ProviderInstagram, ProviderEmail, ProviderOutlook:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProvider, s)
}

// Capability devolve a capacidade que libera o canal (outlook -> email).
func (p Provider) Capability() Provider {
	if p == ProviderOutlook {
		return ProviderEmail
	}
	return p
}

// Linked devolve o canal que compartilha a mesma credencial (whatsapp <-> instagram).
func (p Provider) Linked() (Provider, bool) {
	switch p {
	case ProviderWhatsApp:
		return ProviderInstagram, true
	case ProviderInstagram:
		return ProviderWhatsApp, true
	}
	return "", false
}

// ProvidersOf devolve os canais liberados por uma capacidade.
func ProvidersOf(capability Provider) []Provider {
	if capability == ProviderEmail {
		return []Provider{ProviderEmail, ProviderOutlook}
	}
	return []Provider{capability}
}

// DomainOf devolve o trecho após o último '@' em minúsculas, ou "" se não houver.
func DomainOf(recipient string) string {
	i := strings.LastIndex(recipient, "@")
	if i < 0 || i == len(recipient)-1 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(recipient[i+1:]))
}

// DomainsOf extrai os domínios distintos de uma lista de destinatários, preservando a ordem.
func DomainsOf(recipients []string) []string {
	seen := make(map[string]struct{}, len(recipients))
	out := make([]string, 0, len(recipients))
	for _, r := range recipients {
		d := DomainOf(r)
		if d == "" {
			continue
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out
}
