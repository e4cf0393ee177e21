package httpapi

import (
	"net/http"
	"strings"
	"time"

	"send-governor/governance/domain"

	"github.com/rs/zerolog/hlog"
)

type planBody struct {
	Plan   string `json:"plan"`
	Status string `json:"status"`
	Ref    string `json:"ref"`
}

func (h Handlers) SetPlan(w http.ResponseWriter, r *http.Request) {
	subject := domain.Subject(r.PathValue("subject"))
	var body planBody
	if err := decode(r, &body); err != nil {
		badRequest(w, err.Error())
		return
	}
	if strings.TrimSpace(body.Plan) == "" {
		badRequest(w, "plan is required")
		return
	}
	err := h.Billing.SetPlan(r.Context(), subject, body.Ref, body.Plan, body.Status, h.now())
	h.writeMutation(w, r, subject, "set plan", err)
}

func (h Handlers) GrantAddon(w http.ResponseWriter, r *http.Request) {
	subject := domain.Subject(r.PathValue("subject"))
	provider, err := domain.ParseProvider(r.PathValue("provider"))
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	err = h.Billing.GrantAddon(r.Context(), subject, provider)
	h.writeMutation(w, r, subject, "grant addon", err)
}

func (h Handlers) RevokeAddon(w http.ResponseWriter, r *http.Request) {
	subject := domain.Subject(r.PathValue("subject"))
	provider, err := domain.ParseProvider(r.PathValue("provider"))
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	err = h.Billing.RevokeAddon(r.Context(), subject, provider)
	h.writeMutation(w, r, subject, "revoke addon", err)
}

type accountBody struct {
	AccountID string `json:"accountId"`
}

func (h Handlers) accountRequest(w http.ResponseWriter, r *http.Request) (domain.Subject, domain.Provider, string, bool) {
	subject := domain.Subject(r.PathValue("subject"))
	provider, err := domain.ParseProvider(r.PathValue("provider"))
	if err != nil {
		badRequest(w, err.Error())
		return "", "", "", false
	}
	var body accountBody
	if err := decode(r, &body); err != nil {
		badRequest(w, err.Error())
		return "", "", "", false
	}
	if strings.TrimSpace(body.AccountID) == "" {
		badRequest(w, "accountId is required")
		return "", "", "", false
	}
	return subject, provider, body.AccountID, true
}

func (h Handlers) ConnectAccount(w http.ResponseWriter, r *http.Request) {
	subject, provider, accountID, ok := h.accountRequest(w, r)
	if !ok {
		return
	}
	err := h.Billing.ConnectAccount(r.Context(), subject, provider, accountID)
	h.writeMutation(w, r, subject, "connect account", err)
}

func (h Handlers) DisconnectAccount(w http.ResponseWriter, r *http.Request) {
	subject, provider, accountID, ok := h.accountRequest(w, r)
	if !ok {
		return
	}
	err := h.Billing.DisconnectAccount(r.Context(), subject, provider, accountID)
	h.writeMutation(w, r, subject, "disconnect account", err)
}

// limitsBody usa ponteiros: campo omitido herda o default global.
type limitsBody struct {
	MaxRecipientsPerMessage *int   `json:"maxRecipientsPerMessage"`
	MaxPerHour              *int   `json:"maxPerHour"`
	MaxPerDay               *int   `json:"maxPerDay"`
	RecipientCooldownSec    *int   `json:"recipientCooldownSec"`
	DomainCooldownSec       *int   `json:"domainCooldownSec"`
	MaxAttachmentBytes      *int64 `json:"maxAttachmentBytes"`
	TrialMode               bool   `json:"trialMode"`
	TrialDailyCap           *int   `json:"trialDailyCap"`
}

func (b limitsBody) config(defaults domain.LimitConfig) domain.LimitConfig {
	cfg := defaults
	cfg.TrialMode = b.TrialMode
	setInt := func(dst *int, v *int) {
		if v != nil {
			*dst = *v
		}
	}
	setInt(&cfg.MaxRecipientsPerMessage, b.MaxRecipientsPerMessage)
	setInt(&cfg.MaxPerHour, b.MaxPerHour)
	setInt(&cfg.MaxPerDay, b.MaxPerDay)
	setInt(&cfg.TrialDailyCap, b.TrialDailyCap)
	if b.RecipientCooldownSec != nil {
		cfg.RecipientCooldown = time.Duration(*b.RecipientCooldownSec) * time.Second
	}
	if b.DomainCooldownSec != nil {
		cfg.DomainCooldown = time.Duration(*b.DomainCooldownSec) * time.Second
	}
	if b.MaxAttachmentBytes != nil {
		cfg.MaxAttachmentBytes = *b.MaxAttachmentBytes
	}
	return cfg
}

func (h Handlers) SetLimits(w http.ResponseWriter, r *http.Request) {
	subject := domain.Subject(r.PathValue("subject"))
	var body limitsBody
	if err := decode(r, &body); err != nil {
		badRequest(w, err.Error())
		return
	}
	defaults := h.Governor.Defaults
	if defaults == (domain.LimitConfig{}) {
		defaults = domain.DefaultLimitConfig()
	}
	cfg := body.config(defaults)
	if cfg.RecipientCooldown < 0 || cfg.DomainCooldown < 0 {
		badRequest(w, "cooldowns must be >= 0")
		return
	}
	err := h.Billing.SetLimits(r.Context(), subject, cfg)
	h.writeMutation(w, r, subject, "set limits", err)
}

func (h Handlers) writeMutation(w http.ResponseWriter, r *http.Request, subject domain.Subject, op string, err error) {
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("subject", string(subject)).Msg(op + " failed")
		internalError(w, op+" failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
