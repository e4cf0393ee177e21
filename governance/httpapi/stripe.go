package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"send-governor/governance/application"
	"send-governor/governance/domain"

	"github.com/rs/zerolog/hlog"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

// Metadados esperados na assinatura da Stripe.
const (
	StripeSubjectKey = "subject"
	StripePlanKey    = "plan"
)

// StripeWebhook traduz eventos de assinatura da Stripe em mutações de Billing,
// que por sua vez invalidam o cache de entitlements.
type StripeWebhook struct {
	Billing application.Billing
	Secret  string
}

func (s StripeWebhook) Register(mux *http.ServeMux) {
	mux.Handle("POST /v1/webhooks/stripe", s)
}

func (s StripeWebhook) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := hlog.FromRequest(r)
	if s.Secret == "" {
		logger.Error().Msg("stripe webhook secret missing")
		internalError(w, "webhook not configured")
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		badRequest(w, "unable to read body")
		return
	}

	event, err := webhook.ConstructEventWithOptions(
		payload,
		r.Header.Get("Stripe-Signature"),
		s.Secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true},
	)
	if err != nil {
		logger.Warn().Err(err).Msg("stripe webhook signature failed")
		badRequest(w, "signature verification failed")
		return
	}

	switch event.Type {
	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			logger.Warn().Err(err).Msg("stripe subscription unmarshal failed")
			badRequest(w, "invalid subscription payload")
			return
		}
		subject := sub.Metadata[StripeSubjectKey]
		if subject == "" {
			// assinatura sem vínculo com tenant; nada a fazer
			logger.Warn().Str("subscription", sub.ID).Msg("stripe subscription missing subject metadata")
			break
		}
		planCode := stripePlanCode(&sub)
		if planCode == "" {
			logger.Warn().Str("subscription", sub.ID).Msg("stripe subscription missing plan")
			break
		}
		status := stripeStatus(&sub)
		if event.Type == "customer.subscription.deleted" {
			status = domain.SubscriptionCanceled
		}
		at := time.Unix(event.Created, 0).UTC()
		if err := s.Billing.SetPlan(r.Context(), domain.Subject(subject), sub.ID, planCode, status, at); err != nil {
			logger.Error().Err(err).Str("subject", subject).Str("subscription", sub.ID).
				Msg("stripe plan update failed")
			internalError(w, "failed to update plan")
			return
		}
		logger.Info().Str("subject", subject).Str("plan", planCode).Str("status", status).
			Str("event", string(event.Type)).Msg("stripe subscription applied")
	default:
		// demais eventos são ignorados
	}

	encode(w, http.StatusOK, map[string]string{"status": "ok"})
}

func stripePlanCode(sub *stripe.Subscription) string {
	if code := sub.Metadata[StripePlanKey]; code != "" {
		return code
	}
	if sub.Items == nil {
		return ""
	}
	for _, item := range sub.Items.Data {
		if item != nil && item.Price != nil && item.Price.LookupKey != "" {
			return item.Price.LookupKey
		}
	}
	return ""
}

func stripeStatus(sub *stripe.Subscription) string {
	switch sub.Status {
	case stripe.SubscriptionStatusActive:
		return domain.SubscriptionActive
	case stripe.SubscriptionStatusTrialing:
		return domain.SubscriptionTrialing
	default:
		return domain.SubscriptionCanceled
	}
}
