package httpapi

import (
	"net/http"
	"strings"
	"time"

	"send-governor/governance/application"
	"send-governor/governance/domain"

	"github.com/google/uuid"
	"github.com/rs/zerolog/hlog"
)

// Handlers expõe o Governor, o Resolver e o Billing como endpoints JSON.
type Handlers struct {
	Governor application.Governor
	Resolver application.Resolver
	Billing  application.Billing
	// Decisions é opcional; sem ele GET /v1/stats/decisions responde 404.
	Decisions DecisionStats
	Now       func() time.Time
}

// DecisionStats é a leitura agregada das decisões de Authorize desta réplica.
type DecisionStats interface {
	Snapshot() any
}

func (h Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		encode(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("POST /v1/send/authorize", h.Authorize)
	mux.HandleFunc("POST /v1/send/commit", h.Commit)
	mux.HandleFunc("POST /v1/messages/received", h.Received)
	mux.HandleFunc("GET /v1/usage", h.Usage)
	mux.HandleFunc("GET /v1/entitlements/{subject}", h.Entitlements)
	mux.HandleFunc("POST /v1/entitlements/{subject}/invalidate", h.Invalidate)
	mux.HandleFunc("PUT /v1/subjects/{subject}/plan", h.SetPlan)
	mux.HandleFunc("POST /v1/subjects/{subject}/addons/{provider}", h.GrantAddon)
	mux.HandleFunc("DELETE /v1/subjects/{subject}/addons/{provider}", h.RevokeAddon)
	mux.HandleFunc("POST /v1/subjects/{subject}/accounts/{provider}", h.ConnectAccount)
	mux.HandleFunc("DELETE /v1/subjects/{subject}/accounts/{provider}", h.DisconnectAccount)
	mux.HandleFunc("PUT /v1/subjects/{subject}/limits", h.SetLimits)
	if h.Decisions != nil {
		mux.HandleFunc("GET /v1/stats/decisions", func(w http.ResponseWriter, r *http.Request) {
			encode(w, http.StatusOK, h.Decisions.Snapshot())
		})
	}
}

type sendBody struct {
	Subject         string   `json:"subject"`
	Provider        string   `json:"provider"`
	Recipients      []string `json:"recipients"`
	Domains         []string `json:"domains"`
	AttachmentBytes int64    `json:"attachmentBytes"`
	IsReply         bool     `json:"isReply"`
}

func (b sendBody) request(now time.Time) (application.SendRequest, string) {
	subject := strings.TrimSpace(b.Subject)
	if subject == "" {
		return application.SendRequest{}, "subject is required"
	}
	provider, err := domain.ParseProvider(b.Provider)
	if err != nil {
		return application.SendRequest{}, err.Error()
	}
	if b.AttachmentBytes < 0 {
		return application.SendRequest{}, "attachmentBytes must be >= 0"
	}
	domains := b.Domains
	if len(domains) == 0 {
		domains = domain.DomainsOf(b.Recipients)
	}
	return application.SendRequest{
		Subject:         domain.Subject(subject),
		Provider:        provider,
		Recipients:      b.Recipients,
		Domains:         domains,
		AttachmentBytes: b.AttachmentBytes,
		IsReply:         b.IsReply,
		Now:             now,
	}, ""
}

type authorizeResponse struct {
	Allowed    bool   `json:"allowed"`
	DecisionID string `json:"decisionId"`
}

func (h Handlers) Authorize(w http.ResponseWriter, r *http.Request) {
	var body sendBody
	if err := decode(r, &body); err != nil {
		badRequest(w, err.Error())
		return
	}
	req, problem := body.request(h.now())
	if problem != "" {
		badRequest(w, problem)
		return
	}

	decisionID := uuid.NewString()
	dec, _ := h.Governor.Authorize(r.Context(), req)
	hlog.FromRequest(r).Debug().
		Str("decisionId", decisionID).
		Str("subject", string(req.Subject)).
		Str("provider", string(req.Provider)).
		Bool("allowed", dec.Allowed).
		Str("code", string(dec.Code)).
		Msg("send authorization")

	if dec.Allowed {
		encode(w, http.StatusOK, authorizeResponse{Allowed: true, DecisionID: decisionID})
		return
	}
	writeDecision(w, dec)
}

type commitResponse struct {
	Status  string `json:"status"`
	Tracked bool   `json:"tracked"`
}

// Commit sempre responde 202: a mensagem já saiu, falhas de contabilização só
// são logadas.
func (h Handlers) Commit(w http.ResponseWriter, r *http.Request) {
	var body sendBody
	if err := decode(r, &body); err != nil {
		badRequest(w, err.Error())
		return
	}
	req, problem := body.request(h.now())
	if problem != "" {
		badRequest(w, problem)
		return
	}
	err := h.Governor.Commit(r.Context(), req)
	encode(w, http.StatusAccepted, commitResponse{Status: "accepted", Tracked: err == nil})
}

type receivedBody struct {
	Subject  string `json:"subject"`
	Provider string `json:"provider"`
}

func (h Handlers) Received(w http.ResponseWriter, r *http.Request) {
	var body receivedBody
	if err := decode(r, &body); err != nil {
		badRequest(w, err.Error())
		return
	}
	provider, err := domain.ParseProvider(body.Provider)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if strings.TrimSpace(body.Subject) == "" {
		badRequest(w, "subject is required")
		return
	}
	tracked := true
	if err := h.Governor.RecordReceived(r.Context(), domain.Subject(body.Subject), provider, h.now()); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Str("subject", body.Subject).Str("provider", string(provider)).
			Msg("failed to record received message")
		tracked = false
	}
	encode(w, http.StatusAccepted, commitResponse{Status: "accepted", Tracked: tracked})
}

func (h Handlers) Usage(w http.ResponseWriter, r *http.Request) {
	subject := strings.TrimSpace(r.URL.Query().Get("subject"))
	if subject == "" {
		badRequest(w, "subject is required")
		return
	}
	provider, err := domain.ParseProvider(r.URL.Query().Get("provider"))
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	stats, err := h.Governor.GetUsageStats(r.Context(), domain.Subject(subject), provider, h.now())
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("subject", subject).Str("provider", string(provider)).
			Msg("failed to read usage stats")
		internalError(w, "unable to read usage")
		return
	}
	encode(w, http.StatusOK, stats)
}

func (h Handlers) Entitlements(w http.ResponseWriter, r *http.Request) {
	subject := domain.Subject(r.PathValue("subject"))
	encode(w, http.StatusOK, map[string]any{
		"subject":      subject,
		"entitlements": h.Resolver.Resolve(r.Context(), subject),
	})
}

// Invalidate é o gancho chamado pelos fluxos de connect/disconnect de conta
// que vivem fora deste serviço.
func (h Handlers) Invalidate(w http.ResponseWriter, r *http.Request) {
	subject := domain.Subject(r.PathValue("subject"))
	if err := h.Resolver.Invalidate(r.Context(), subject); err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("subject", string(subject)).Msg("failed to invalidate entitlements")
		internalError(w, "unable to invalidate entitlements")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
