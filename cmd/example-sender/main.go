package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"send-governor/governance/application"
	"send-governor/governance/domain"
	"send-governor/governance/httpapi"
	"send-governor/governance/infra"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
)

// Exemplo: um handler de canal que embute o governor no próprio processo, sem
// passar pelo serviço HTTP. Authorize antes do provider, Commit depois.

type sendRequest struct {
	To              []string `json:"to"`
	Body            string   `json:"body"`
	AttachmentBytes int64    `json:"attachmentBytes"`
	InReplyTo       string   `json:"inReplyTo"`
}

type sender struct {
	governor application.Governor
}

func (s sender) send(w http.ResponseWriter, r *http.Request) {
	logger := hlog.FromRequest(r)

	provider, err := domain.ParseProvider(r.PathValue("provider"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request", "message": err.Error()})
		return
	}
	subject := strings.TrimSpace(r.Header.Get(httpapi.SubjectHeader))
	if subject == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized", "message": "missing subject"})
		return
	}
	var body sendRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request", "message": err.Error()})
		return
	}

	req := application.SendRequest{
		Subject:         domain.Subject(subject),
		Provider:        provider,
		Recipients:      body.To,
		Domains:         domain.DomainsOf(body.To),
		AttachmentBytes: body.AttachmentBytes,
		IsReply:         body.InReplyTo != "",
		Now:             time.Now(),
	}

	dec, _ := s.governor.Authorize(r.Context(), req)
	if !dec.Allowed {
		writeJSON(w, dec.Status, map[string]string{
			"error":   dec.Code.Label(),
			"message": dec.Message,
			"code":    string(dec.Code),
		})
		return
	}

	messageID, err := deliver(r.Context(), provider, body)
	if err != nil {
		// nada foi entregue: não há o que contabilizar
		logger.Error().Err(err).Str("provider", string(provider)).Msg("provider delivery failed")
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "provider error", "message": err.Error()})
		return
	}

	// a mensagem já saiu; falha de contabilização só é logada pelo Commit
	_ = s.governor.Commit(r.Context(), req)
	writeJSON(w, http.StatusOK, map[string]string{"messageId": messageID})
}

// deliver simula a chamada à API do provider.
func deliver(ctx context.Context, provider domain.Provider, body sendRequest) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(20 * time.Millisecond):
	}
	if strings.Contains(body.Body, "FAIL") {
		return "", errors.New(string(provider) + " rejected the message")
	}
	return uuid.NewString(), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	billing := infra.NewMemoryBilling()
	catalog := application.DefaultCatalog()
	resolver := application.Resolver{
		Plans:   billing,
		Addons:  billing,
		Catalog: catalog,
		Fallbacks: []application.Fallback{
			application.ConnectedAccountFallback{Accounts: billing},
		},
		Cache: infra.NewMemoryEntitlementCache(time.Minute),
	}

	// subject de demonstração no plano growth (email + whatsapp/instagram)
	admin := application.Billing{Store: billing, Invalidator: resolver}
	if err := admin.SetPlan(ctx, "demo", "", "growth", "", time.Now()); err != nil {
		log.Fatal().Err(err).Msg("seed plan")
	}

	s := sender{governor: application.Governor{
		Counters:     infra.NewMemoryCounterStore(),
		Cooldowns:    infra.NewMemoryCooldownTracker(),
		Entitlements: resolver,
		Limits:       billing,
	}}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /send/{provider}", s.send)

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           httpapi.Chain(mux, httpapi.AccessLog(log.Logger), httpapi.Recover()),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("example sender listening (subject header X-Subject-Id: demo)")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server error")
	}
}
