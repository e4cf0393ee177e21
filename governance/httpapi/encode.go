package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"

	"send-governor/governance/domain"

	"github.com/rs/zerolog/log"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func encode(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty body")
		}
		return fmt.Errorf("invalid json: %w", err)
	}
	return nil
}

func badRequest(w http.ResponseWriter, msg string) {
	encode(w, http.StatusBadRequest, errorBody{Error: "invalid request", Message: msg, Code: "INVALID_REQUEST"})
}

func internalError(w http.ResponseWriter, msg string) {
	encode(w, http.StatusInternalServerError, errorBody{Error: "internal error", Message: msg, Code: "INTERNAL"})
}

// writeDecision traduz uma negação do domínio na resposta padrão: status do
// código, corpo errorBody e Retry-After em segundos arredondados para cima.
func writeDecision(w http.ResponseWriter, dec domain.Decision) {
	if dec.RetryAfter > 0 {
		w.Header().Set("Retry-After", formatInt(int(math.Ceil(dec.RetryAfter.Seconds()))))
	}
	encode(w, dec.Status, errorBody{Error: dec.Code.Label(), Message: dec.Message, Code: string(dec.Code)})
}

func formatInt(v int) string { return strconv.Itoa(v) }
