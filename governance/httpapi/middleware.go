package httpapi

import (
	"net/http"
	"time"

	"send-governor/governance/application"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

type Middleware func(next http.Handler) http.Handler

// Chain aplica os middlewares na ordem dada (o primeiro fica mais externo).
func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// Throttle aplica o token bucket do subject chamador antes de qualquer handler.
// Protege a API em si; as quotas de envio ficam no Governor.
func Throttle(guard application.RequestGuard, subjectOf SubjectFunc) Middleware {
	if guard.Limiters == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	if subjectOf == nil {
		subjectOf = CallerSubject(false)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject := subjectOf(r)
			if dec := guard.Admit(subject); !dec.Allowed {
				hlog.FromRequest(r).Debug().Str("subject", string(subject)).Str("code", string(dec.Code)).
					Msg("request throttled")
				writeDecision(w, dec)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Concurrency limita as chamadas em andamento; sem vaga responde OVERLOADED.
func Concurrency(guard application.RequestGuard) Middleware {
	if guard.Slots == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			release, dec := guard.Enter(r.Context())
			if !dec.Allowed {
				hlog.FromRequest(r).Warn().Str("path", r.URL.Path).Msg("no free request slot")
				writeDecision(w, dec)
				return
			}
			defer release()
			next.ServeHTTP(w, r)
		})
	}
}

// AccessLog injeta o logger no contexto da requisição e registra uma linha por
// requisição servida.
func AccessLog(logger zerolog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		h := hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
			hlog.FromRequest(r).Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("size", size).
				Dur("duration", duration).
				Msg("request")
		})(next)
		h = hlog.RequestIDHandler("reqId", "X-Request-Id")(h)
		h = hlog.RemoteAddrHandler("ip")(h)
		return hlog.NewHandler(logger)(h)
	}
}

// Recover converte panics de handler em 500.
func Recover() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if v := recover(); v != nil {
					if v == http.ErrAbortHandler {
						panic(v)
					}
					hlog.FromRequest(r).Error().Interface("panic", v).Msg("handler panic")
					internalError(w, "unexpected error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
