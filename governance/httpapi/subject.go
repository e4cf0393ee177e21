package httpapi

import (
	"net"
	"net/http"
	"strings"

	"send-governor/governance/domain"
)

// SubjectHeader identifica o tenant chamador quando o gateway interno o repassa.
const SubjectHeader = "X-Subject-Id"

// SubjectFunc diz a qual subject uma requisição é cobrada no throttle.
type SubjectFunc func(r *http.Request) domain.Subject

// CallerSubject usa o X-Subject-Id. Chamadas sem ele (admin, webhooks) caem
// num bucket por endereço de origem, "addr:<ip>", que nunca colide com um
// subject real porque subjects não passam por aqui com esse prefixo.
func CallerSubject(trustXFF bool) SubjectFunc {
	return func(r *http.Request) domain.Subject {
		if v := strings.TrimSpace(r.Header.Get(SubjectHeader)); v != "" {
			return domain.Subject(v)
		}
		return domain.Subject("addr:" + clientAddr(r, trustXFF))
	}
}

func clientAddr(r *http.Request, trustXFF bool) string {
	if trustXFF {
		if first, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ","); strings.TrimSpace(first) != "" {
			return strings.TrimSpace(first)
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}
