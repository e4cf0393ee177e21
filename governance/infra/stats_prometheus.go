package infra

import (
	"context"

	"send-governor/governance/domain"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusStats expõe as decisões como contadores. Subject nunca vira label.
type PrometheusStats struct {
	decisions *prometheus.CounterVec
}

func NewPrometheusStats(reg prometheus.Registerer) *PrometheusStats {
	s := &PrometheusStats{
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "governor_send_decisions_total",
				Help: "Total number of send authorization decisions.",
			},
			[]string{"provider", "result", "code"},
		),
	}
	reg.MustRegister(s.decisions)
	return s
}

func (s *PrometheusStats) Record(_ context.Context, ev domain.DecisionEvent) error {
	result := "denied"
	if ev.Allowed {
		result = "allowed"
	}
	s.decisions.WithLabelValues(string(ev.Provider), result, string(ev.Code)).Inc()
	return nil
}
