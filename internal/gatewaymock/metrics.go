package gatewaymock

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	requests  *prometheus.CounterVec
	decisions *prometheus.CounterVec
	agents    prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &metrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "meshguard_gateway_requests_total",
			Help: "Requests served by the mock gateway",
		}, []string{"method", "route", "status"}),
		decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "meshguard_gateway_decisions_total",
			Help: "Policy decisions by effect and policy",
		}, []string{"decision", "policy"}),
		agents: f.NewGauge(prometheus.GaugeOpts{
			Name: "meshguard_gateway_active_agents",
			Help: "Agents registered and not revoked",
		}),
	}
}

// routePattern возвращает шаблон маршрута chi, чтобы id не раздували кардинальность
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
