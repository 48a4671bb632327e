package transport

import (
	"errors"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	// Latency: полный круг до шлюза, включая ожидание лимитера
	RequestDuration *prometheus.HistogramVec

	// Traffic: запросы по методу и эндпоинту
	TotalRequests *prometheus.CounterVec

	// Errors: классификация отказов (timeout, connection, auth, rate_limit, server, client, breaker_open)
	ErrorTotal *prometheus.CounterVec

	// Saturation: состояние Circuit Breaker (0 - closed, 1 - half-open, 2 - open)
	CircuitBreakerState prometheus.Gauge

	// Decisions: решения шлюза по эффекту
	Decisions *prometheus.CounterVec

	// Journal: заполненность буфера журнала решений (backpressure)
	JournalBufferFill prometheus.Gauge
}

// NewMetrics регистрирует коллекторы в reg. Несколько клиентов на одном реестре
// делят уже зарегистрированные коллекторы, повторная регистрация не паникует.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		RequestDuration: register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "meshguard_client_request_duration_seconds",
			Help:    "Histogram of gateway round-trip latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"method", "endpoint", "status"})),

		TotalRequests: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meshguard_client_requests_total",
			Help: "Total number of requests sent to the gateway.",
		}, []string{"method", "endpoint"})),

		ErrorTotal: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meshguard_client_errors_total",
			Help: "Total number of failed gateway calls by kind.",
		}, []string{"kind"})),

		CircuitBreakerState: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "meshguard_client_circuit_breaker_state",
			Help: "Current state of the gateway circuit breaker (0=closed, 1=half-open, 2=open).",
		})),

		Decisions: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meshguard_client_decisions_total",
			Help: "Policy decisions received from the gateway.",
		}, []string{"decision"})),

		JournalBufferFill: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "meshguard_client_journal_buffer_utilization",
			Help: "Current number of events in the decision journal buffer.",
		})),
	}
}

// register возвращает уже зарегистрированный коллектор с тем же описанием, если он есть
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		// Конфликт описаний: метрика работает, но не экспортируется
		return c
	}
	return c
}

// endpointLabel сворачивает путь в метку с ограниченной кардинальностью.
func endpointLabel(path string) string {
	switch {
	case path == "":
		return "unknown"
	case strings.HasPrefix(path, "/admin/agents/"):
		return "/admin/agents/{id}"
	case strings.HasPrefix(path, "/proxy/") && path != "/proxy/check":
		return "/proxy/*"
	default:
		return path
	}
}
