package meshguard

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/meshguard-go/internal/infra"
	"go.uber.org/zap"
)

// Option задает явный параметр конструктора. Всегда сильнее файла и окружения.
type Option func(*settings)

type settings struct {
	configFile string
	overrides  []func(*infra.Config)

	httpClient *http.Client
	logger     *zap.Logger
	registerer prometheus.Registerer
	redis      *redis.Client
	journal    JournalStorage
}

func (s *settings) override(fn func(*infra.Config)) {
	s.overrides = append(s.overrides, fn)
}

// WithConfigFile читает YAML-конфиг (иначе путь берется из MESHGUARD_CONFIG, если задан).
func WithConfigFile(path string) Option {
	return func(s *settings) { s.configFile = path }
}

// WithGatewayURL задает адрес шлюза; пустая строка оставляет значение из окружения.
func WithGatewayURL(url string) Option {
	return func(s *settings) {
		if url != "" {
			s.override(func(c *infra.Config) { c.Gateway.URL = url })
		}
	}
}

func WithAgentToken(token string) Option {
	return func(s *settings) {
		if token != "" {
			s.override(func(c *infra.Config) { c.Gateway.AgentToken = token })
		}
	}
}

func WithAdminToken(token string) Option {
	return func(s *settings) {
		if token != "" {
			s.override(func(c *infra.Config) { c.Gateway.AdminToken = token })
		}
	}
}

// WithTimeout ограничивает время одного HTTP-вызова
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.override(func(c *infra.Config) { c.Gateway.Timeout = d })
		}
	}
}

// WithTraceID Trace-ID клиента по умолчанию. На один вызов его можно сменить через ContextWithTraceID.
func WithTraceID(traceID string) Option {
	return func(s *settings) {
		if traceID != "" {
			s.override(func(c *infra.Config) { c.Gateway.TraceID = traceID })
		}
	}
}

// WithRetryIdempotent включает один повтор GET-запросов на транзиентных ошибках.
func WithRetryIdempotent(enabled bool) Option {
	return func(s *settings) {
		s.override(func(c *infra.Config) { c.Transport.RetryIdempotent = enabled })
	}
}

// WithRateLimit включает клиентский лимитер исходящих запросов; rps <= 0 выключает его.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *settings) {
		s.override(func(c *infra.Config) {
			c.Transport.RateLimit = rps
			c.Transport.RateBurst = burst
		})
	}
}

// WithCircuitBreaker включает предохранитель: после серии сбоев шлюза вызовы
// падают с ConnectionError, не доходя до сети. По умолчанию выключен.
func WithCircuitBreaker(enabled bool) Option {
	return func(s *settings) {
		s.override(func(c *infra.Config) { c.Transport.CBEnabled = enabled })
	}
}

// WithDecisionCache включает in-process кэш решений с заданным TTL.
// По умолчанию выключен: каждый Check: ровно один запрос к шлюзу.
func WithDecisionCache(ttl time.Duration) Option {
	return func(s *settings) {
		s.override(func(c *infra.Config) {
			c.Cache.Enabled = ttl > 0
			c.Cache.TTL = ttl
		})
	}
}

// WithRedis передает клиент Redis для сигналов инвалидации кэша решений. Закрывает его вызывающий код.
func WithRedis(rdb *redis.Client) Option {
	return func(s *settings) { s.redis = rdb }
}

// WithJournal включает журнал решений с собственным хранилищем.
func WithJournal(storage JournalStorage) Option {
	return func(s *settings) {
		s.journal = storage
		s.override(func(c *infra.Config) { c.Journal.Enabled = true })
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(s *settings) { s.httpClient = hc }
}

// WithLogger подменяет логгер SDK. Без него используется logger.* из конфига (по умолчанию Nop).
func WithLogger(l *zap.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithRegisterer задает реестр для метрик клиента. nil: приватный реестр.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *settings) { s.registerer = reg }
}
