// Package gatewaymock: in-memory шлюз MeshGuard с тем же HTTP-контрактом,
// что и настоящий. Используется в тестах и локально через cmd/gatewaymock.
package gatewaymock

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/meshguard-go/internal/domain"
	"github.com/xela07ax/meshguard-go/internal/infra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Notifier сообщает подписчикам об изменении политик
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// RedisNotifier публикует сигнал в канал Redis
type RedisNotifier struct {
	rdb     *redis.Client
	channel string
}

func NewRedisNotifier(rdb *redis.Client, channel string) *RedisNotifier {
	if channel == "" {
		channel = infra.RedisChanPolicyUpdate
	}
	return &RedisNotifier{rdb: rdb, channel: channel}
}

func (n *RedisNotifier) Notify(ctx context.Context, message string) error {
	return n.rdb.Publish(ctx, n.channel, message).Err()
}

type Config struct {
	AdminToken string
	Secret     []byte        // HMAC-ключ токенов агентов; пусто: случайный
	TokenTTL   time.Duration // 0: токены без exp
	Policies   []Policy      // nil: DefaultPolicies()

	RateLimit float64 // запросов в секунду на весь шлюз; 0: без лимита
	RateBurst int

	Upstream   http.Handler // куда уходит /proxy/*; nil: эхо-ответ
	Notifier   Notifier
	Registerer prometheus.Registerer
	Logger     *zap.Logger
}

type Server struct {
	router   *chi.Mux
	store    *Store
	issuer   *Issuer
	cfg      Config
	metrics  *metrics
	limiter  *rate.Limiter
	notifier Notifier
	logger   *zap.Logger
}

func New(cfg Config) (*Server, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if len(cfg.Secret) == 0 {
		cfg.Secret = make([]byte, 32)
		if _, err := rand.Read(cfg.Secret); err != nil {
			return nil, fmt.Errorf("generate token secret: %w", err)
		}
	}

	s := &Server{
		router:   chi.NewRouter(),
		store:    NewStore(cfg.Policies),
		issuer:   NewIssuer(cfg.Secret, cfg.TokenTTL),
		cfg:      cfg,
		metrics:  newMetrics(cfg.Registerer),
		notifier: cfg.Notifier,
		logger:   cfg.Logger.Named("gatewaymock"),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	s.routes()
	return s, nil
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(tracing)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	// Публичный healthcheck, лимитер на него не действует
	r.Get(infra.PathHealth, s.health)

	r.Group(func(r chi.Router) {
		if s.limiter != nil {
			r.Use(rateLimit(s.limiter, time.Second))
		}

		// Агентский периметр: Bearer JWT
		r.Group(func(r chi.Router) {
			r.Use(agentAuth(s.issuer, s.store, s.logger))

			r.Get(infra.PathCheck, s.check)
			r.Post(infra.PathCheck, s.check)
			r.HandleFunc(infra.PathProxyPrefix+"*", s.proxy)
		})

		// Админка: X-Admin-Token
		r.Route("/admin", func(r chi.Router) {
			r.Use(adminAuth(s.cfg.AdminToken, s.logger))

			r.Route("/agents", func(r chi.Router) {
				r.Get("/", s.listAgents)
				r.Post("/", s.createAgent)
				r.Delete("/{id}", s.revokeAgent)
			})
			r.Route("/policies", func(r chi.Router) {
				r.Get("/", s.listPolicies)
				r.Post("/", s.putPolicy)
			})
			r.Get("/audit", s.auditLog)
		})
	})
}

// ServeHTTP позволяет использовать Server как стандартный http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) Store() *Store { return s.store }

// RegisterAgent заводит агента в обход HTTP (bootstrap для тестов и CLI)
func (s *Server) RegisterAgent(spec domain.AgentSpec) (domain.CreatedAgent, error) {
	a := s.store.AddAgent(spec)
	token, err := s.issuer.Issue(a)
	if err != nil {
		return domain.CreatedAgent{}, err
	}
	s.metrics.agents.Set(float64(len(s.store.Agents())))
	return domain.CreatedAgent{Agent: a, Token: token}, nil
}
