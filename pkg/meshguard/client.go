package meshguard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/meshguard-go/internal/admin"
	"github.com/xela07ax/meshguard-go/internal/audit"
	"github.com/xela07ax/meshguard-go/internal/governance"
	"github.com/xela07ax/meshguard-go/internal/infra"
	"github.com/xela07ax/meshguard-go/internal/policy"
	"github.com/xela07ax/meshguard-go/internal/repository/postgres"
	"github.com/xela07ax/meshguard-go/internal/transport"
	"go.uber.org/zap"
)

// Client служит единой точкой входа SDK: решения (check/enforce/govern), proxy passthrough,
// health и админские операции. Конфигурация фиксируется в New и дальше не меняется.
// Безопасен для конкурентного использования.
type Client struct {
	gov   *governance.Client
	admin *admin.Client
	http  *transport.HTTPTransport

	cache   *policy.MemoCache
	journal *audit.Journal
	logger  *zap.Logger

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closers []func() error

	closeOnce sync.Once
	closeErr  error
}

// New собирает клиента. Приоритет: дефолты -> YAML-файл -> окружение -> опции.
// Окружение читается один раз, здесь.
func New(opts ...Option) (*Client, error) {
	var s settings
	for _, o := range opts {
		o(&s)
	}

	cfg, err := infra.LoadConfig(s.configFile)
	if err != nil {
		return nil, fmt.Errorf("meshguard: %w", err)
	}
	for _, fn := range s.overrides {
		fn(cfg)
	}
	cfg.Normalize()

	logger := s.logger
	if logger == nil {
		if logger, err = infra.NewLogger(cfg.Logger); err != nil {
			return nil, fmt.Errorf("meshguard: %w", err)
		}
	}
	logger = logger.Named("meshguard")

	metrics := transport.NewMetrics(s.registerer)
	raw := transport.NewHTTPTransport(transport.Options{
		BaseURL:    cfg.Gateway.URL,
		AgentToken: cfg.Gateway.AgentToken,
		AdminToken: cfg.Gateway.AdminToken,
		TraceID:    cfg.Gateway.TraceID,
		Timeout:    cfg.Gateway.Timeout,
		HTTPClient: s.httpClient,
		Logger:     logger,
	})
	sender := transport.NewReliabilityWrapper(raw, cfg.Transport, metrics, logger)

	c := &Client{http: raw, logger: logger}

	gopts := governance.Options{Metrics: metrics, Logger: logger}
	if cfg.Cache.Enabled {
		c.cache = policy.NewMemoCache(cfg.Cache.TTL, logger)
		gopts.Cache = c.cache
		c.startListener(cfg.Redis, s.redis)
	}
	if cfg.Journal.Enabled {
		if err := c.startJournal(cfg.Journal, s.journal, metrics); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("meshguard: %w", err)
		}
		gopts.Journal = c.journal
	}

	c.gov = governance.New(sender, gopts)
	c.admin = admin.New(sender, raw.HasAdminToken(), logger)

	logger.Debug("client configured",
		zap.String("gateway", raw.BaseURL()),
		zap.String("trace_id", raw.TraceID()),
		zap.Bool("admin", raw.HasAdminToken()),
		zap.Bool("cache", cfg.Cache.Enabled),
		zap.Bool("journal", cfg.Journal.Enabled),
	)
	return c, nil
}

// startListener подписывает кэш на сигналы инвалидации, если есть Redis
func (c *Client) startListener(cfg infra.RedisConfig, rdb *redis.Client) {
	if rdb == nil {
		if cfg.Addr == "" {
			return
		}
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
		c.closers = append(c.closers, rdb.Close)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	listener := policy.NewListener(rdb, cfg.Channel, c.cache, c.logger)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		listener.Run(ctx)
	}()
}

// startJournal поднимает асинхронный журнал решений. Хранилище: явное, Postgres или лог.
func (c *Client) startJournal(cfg infra.JournalConfig, storage JournalStorage, metrics *transport.Metrics) error {
	if storage == nil {
		if cfg.DatabaseURL == "" {
			storage = audit.NewLogSink(c.logger)
		} else {
			repo, err := postgres.NewDecisionRepo(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			c.closers = append(c.closers, repo.Close)

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := repo.Ping(ctx); err != nil {
				return fmt.Errorf("journal database unreachable: %w", err)
			}
			if err := repo.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("journal schema: %w", err)
			}
			storage = repo
		}
	}

	c.journal = audit.NewJournal(storage, audit.Options{
		BufferSize:    cfg.BufferSize,
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.FlushInterval,
		OnFill:        func(n int) { metrics.JournalBufferFill.Set(float64(n)) },
	}, c.logger)
	c.journal.Start()
	return nil
}

// Close останавливает фоновые горутины (слушатель Redis, журнал) и дописывает журнал.
// Без включенных кэша и журнала ничего не делает. Повторный вызов безопасен.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		c.wg.Wait()
		if c.journal != nil {
			c.journal.Stop()
		}

		var errs []error
		for i := len(c.closers) - 1; i >= 0; i-- {
			if err := c.closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}

// GatewayURL возвращает нормализованный адрес шлюза
func (c *Client) GatewayURL() string { return c.http.BaseURL() }

// TraceID Trace-ID клиента по умолчанию
func (c *Client) TraceID() string { return c.http.TraceID() }

// FlushCache сбрасывает локальный кэш решений (если он включен)
func (c *Client) FlushCache() {
	if c.cache != nil {
		c.cache.Flush()
	}
}

// --- Решения ---

// Check спрашивает шлюз, разрешено ли действие. Отказ: это нормальный результат,
// а не ошибка: PolicyDeniedError отсюда не возвращается никогда.
func (c *Client) Check(ctx context.Context, action string) (PolicyDecision, error) {
	return c.gov.Check(ctx, action)
}

func (c *Client) CheckResource(ctx context.Context, action, resource string) (PolicyDecision, error) {
	return c.gov.CheckResource(ctx, action, resource)
}

// Enforce как Check, но отказ превращается в *PolicyDeniedError.
// Само действие Enforce не выполняет.
func (c *Client) Enforce(ctx context.Context, action string) (PolicyDecision, error) {
	return c.gov.Enforce(ctx, action)
}

func (c *Client) EnforceResource(ctx context.Context, action, resource string) (PolicyDecision, error) {
	return c.gov.EnforceResource(ctx, action, resource)
}

// Govern выполняет fn только если действие разрешено. Решение принимается один раз на входе.
func (c *Client) Govern(ctx context.Context, action string, fn func(ctx context.Context, d PolicyDecision) error) error {
	return c.gov.Govern(ctx, action, fn)
}

// GovernValue Govern для тела, возвращающего значение
func GovernValue[T any](ctx context.Context, c *Client, action string, fn func(ctx context.Context, d PolicyDecision) (T, error)) (T, error) {
	return governance.GovernValue(ctx, c.gov, action, fn)
}

// Health true, только если шлюз ответил 200
func (c *Client) Health(ctx context.Context) (bool, error) {
	return c.gov.Health(ctx)
}

func (c *Client) HealthStatus(ctx context.Context) (HealthStatus, error) {
	return c.gov.HealthStatus(ctx)
}

// IsHealthy возвращает true только для ответа 200 со status "healthy", ошибки дают false
func (c *Client) IsHealthy(ctx context.Context) bool {
	return c.gov.IsHealthy(ctx)
}

// --- Proxy passthrough ---

// Request проверяет действие и пересылает запрос через шлюз как есть
func (c *Client) Request(ctx context.Context, req ProxyRequest) (*Response, error) {
	return c.gov.Request(ctx, req)
}

func (c *Client) Get(ctx context.Context, path, action string) (*Response, error) {
	return c.gov.Get(ctx, path, action)
}

func (c *Client) Post(ctx context.Context, path, action string, body []byte) (*Response, error) {
	return c.gov.Post(ctx, path, action, body)
}

func (c *Client) Put(ctx context.Context, path, action string, body []byte) (*Response, error) {
	return c.gov.Put(ctx, path, action, body)
}

func (c *Client) Delete(ctx context.Context, path, action string) (*Response, error) {
	return c.gov.Delete(ctx, path, action)
}

// --- Админка (нужен admin token) ---

func (c *Client) ListAgents(ctx context.Context) ([]Agent, error) {
	return c.admin.ListAgents(ctx)
}

// CreateAgent возвращает токен агента ровно один раз
func (c *Client) CreateAgent(ctx context.Context, spec AgentSpec) (CreatedAgent, error) {
	return c.admin.CreateAgent(ctx, spec)
}

func (c *Client) RevokeAgent(ctx context.Context, agentID string) error {
	return c.admin.RevokeAgent(ctx, agentID)
}

func (c *Client) ListPolicies(ctx context.Context) ([]PolicyRecord, error) {
	return c.admin.ListPolicies(ctx)
}

func (c *Client) GetAuditLog(ctx context.Context, q AuditQuery) ([]AuditEntry, error) {
	return c.admin.GetAuditLog(ctx, q)
}
