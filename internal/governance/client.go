package governance

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/xela07ax/meshguard-go/internal/audit"
	"github.com/xela07ax/meshguard-go/internal/decoder"
	"github.com/xela07ax/meshguard-go/internal/domain"
	"github.com/xela07ax/meshguard-go/internal/infra"
	"github.com/xela07ax/meshguard-go/internal/transport"
	"go.uber.org/zap"
)

// Cache хранит решения локально (см. policy.MemoCache). nil: каждый Check идет в сеть.
type Cache interface {
	Get(action, resource string) (domain.PolicyDecision, bool)
	Put(action, resource string, d domain.PolicyDecision)
}

type Options struct {
	Cache   Cache
	Journal audit.Auditor
	Metrics *transport.Metrics
	Logger  *zap.Logger
}

// Client принимает решения: check, enforce, govern, health и proxy passthrough.
// Безопасен для конкурентного использования, если таковы sender и кэш.
type Client struct {
	sender  transport.Sender
	cache   Cache
	journal audit.Auditor
	metrics *transport.Metrics
	logger  *zap.Logger
}

func New(sender transport.Sender, opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = transport.NewMetrics(nil)
	}
	return &Client{
		sender:  sender,
		cache:   opts.Cache,
		journal: opts.Journal,
		metrics: opts.Metrics,
		logger:  opts.Logger.Named("governance"),
	}
}

type checkRequest struct {
	Action   string `json:"action"`
	Resource string `json:"resource,omitempty"`
}

// Check спрашивает шлюз, разрешено ли действие. Отказ политики: это решение
// с Allowed == false, а не ошибка: PolicyDeniedError отсюда не возвращается никогда.
func (c *Client) Check(ctx context.Context, action string) (domain.PolicyDecision, error) {
	return c.CheckResource(ctx, action, "")
}

// CheckResource Check с идентификатором ресурса.
func (c *Client) CheckResource(ctx context.Context, action, resource string) (domain.PolicyDecision, error) {
	if strings.TrimSpace(action) == "" {
		return domain.PolicyDecision{}, domain.NewError("action must not be empty", 0, false)
	}

	start := time.Now()

	if c.cache != nil {
		if d, ok := c.cache.Get(action, resource); ok {
			c.record(action, resource, d, start, true, nil)
			return d, nil
		}
	}

	body, err := json.Marshal(checkRequest{Action: action, Resource: resource})
	if err != nil {
		return domain.PolicyDecision{}, &domain.MeshGuardError{Message: "failed to encode check request", Err: err}
	}

	header := http.Header{}
	header.Set(infra.HeaderAction, action)
	if resource != "" {
		header.Set(infra.HeaderResource, resource)
	}

	resp, err := c.sender.Send(ctx, &transport.Request{
		Method: http.MethodPost,
		Path:   infra.PathCheck,
		Header: header,
		Body:   body,
	})
	if err != nil {
		c.record(action, resource, domain.PolicyDecision{}, start, false, err)
		return domain.PolicyDecision{}, err
	}

	d, err := decoder.DecodeDecision(resp, action)
	if err != nil {
		c.record(action, resource, domain.PolicyDecision{}, start, false, err)
		return domain.PolicyDecision{}, err
	}
	if d.TraceID == "" {
		d.TraceID = resp.Header.Get(infra.HeaderTraceID)
	}

	c.metrics.Decisions.WithLabelValues(string(d.Decision)).Inc()
	if c.cache != nil {
		c.cache.Put(action, resource, d)
	}
	c.record(action, resource, d, start, false, nil)

	c.logger.Debug("policy decision",
		zap.String("action", action),
		zap.String("resource", resource),
		zap.Bool("allowed", d.Allowed),
		zap.String("policy", d.Policy),
		zap.String("trace_id", d.TraceID),
	)
	return d, nil
}

// Enforce Check, превращающий отказ в *domain.PolicyDeniedError.
// Само действие не выполняет: это делает вызывающий код после успешного возврата.
// При отказе возвращается и решение, и ошибка.
func (c *Client) Enforce(ctx context.Context, action string) (domain.PolicyDecision, error) {
	return c.EnforceResource(ctx, action, "")
}

// EnforceResource Enforce с идентификатором ресурса.
func (c *Client) EnforceResource(ctx context.Context, action, resource string) (domain.PolicyDecision, error) {
	d, err := c.CheckResource(ctx, action, resource)
	if err != nil {
		return d, err
	}
	if !d.Allowed {
		c.logger.Info("action denied by policy",
			zap.String("action", action),
			zap.String("policy", d.Policy),
			zap.String("reason", d.Reason),
			zap.String("trace_id", d.TraceID),
		)
		return d, domain.DeniedFromDecision(d)
	}
	return d, nil
}

// Govern проверяет действие один раз на входе. При отказе fn не вызывается;
// при разрешении fn вызывается ровно один раз с решением. После fn в сеть не ходим.
func (c *Client) Govern(ctx context.Context, action string, fn func(ctx context.Context, d domain.PolicyDecision) error) error {
	d, err := c.Enforce(ctx, action)
	if err != nil {
		return err
	}
	return fn(ctx, d)
}

// GovernValue Govern для функций, возвращающих значение.
func GovernValue[T any](ctx context.Context, c *Client, action string, fn func(ctx context.Context, d domain.PolicyDecision) (T, error)) (T, error) {
	var zero T
	d, err := c.Enforce(ctx, action)
	if err != nil {
		return zero, err
	}
	return fn(ctx, d)
}

// Health возвращает true, только если /health ответил 200. Сетевые сбои: ошибка.
func (c *Client) Health(ctx context.Context) (bool, error) {
	resp, err := c.sender.Send(ctx, &transport.Request{Method: http.MethodGet, Path: infra.PathHealth, NoAuth: true})
	if err != nil {
		return false, err
	}
	return resp.StatusCode == http.StatusOK, nil
}

// HealthStatus возвращает тело /health как есть.
func (c *Client) HealthStatus(ctx context.Context) (decoder.HealthStatus, error) {
	resp, err := c.sender.Send(ctx, &transport.Request{Method: http.MethodGet, Path: infra.PathHealth, NoAuth: true})
	if err != nil {
		return nil, err
	}
	return decoder.DecodeHealth(resp)
}

// IsHealthy проверяет без ошибок: нужен ответ 200 со status "healthy".
// Тело без поля status, как и любая ошибка, дает false.
func (c *Client) IsHealthy(ctx context.Context) bool {
	h, err := c.HealthStatus(ctx)
	if err != nil {
		return false
	}
	return h.Status() == "healthy"
}

func (c *Client) record(action, resource string, d domain.PolicyDecision, start time.Time, cached bool, err error) {
	if c.journal == nil {
		return
	}
	c.journal.Log(audit.NewDecisionEvent(action, resource, d, start, cached, err))
}
