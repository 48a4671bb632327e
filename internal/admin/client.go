package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/xela07ax/meshguard-go/internal/decoder"
	"github.com/xela07ax/meshguard-go/internal/domain"
	"github.com/xela07ax/meshguard-go/internal/infra"
	"github.com/xela07ax/meshguard-go/internal/transport"
	"go.uber.org/zap"
)

// Client выполняет админские операции шлюза. Каждая требует admin token;
// без него вызов падает с AuthenticationError до сети.
type Client struct {
	sender   transport.Sender
	hasToken bool
	logger   *zap.Logger
}

func New(sender transport.Sender, hasAdminToken bool, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{sender: sender, hasToken: hasAdminToken, logger: logger.Named("admin")}
}

func (c *Client) send(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	if !c.hasToken {
		return nil, domain.NewAuthenticationError("Admin token required for this operation", 0)
	}
	req.Admin = true
	return c.sender.Send(ctx, req)
}

// ListAgents возвращает агентов в порядке шлюза. Токены в ответ не попадают.
func (c *Client) ListAgents(ctx context.Context) ([]domain.Agent, error) {
	resp, err := c.send(ctx, &transport.Request{Method: http.MethodGet, Path: infra.PathAgents})
	if err != nil {
		return nil, err
	}
	return decoder.DecodeAgents(resp)
}

// CreateAgent регистрирует агента. Токен возвращается ровно один раз: сохраните его сразу.
func (c *Client) CreateAgent(ctx context.Context, spec domain.AgentSpec) (domain.CreatedAgent, error) {
	if strings.TrimSpace(spec.Name) == "" {
		return domain.CreatedAgent{}, domain.NewError("agent name must not be empty", 0, false)
	}
	if spec.TrustTier == "" {
		spec.TrustTier = domain.TierVerified
	}
	if spec.Tags == nil {
		spec.Tags = []string{}
	}

	body, err := json.Marshal(spec)
	if err != nil {
		return domain.CreatedAgent{}, &domain.MeshGuardError{Message: "failed to encode agent", Err: err}
	}

	resp, err := c.send(ctx, &transport.Request{Method: http.MethodPost, Path: infra.PathAgents, Body: body})
	if err != nil {
		return domain.CreatedAgent{}, err
	}
	created, err := decoder.DecodeCreatedAgent(resp)
	if err != nil {
		return domain.CreatedAgent{}, err
	}

	c.logger.Info("agent created",
		zap.String("agent_id", created.ID),
		zap.String("name", created.Name),
		zap.String("trust_tier", string(created.TrustTier)),
	)
	return created, nil
}

// RevokeAgent отзывает агента. Неизвестный id: NotFoundError.
func (c *Client) RevokeAgent(ctx context.Context, agentID string) error {
	if strings.TrimSpace(agentID) == "" {
		return domain.NewError("agent id must not be empty", 0, false)
	}
	resp, err := c.send(ctx, &transport.Request{Method: http.MethodDelete, Path: infra.AgentPath(agentID)})
	if err != nil {
		return err
	}
	if err := decoder.DecodeEmpty(resp); err != nil {
		return err
	}
	c.logger.Info("agent revoked", zap.String("agent_id", agentID))
	return nil
}

func (c *Client) ListPolicies(ctx context.Context) ([]domain.PolicyRecord, error) {
	resp, err := c.send(ctx, &transport.Request{Method: http.MethodGet, Path: infra.PathPolicies})
	if err != nil {
		return nil, err
	}
	return decoder.DecodePolicies(resp)
}

// GetAuditLog возвращает записи аудита от новых к старым, не больше q.Limit (0: серверный лимит).
func (c *Client) GetAuditLog(ctx context.Context, q domain.AuditQuery) ([]domain.AuditEntry, error) {
	if q.Limit < 0 {
		return nil, domain.NewError("audit limit must not be negative", 0, false)
	}
	if q.Decision != "" && !q.Decision.Valid() {
		return nil, domain.NewError("audit decision filter must be allow or deny", 0, false)
	}

	query := url.Values{}
	if q.Limit > 0 {
		query.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Decision != "" {
		query.Set("decision", string(q.Decision))
	}

	resp, err := c.send(ctx, &transport.Request{Method: http.MethodGet, Path: infra.PathAudit, Query: query})
	if err != nil {
		return nil, err
	}
	return decoder.DecodeAudit(resp, q.Limit)
}
