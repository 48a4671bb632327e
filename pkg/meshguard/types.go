package meshguard

import (
	"github.com/xela07ax/meshguard-go/internal/audit"
	"github.com/xela07ax/meshguard-go/internal/decoder"
	"github.com/xela07ax/meshguard-go/internal/domain"
	"github.com/xela07ax/meshguard-go/internal/governance"
	"github.com/xela07ax/meshguard-go/internal/infra"
	"github.com/xela07ax/meshguard-go/internal/transport"
)

type (
	PolicyDecision = domain.PolicyDecision
	Effect         = domain.Effect
	Agent          = domain.Agent
	CreatedAgent   = domain.CreatedAgent
	AgentSpec      = domain.AgentSpec
	AgentClaims    = domain.AgentClaims
	TrustTier      = domain.TrustTier
	PolicyRecord   = domain.PolicyRecord
	AuditEntry     = domain.AuditEntry
	AuditQuery     = domain.AuditQuery

	ProxyRequest = governance.ProxyRequest
	Response     = transport.Response
	HealthStatus = decoder.HealthStatus

	// DecisionEvent описывает запись клиентского журнала решений
	DecisionEvent = audit.DecisionEvent
	// JournalStorage принимает пачки событий для WithJournal
	JournalStorage = audit.Storage
)

const (
	EffectAllow = domain.EffectAllow
	EffectDeny  = domain.EffectDeny

	TierUnverified = domain.TierUnverified
	TierVerified   = domain.TierVerified
	TierTrusted    = domain.TierTrusted
	TierPrivileged = domain.TierPrivileged
)

// DefaultGatewayURL используется, если адрес шлюза не задан ни опцией, ни окружением
const DefaultGatewayURL = infra.DefaultGatewayURL

var (
	// ContextWithTraceID переопределяет Trace-ID для вызовов с этим контекстом
	ContextWithTraceID = transport.WithTraceID
	// NewTraceID генерирует случайный Trace-ID
	NewTraceID = transport.NewTraceID
	// InspectToken читает claims JWT-токена агента без проверки подписи
	InspectToken = transport.InspectToken
)
