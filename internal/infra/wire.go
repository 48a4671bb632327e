package infra

import "net/url"

// DefaultGatewayURL SaaS-шлюз по умолчанию
const DefaultGatewayURL = "https://dashboard.meshguard.app"

// Эндпоинты шлюза
const (
	PathHealth      = "/health"
	PathCheck       = "/proxy/check"
	PathProxyPrefix = "/proxy/"
	PathAgents      = "/admin/agents"
	PathPolicies    = "/admin/policies"
	PathAudit       = "/admin/audit"
)

// Заголовки протокола
const (
	HeaderAuthorization = "Authorization"
	HeaderAdminToken    = "X-Admin-Token"
	HeaderTraceID       = "X-MeshGuard-Trace-ID"
	HeaderAction        = "X-MeshGuard-Action"
	HeaderResource      = "X-MeshGuard-Resource"
	HeaderRetryAfter    = "Retry-After"
)

const (
	// RedisNamespace Базовый префикс для каналов SDK в Redis
	RedisNamespace = "meshguard"

	// RedisChanPolicyUpdate шлюз публикует сюда "refresh" при изменении политик.
	// Подписанные клиенты сбрасывают локальный кэш решений.
	RedisChanPolicyUpdate = RedisNamespace + ":policy-update"
)

// AgentPath строит путь к конкретному агенту
func AgentPath(agentID string) string {
	return PathAgents + "/" + url.PathEscape(agentID)
}
