package domain

import (
	"github.com/golang-jwt/jwt/v5"
)

// AgentClaims хранит содержимое токена агента, если шлюз выдает его в виде JWT.
// SDK читает claims без проверки подписи (только для fail-fast по exp),
// подпись проверяет шлюз.
type AgentClaims struct {
	AgentID   string    `json:"agent_id"`
	TrustTier TrustTier `json:"trust_tier,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	OrgID     string    `json:"org_id,omitempty"`
	jwt.RegisteredClaims
}
