package transport

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/xela07ax/meshguard-go/internal/domain"
)

// InspectToken читает claims токена агента без проверки подписи.
// Непрозрачный (не JWT) токен: не ошибка: ok == false, и SDK просто передает его шлюзу.
func InspectToken(tokenStr string) (*domain.AgentClaims, bool) {
	tokenStr = strings.TrimSpace(strings.TrimPrefix(tokenStr, "Bearer "))
	if strings.Count(tokenStr, ".") != 2 {
		return nil, false
	}

	claims := &domain.AgentClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, claims); err != nil {
		return nil, false
	}
	return claims, true
}

// tokenExpiry возвращает exp токена. Нулевое время: срок не ограничен или токен непрозрачный.
func tokenExpiry(tokenStr string) time.Time {
	claims, ok := InspectToken(tokenStr)
	if !ok || claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}

// checkExpiry fail-fast до сети: просроченный токен шлюз все равно отклонит.
func checkExpiry(exp, now time.Time) error {
	if exp.IsZero() || now.Before(exp) {
		return nil
	}
	return domain.NewAuthenticationError("Agent token expired at "+exp.UTC().Format(time.RFC3339), 0)
}
