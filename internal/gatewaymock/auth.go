package gatewaymock

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/xela07ax/meshguard-go/internal/domain"
	"github.com/xela07ax/meshguard-go/internal/infra"
	"go.uber.org/zap"
)

// TokenValidator проверяет токен агента и возвращает его claims
type TokenValidator interface {
	VerifyToken(tokenStr string) (*domain.AgentClaims, error)
}

// Issuer выпускает и проверяет HS256-токены агентов.
type Issuer struct {
	secret []byte
	ttl    time.Duration // 0: без exp
	issuer string
	now    func() time.Time
}

func NewIssuer(secret []byte, ttl time.Duration) *Issuer {
	return &Issuer{secret: secret, ttl: ttl, issuer: "meshguard-gatewaymock", now: time.Now}
}

// Issue подписывает токен для агента
func (i *Issuer) Issue(a domain.Agent) (string, error) {
	now := i.now()
	claims := domain.AgentClaims{
		AgentID:   a.ID,
		TrustTier: a.TrustTier,
		Tags:      a.Tags,
		OrgID:     a.OrgID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  a.ID,
			Issuer:   i.issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if i.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(i.ttl))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign agent token: %w", err)
	}
	return signed, nil
}

// VerifyToken принимает и "Bearer <jwt>", и голый jwt
func (i *Issuer) VerifyToken(tokenStr string) (*domain.AgentClaims, error) {
	tokenStr = strings.TrimSpace(strings.TrimPrefix(tokenStr, "Bearer "))

	claims := &domain.AgentClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.now))
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if claims.AgentID == "" {
		return nil, errors.New("invalid claims: agent_id is empty")
	}
	return claims, nil
}

type ctxKey string

const claimsKey ctxKey = "agent_claims"

// ClaimsFromContext claims агента, прошедшего agentAuth
func ClaimsFromContext(ctx context.Context) (*domain.AgentClaims, bool) {
	c, ok := ctx.Value(claimsKey).(*domain.AgentClaims)
	return c, ok
}

// agentAuth проверяет Bearer-токен и что агент не отозван
func agentAuth(v TokenValidator, store *Store, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get(infra.HeaderAuthorization)
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "Missing agent token")
				return
			}

			claims, err := v.VerifyToken(authHeader)
			if err != nil {
				logger.Warn("auth failure", zap.Error(err))
				writeError(w, http.StatusUnauthorized, "Invalid or expired token")
				return
			}
			if _, err := store.Agent(claims.AgentID); err != nil {
				logger.Warn("revoked agent rejected", zap.String("agent_id", claims.AgentID))
				writeError(w, http.StatusUnauthorized, "Agent revoked")
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// adminAuth сравнивает X-Admin-Token за константное время
func adminAuth(adminToken string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(infra.HeaderAdminToken)
			if adminToken == "" || subtle.ConstantTimeCompare([]byte(got), []byte(adminToken)) != 1 {
				logger.Warn("admin auth failure", zap.String("path", r.URL.Path))
				writeError(w, http.StatusUnauthorized, "Invalid admin token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
