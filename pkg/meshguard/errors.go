package meshguard

import "github.com/xela07ax/meshguard-go/internal/domain"

// Ошибки SDK. Любая из них разворачивается в *MeshGuardError через errors.As.
type (
	MeshGuardError      = domain.MeshGuardError
	AuthenticationError = domain.AuthenticationError
	RateLimitError      = domain.RateLimitError
	PolicyDeniedError   = domain.PolicyDeniedError
	NotFoundError       = domain.NotFoundError
	TimeoutError        = domain.TimeoutError
	ConnectionError     = domain.ConnectionError
)

// DefaultDenyReason подставляется, если шлюз не прислал причину отказа
const DefaultDenyReason = domain.DefaultDenyReason

// IsRetryable сообщает, имеет ли смысл повторить вызов (таймаут, сеть, 5xx).
func IsRetryable(err error) bool { return domain.IsRetryable(err) }
