package domain

import (
	"errors"
	"fmt"
	"time"
)

// DefaultDenyReason подставляется, если шлюз не объяснил отказ.
const DefaultDenyReason = "Access denied by policy"

// MeshGuardError задает базовый вид ошибки SDK. Все специфичные ошибки разворачиваются
// (errors.As) в *MeshGuardError, поэтому его можно ловить как "любую ошибку шлюза".
type MeshGuardError struct {
	Message    string
	StatusCode int  // 0, если ошибка случилась до получения HTTP-ответа
	Retryable  bool // Транзиентная ошибка: таймаут, сеть, 5xx
	Err        error
}

func (e *MeshGuardError) Error() string {
	switch {
	case e.Err == nil:
		return e.Message
	case e.Message == "":
		return e.Err.Error()
	default:
		return e.Message + ": " + e.Err.Error()
	}
}

func (e *MeshGuardError) Unwrap() error { return e.Err }

// NewError создает базовую ошибку с HTTP-статусом (0: вне HTTP).
func NewError(message string, statusCode int, retryable bool) *MeshGuardError {
	return &MeshGuardError{Message: message, StatusCode: statusCode, Retryable: retryable}
}

// AuthenticationError означает отсутствующий, неверный или просроченный токен (401/403).
type AuthenticationError struct{ MeshGuardError }

func (e *AuthenticationError) Unwrap() error { return &e.MeshGuardError }

func NewAuthenticationError(message string, statusCode int) *AuthenticationError {
	return &AuthenticationError{MeshGuardError{Message: message, StatusCode: statusCode}}
}

// RateLimitError означает 429 от шлюза (или отказ локального лимитера).
type RateLimitError struct {
	MeshGuardError
	RetryAfter time.Duration // Из заголовка Retry-After, если шлюз его прислал
}

func (e *RateLimitError) Unwrap() error { return &e.MeshGuardError }

func NewRateLimitError(message string, retryAfter time.Duration) *RateLimitError {
	return &RateLimitError{
		MeshGuardError: MeshGuardError{Message: message, StatusCode: 429},
		RetryAfter:     retryAfter,
	}
}

// NotFoundError означает, что объект админки не найден (404).
type NotFoundError struct{ MeshGuardError }

func (e *NotFoundError) Unwrap() error { return &e.MeshGuardError }

func NewNotFoundError(message string) *NotFoundError {
	return &NotFoundError{MeshGuardError{Message: message, StatusCode: 404}}
}

// TimeoutError означает, что истек таймаут запроса. Транзиентная.
type TimeoutError struct{ MeshGuardError }

func (e *TimeoutError) Unwrap() error { return &e.MeshGuardError }

func NewTimeoutError(message string, cause error) *TimeoutError {
	return &TimeoutError{MeshGuardError{Message: message, Retryable: true, Err: cause}}
}

// ConnectionError покрывает DNS, отказ соединения, обрыв при чтении тела и открытый предохранитель. Транзиентная.
type ConnectionError struct{ MeshGuardError }

func (e *ConnectionError) Unwrap() error { return &e.MeshGuardError }

func NewConnectionError(message string, cause error) *ConnectionError {
	return &ConnectionError{MeshGuardError{Message: message, Retryable: true, Err: cause}}
}

// PolicyDeniedError означает, что действие запрещено политикой.
// Возвращается только из Enforce/Govern/адаптера инструментов, но никогда из Check.
type PolicyDeniedError struct {
	MeshGuardError
	Action string
	Policy string
	Rule   string
	Reason string
}

func (e *PolicyDeniedError) Unwrap() error { return &e.MeshGuardError }

func (e *PolicyDeniedError) Error() string {
	msg := fmt.Sprintf("Action '%s' denied", e.Action)
	if e.Policy != "" {
		msg += fmt.Sprintf(" by policy '%s'", e.Policy)
	}
	if e.Rule != "" {
		msg += fmt.Sprintf(" (rule: %s)", e.Rule)
	}
	return msg + ": " + e.Reason
}

func NewPolicyDeniedError(action, policy, rule, reason string) *PolicyDeniedError {
	if reason == "" {
		reason = DefaultDenyReason
	}
	e := &PolicyDeniedError{Action: action, Policy: policy, Rule: rule, Reason: reason}
	e.MeshGuardError.Message = e.Error()
	return e
}

// DeniedFromDecision превращает отрицательное решение в ошибку.
func DeniedFromDecision(d PolicyDecision) *PolicyDeniedError {
	return NewPolicyDeniedError(d.Action, d.Policy, d.Rule, d.Reason)
}

// IsRetryable сообщает, имеет ли смысл повторить вызов.
func IsRetryable(err error) bool {
	var base *MeshGuardError
	if errors.As(err, &base) {
		return base.Retryable
	}
	return false
}
