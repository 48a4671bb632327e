// Package tools оборачивает инструменты агента проверкой политик MeshGuard:
// перед вызовом делается Enforce, при отказе инструмент не выполняется.
package tools

import (
	"context"
	"errors"

	"github.com/xela07ax/meshguard-go/internal/domain"
)

// Enforcer задает то, что нужно адаптеру от клиента (meshguard.Client подходит)
type Enforcer interface {
	Enforce(ctx context.Context, action string) (domain.PolicyDecision, error)
}

// DenyHandler превращает отказ в обычный результат вместо ошибки
type DenyHandler[In, Out any] func(ctx context.Context, denied *domain.PolicyDeniedError, in In) (Out, error)

type decisionKey struct{}

// DecisionFromContext возвращает решение, под которым выполняется обернутая функция
func DecisionFromContext(ctx context.Context) (domain.PolicyDecision, bool) {
	d, ok := ctx.Value(decisionKey{}).(domain.PolicyDecision)
	return d, ok
}

func withDecision(ctx context.Context, d domain.PolicyDecision) context.Context {
	return context.WithValue(ctx, decisionKey{}, d)
}

// Wrap возвращает fn, защищенную действием action.
// Разрешено: fn вызывается с исходным аргументом, результат не меняется.
// Запрещено: onDeny (если задан), иначе *PolicyDeniedError.
// Ошибки транспорта и аутентификации возвращаются всегда, onDeny их не видит.
func Wrap[In, Out any](e Enforcer, action string, fn func(ctx context.Context, in In) (Out, error), onDeny DenyHandler[In, Out]) func(ctx context.Context, in In) (Out, error) {
	return func(ctx context.Context, in In) (Out, error) {
		d, err := e.Enforce(ctx, action)
		if err != nil {
			var denied *domain.PolicyDeniedError
			if onDeny != nil && errors.As(err, &denied) {
				return onDeny(ctx, denied, in)
			}
			var zero Out
			return zero, err
		}
		return fn(withDecision(ctx, d), in)
	}
}
