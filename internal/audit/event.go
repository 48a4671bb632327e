package audit

import (
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/meshguard-go/internal/domain"
)

// DecisionEvent описывает запись локального журнала: какое решение получил этот клиент и когда.
type DecisionEvent struct {
	ID       string `json:"id"`       // UUID события
	TraceID  string `json:"trace_id"` // Сквозной ID запроса
	Action   string `json:"action"`   // Что хотел сделать агент
	Resource string `json:"resource,omitempty"`

	// Результат
	Decision domain.Effect `json:"decision,omitempty"` // Пусто, если решение не получено
	Policy   string        `json:"policy,omitempty"`   // Какая политика разрешила/запретила
	Rule     string        `json:"rule,omitempty"`
	Reason   string        `json:"reason,omitempty"`
	Cached   bool          `json:"cached"` // Взято из локального кэша без похода в сеть

	Timestamp  time.Time `json:"timestamp"`
	DurationMs int64     `json:"duration_ms"` // Время проверки
	Error      string    `json:"error,omitempty"`
}

// NewDecisionEvent собирает событие по итогу проверки. err: ошибка транспорта/декодера, если была.
func NewDecisionEvent(action, resource string, d domain.PolicyDecision, started time.Time, cached bool, err error) DecisionEvent {
	e := DecisionEvent{
		ID:         uuid.New().String(),
		TraceID:    d.TraceID,
		Action:     action,
		Resource:   resource,
		Cached:     cached,
		Timestamp:  started,
		DurationMs: time.Since(started).Milliseconds(),
	}
	if err != nil {
		e.Error = err.Error()
		return e
	}
	e.Decision = d.Decision
	e.Policy = d.Policy
	e.Rule = d.Rule
	e.Reason = d.Reason
	return e
}
