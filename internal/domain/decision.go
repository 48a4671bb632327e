package domain

// Effect описывает итог проверки действия
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Valid проверяет, что значение входит в перечисление (пустое: невалидно).
func (e Effect) Valid() bool {
	return e == EffectAllow || e == EffectDeny
}

// PolicyDecision хранит неизменяемый результат одной проверки действия.
// Создается на каждый вызов, нигде не хранится и принадлежит вызывающему коду.
type PolicyDecision struct {
	Allowed  bool   `json:"allowed"`
	Action   string `json:"action"`
	Decision Effect `json:"decision"`
	Policy   string `json:"policy,omitempty"` // Какая политика приняла решение
	Rule     string `json:"rule,omitempty"`
	Reason   string `json:"reason,omitempty"`
	TraceID  string `json:"traceId,omitempty"` // Сквозной ID запроса
}
