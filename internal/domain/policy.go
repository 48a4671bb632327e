package domain

// PolicyRecord read-only снимок политики из list-policies.
// Правила и метаданные для клиента непрозрачны и лежат в Attributes как пришли.
type PolicyRecord struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Attributes map[string]any `json:"attributes,omitempty"` // Всё, кроме id и name: rules, effect, version...
}
