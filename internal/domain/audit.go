package domain

import "time"

// AuditEntry описывает запись журнала аудита шлюза. Журнал отдается от новых к старым.
type AuditEntry struct {
	ID        string    `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Decision  Effect    `json:"decision"`
	AgentID   string    `json:"agentId"`
	Policy    string    `json:"policy,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	TraceID   string    `json:"traceId,omitempty"`
}

// AuditQuery фильтрует выборку аудита.
// Limit == 0 означает "не передавать", тогда действует серверный лимит по умолчанию.
type AuditQuery struct {
	Limit    int
	Decision Effect // "": без фильтра
}
