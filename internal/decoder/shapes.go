package decoder

import (
	"encoding/json"
	"errors"
	"sort"
	"strings"

	"github.com/xela07ax/meshguard-go/internal/domain"
	"github.com/xela07ax/meshguard-go/internal/infra"
	"github.com/xela07ax/meshguard-go/internal/transport"
)

type decisionWire struct {
	Allowed      *bool  `json:"allowed"`
	Action       string `json:"action"`
	Decision     string `json:"decision"`
	Policy       string `json:"policy"`
	Rule         string `json:"rule"`
	Reason       string `json:"reason"`
	Message      string `json:"message"`
	TraceID      string `json:"traceId"`
	TraceIDSnake string `json:"trace_id"`
}

// DecodeDecision разбирает ответ проверки действия. Обязательное поле: allowed.
// Отказ политики здесь не ошибка: это обычное решение с Allowed == false.
func DecodeDecision(resp *transport.Response, action string) (domain.PolicyDecision, error) {
	if err := checkStatus(resp); err != nil {
		return domain.PolicyDecision{}, err
	}

	var w decisionWire
	if err := json.Unmarshal(resp.Body, &w); err != nil {
		return domain.PolicyDecision{}, malformed("decision", err)
	}
	if w.Allowed == nil {
		return domain.PolicyDecision{}, malformed("decision: missing field \"allowed\"", nil)
	}

	d := domain.PolicyDecision{
		Allowed: *w.Allowed,
		Action:  action,
		Policy:  w.Policy,
		Rule:    w.Rule,
		Reason:  firstNonEmpty(w.Reason, w.Message),
		TraceID: firstNonEmpty(w.TraceID, w.TraceIDSnake, resp.Header.Get(infra.HeaderTraceID)),
	}
	if d.Action == "" {
		d.Action = w.Action
	}

	// allowed: источник истины, decision приводим к нему
	d.Decision = domain.EffectDeny
	if d.Allowed {
		d.Decision = domain.EffectAllow
	}
	return d, nil
}

type agentWire struct {
	ID             string           `json:"id"`
	Name           string           `json:"name"`
	TrustTier      domain.TrustTier `json:"trustTier"`
	TrustTierSnake domain.TrustTier `json:"trust_tier"`
	Tags           []string         `json:"tags"`
	OrgID          string           `json:"orgId"`
	OrgIDSnake     string           `json:"org_id"`
	Token          string           `json:"token"`
}

func (w agentWire) toAgent() (domain.Agent, error) {
	if w.ID == "" {
		return domain.Agent{}, malformed("agent: missing field \"id\"", nil)
	}
	tier := w.TrustTier
	if tier == "" {
		tier = w.TrustTierSnake
	}
	tags := w.Tags
	if tags == nil {
		tags = []string{}
	}
	return domain.Agent{
		ID:        w.ID,
		Name:      w.Name,
		TrustTier: tier,
		Tags:      tags,
		OrgID:     firstNonEmpty(w.OrgID, w.OrgIDSnake),
	}, nil
}

// DecodeAgents разбирает {"agents": [...]}. Порядок сохраняется, токены отбрасываются.
func DecodeAgents(resp *transport.Response) ([]domain.Agent, error) {
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var body struct {
		Agents *[]agentWire `json:"agents"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, malformed("agents", err)
	}
	if body.Agents == nil {
		return nil, malformed("agents: missing field \"agents\"", nil)
	}

	agents := make([]domain.Agent, 0, len(*body.Agents))
	for _, w := range *body.Agents {
		a, err := w.toAgent()
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, nil
}

// DecodeCreatedAgent принимает плоский ответ {id, name, ..., token}
// или вложенный {"agent": {...}, "token": ...}. Без токена ответ некорректен.
func DecodeCreatedAgent(resp *transport.Response) (domain.CreatedAgent, error) {
	if err := checkStatus(resp); err != nil {
		return domain.CreatedAgent{}, err
	}

	var body struct {
		agentWire
		Agent *agentWire `json:"agent"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return domain.CreatedAgent{}, malformed("created agent", err)
	}

	w := body.agentWire
	if body.Agent != nil {
		token := firstNonEmpty(body.Token, body.Agent.Token)
		w = *body.Agent
		w.Token = token
	}
	if w.Token == "" {
		return domain.CreatedAgent{}, malformed("created agent: missing field \"token\"", nil)
	}

	a, err := w.toAgent()
	if err != nil {
		return domain.CreatedAgent{}, err
	}
	return domain.CreatedAgent{Agent: a, Token: w.Token}, nil
}

// DecodePolicies разбирает {"policies": [...]}. Всё, кроме id и name, уходит в Attributes.
func DecodePolicies(resp *transport.Response) ([]domain.PolicyRecord, error) {
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var body struct {
		Policies *[]map[string]json.RawMessage `json:"policies"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, malformed("policies", err)
	}
	if body.Policies == nil {
		return nil, malformed("policies: missing field \"policies\"", nil)
	}

	records := make([]domain.PolicyRecord, 0, len(*body.Policies))
	for _, raw := range *body.Policies {
		var rec domain.PolicyRecord
		if v, ok := raw["id"]; ok {
			if err := json.Unmarshal(v, &rec.ID); err != nil {
				return nil, malformed("policy id", err)
			}
		}
		if v, ok := raw["name"]; ok {
			if err := json.Unmarshal(v, &rec.Name); err != nil {
				return nil, malformed("policy name", err)
			}
		}
		if rec.ID == "" && rec.Name == "" {
			return nil, malformed("policy: missing both \"id\" and \"name\"", nil)
		}

		rec.Attributes = make(map[string]any, len(raw))
		for k, v := range raw {
			if k == "id" || k == "name" {
				continue
			}
			var val any
			if err := json.Unmarshal(v, &val); err != nil {
				return nil, malformed("policy attribute "+k, err)
			}
			rec.Attributes[k] = val
		}
		records = append(records, rec)
	}
	return records, nil
}

// DecodeAudit разбирает {"entries": [...]}: сортирует от новых к старым и режет до limit (0: без обрезки).
func DecodeAudit(resp *transport.Response, limit int) ([]domain.AuditEntry, error) {
	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var body struct {
		Entries *[]domain.AuditEntry `json:"entries"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, malformed("audit log", err)
	}
	if body.Entries == nil {
		return nil, malformed("audit log: missing field \"entries\"", nil)
	}

	entries := *body.Entries
	for i, e := range entries {
		if e.Action == "" {
			return nil, malformed("audit entry: missing field \"action\"", nil)
		}
		e.Decision = domain.Effect(strings.ToLower(string(e.Decision)))
		if !e.Decision.Valid() {
			return nil, malformed("audit entry: invalid decision \""+string(e.Decision)+"\"", nil)
		}
		entries[i] = e
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// HealthStatus хранит тело /health как есть.
type HealthStatus map[string]any

// Status возвращает значение поля status ("healthy", "degraded", ...).
func (h HealthStatus) Status() string {
	s, _ := h["status"].(string)
	return s
}

// DecodeHealth разбирает тело /health. Пустое или не-JSON тело при 200: пустой статус.
func DecodeHealth(resp *transport.Response) (HealthStatus, error) {
	if err := checkStatus(resp); err != nil {
		return nil, err
	}
	status := HealthStatus{}
	if len(strings.TrimSpace(string(resp.Body))) == 0 {
		return status, nil
	}
	if err := json.Unmarshal(resp.Body, &status); err != nil {
		return nil, malformed("health", err)
	}
	return status, nil
}

// DecodeEmpty проверяет ответ без полезной нагрузки (revoke): важен только статус.
func DecodeEmpty(resp *transport.Response) error {
	return checkStatus(resp)
}

// IsMalformed сообщает, что шлюз ответил 2xx, но тело не той формы.
func IsMalformed(err error) bool {
	var base *domain.MeshGuardError
	return errors.As(err, &base) && base.StatusCode == 0 && strings.HasPrefix(base.Message, "malformed response")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
