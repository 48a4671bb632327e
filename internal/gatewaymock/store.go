package gatewaymock

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/meshguard-go/internal/domain"
)

// ErrAgentNotFound означает, что агента нет или он отозван
var ErrAgentNotFound = errors.New("agent not found")

// Rule описывает правило политики. Action: точное имя, "*" или префикс с "*" на конце ("read:*").
// Tiers ограничивает правило уровнями доверия агента; пусто: для всех.
type Rule struct {
	Name   string             `json:"name" yaml:"name"`
	Action string             `json:"action" yaml:"action"`
	Effect domain.Effect      `json:"effect" yaml:"effect"`
	Reason string             `json:"reason,omitempty" yaml:"reason,omitempty"`
	Tiers  []domain.TrustTier `json:"tiers,omitempty" yaml:"tiers,omitempty"`
}

// Policy объединяет именованный набор правил. Политики проверяются по порядку, первое совпадение решает.
type Policy struct {
	ID    string `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	Rules []Rule `json:"rules" yaml:"rules"`
}

// DefaultPolicies возвращает набор для локальной разработки
func DefaultPolicies() []Policy {
	return []Policy{
		{
			ID:   "policy-db-protect",
			Name: "db-protect",
			Rules: []Rule{
				{Name: "privileged-only", Action: "delete:*", Effect: domain.EffectAllow, Tiers: []domain.TrustTier{domain.TierPrivileged}},
				{Name: "no-deletes", Action: "delete:*", Effect: domain.EffectDeny, Reason: "tier too low"},
			},
		},
		{
			ID:   "policy-default",
			Name: "default",
			Rules: []Rule{
				{Name: "read-all", Action: "read:*", Effect: domain.EffectAllow},
				{Name: "write-trusted", Action: "write:*", Effect: domain.EffectAllow, Tiers: []domain.TrustTier{domain.TierTrusted, domain.TierPrivileged}},
			},
		},
	}
}

type agentRecord struct {
	domain.Agent
	revoked bool
}

// Store in-memory состояние шлюза: агенты, политики, журнал аудита.
type Store struct {
	mu       sync.RWMutex
	agents   map[string]*agentRecord
	order    []string
	policies []Policy
	audit    []domain.AuditEntry
	maxAudit int
	now      func() time.Time
}

func NewStore(policies []Policy) *Store {
	if policies == nil {
		policies = DefaultPolicies()
	}
	return &Store{
		agents:   make(map[string]*agentRecord),
		policies: policies,
		maxAudit: 10000,
		now:      time.Now,
	}
}

// AddAgent регистрирует агента и возвращает его снимок
func (s *Store) AddAgent(spec domain.AgentSpec) domain.Agent {
	if spec.TrustTier == "" {
		spec.TrustTier = domain.TierVerified
	}
	tags := append([]string{}, spec.Tags...)

	a := domain.Agent{
		ID:        "agent-" + uuid.NewString(),
		Name:      spec.Name,
		TrustTier: spec.TrustTier,
		Tags:      tags,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[a.ID] = &agentRecord{Agent: a}
	s.order = append(s.order, a.ID)
	return a
}

// Agent возвращает активного агента
func (s *Store) Agent(id string) (domain.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.agents[id]
	if !ok || rec.revoked {
		return domain.Agent{}, ErrAgentNotFound
	}
	return rec.Agent, nil
}

// Agents возвращает активных агентов в порядке создания
func (s *Store) Agents() []domain.Agent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Agent, 0, len(s.order))
	for _, id := range s.order {
		if rec := s.agents[id]; !rec.revoked {
			out = append(out, rec.Agent)
		}
	}
	return out
}

// Revoke помечает агента отозванным; его токены перестают приниматься
func (s *Store) Revoke(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.agents[id]
	if !ok || rec.revoked {
		return ErrAgentNotFound
	}
	rec.revoked = true
	return nil
}

func (s *Store) Policies() []Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Policy(nil), s.policies...)
}

// PutPolicy добавляет политику или заменяет существующую с тем же ID
func (s *Store) PutPolicy(p Policy) Policy {
	if p.ID == "" {
		p.ID = "policy-" + uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.policies {
		if s.policies[i].ID == p.ID {
			s.policies[i] = p
			return p
		}
	}
	s.policies = append(s.policies, p)
	return p
}

// Evaluate находит первое совпавшее правило по порядку политик. Без совпадений: deny.
func (s *Store) Evaluate(tier domain.TrustTier, action string) domain.PolicyDecision {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.policies {
		for _, r := range p.Rules {
			if !matchAction(r.Action, action) || !tierAllowed(r.Tiers, tier) {
				continue
			}
			return domain.PolicyDecision{
				Allowed:  r.Effect == domain.EffectAllow,
				Action:   action,
				Decision: r.Effect,
				Policy:   p.Name,
				Rule:     r.Name,
				Reason:   r.Reason,
			}
		}
	}
	return domain.PolicyDecision{
		Action:   action,
		Decision: domain.EffectDeny,
		Reason:   "No matching policy",
	}
}

// Record пишет решение в журнал аудита
func (s *Store) Record(agentID, traceID string, d domain.PolicyDecision) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, domain.AuditEntry{
		ID:        uuid.NewString(),
		Timestamp: s.now().UTC(),
		Action:    d.Action,
		Decision:  d.Decision,
		AgentID:   agentID,
		Policy:    d.Policy,
		Reason:    d.Reason,
		TraceID:   traceID,
	})
	if over := len(s.audit) - s.maxAudit; over > 0 {
		s.audit = s.audit[over:]
	}
}

// Audit возвращает записи от новых к старым с фильтром по решению
func (s *Store) Audit(limit int, decision domain.Effect) []domain.AuditEntry {
	s.mu.RLock()
	out := make([]domain.AuditEntry, 0, len(s.audit))
	// Обходим с конца: при равных timestamp новее та запись, что добавлена позже
	for i := len(s.audit) - 1; i >= 0; i-- {
		if e := s.audit[i]; decision == "" || e.Decision == decision {
			out = append(out, e)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func matchAction(pattern, action string) bool {
	switch {
	case pattern == "*":
		return true
	case strings.HasSuffix(pattern, "*"):
		return strings.HasPrefix(action, strings.TrimSuffix(pattern, "*"))
	default:
		return pattern == action
	}
}

func tierAllowed(tiers []domain.TrustTier, tier domain.TrustTier) bool {
	if len(tiers) == 0 {
		return true
	}
	for _, t := range tiers {
		if t == tier {
			return true
		}
	}
	return false
}
