package gatewaymock

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/meshguard-go/internal/domain"
	"github.com/xela07ax/meshguard-go/internal/infra"
	"go.uber.org/zap"
)

// defaultAuditLimit ограничивает выдачу без ?limit
const defaultAuditLimit = 50

const maxBody = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeBody(r *http.Request, v any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(v)
}

// GET /health
func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"version": "mock",
		"agents":  len(s.store.Agents()),
	})
}

type checkRequest struct {
	Action   string `json:"action"`
	Resource string `json:"resource,omitempty"`
}

// POST /proxy/check (GET с X-MeshGuard-Action тоже принимается)
func (s *Server) check(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if r.Method == http.MethodPost && r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}
	if req.Action == "" {
		req.Action = r.Header.Get(infra.HeaderAction)
	}
	if req.Resource == "" {
		req.Resource = r.Header.Get(infra.HeaderResource)
	}
	if strings.TrimSpace(req.Action) == "" {
		writeError(w, http.StatusBadRequest, "action is required")
		return
	}

	d := s.decide(r.Context(), req.Action, req.Resource)
	writeJSON(w, http.StatusOK, d)
}

// decide оценивает действие для агента из контекста и пишет аудит
func (s *Server) decide(ctx context.Context, action, resource string) domain.PolicyDecision {
	var tier domain.TrustTier
	var agentID string
	if claims, ok := ClaimsFromContext(ctx); ok {
		if a, err := s.store.Agent(claims.AgentID); err == nil {
			tier, agentID = a.TrustTier, a.ID
		}
	}

	d := s.store.Evaluate(tier, action)
	d.TraceID = traceIDFrom(ctx)
	s.store.Record(agentID, d.TraceID, d)
	s.metrics.decisions.WithLabelValues(string(d.Decision), d.Policy).Inc()

	s.logger.Debug("decision",
		zap.String("agent_id", agentID),
		zap.String("action", action),
		zap.String("resource", resource),
		zap.String("decision", string(d.Decision)),
		zap.String("policy", d.Policy),
	)
	return d
}

// /proxy/*: проверка X-MeshGuard-Action и пересылка апстриму
func (s *Server) proxy(w http.ResponseWriter, r *http.Request) {
	action := r.Header.Get(infra.HeaderAction)
	if action == "" {
		writeError(w, http.StatusBadRequest, "X-MeshGuard-Action header is required")
		return
	}

	d := s.decide(r.Context(), action, r.Header.Get(infra.HeaderResource))
	if !d.Allowed {
		writeJSON(w, http.StatusForbidden, map[string]any{
			"error":  domain.DeniedFromDecision(d).Error(),
			"policy": d.Policy,
			"reason": d.Reason,
		})
		return
	}

	path := "/" + chi.URLParam(r, "*")
	if s.cfg.Upstream == nil {
		body, _ := io.ReadAll(io.LimitReader(r.Body, maxBody))
		writeJSON(w, http.StatusOK, map[string]any{
			"method": r.Method,
			"path":   path,
			"action": action,
			"query":  r.URL.RawQuery,
			"body":   string(body),
		})
		return
	}

	out := r.Clone(r.Context())
	out.URL.Path = path
	out.URL.RawPath = ""
	out.RequestURI = ""
	s.cfg.Upstream.ServeHTTP(w, out)
}

// GET /admin/agents
func (s *Server) listAgents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"agents": s.store.Agents()})
}

// POST /admin/agents
func (s *Server) createAgent(w http.ResponseWriter, r *http.Request) {
	var spec domain.AgentSpec
	if err := decodeBody(r, &spec); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(spec.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	created, err := s.RegisterAgent(spec)
	if err != nil {
		s.logger.Error("agent token issue failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to issue token")
		return
	}

	s.logger.Info("agent created",
		zap.String("agent_id", created.ID),
		zap.String("trust_tier", string(created.TrustTier)))
	writeJSON(w, http.StatusCreated, created)
}

// DELETE /admin/agents/{id}
func (s *Server) revokeAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.Revoke(id); err != nil {
		writeError(w, http.StatusNotFound, "Agent not found")
		return
	}
	s.metrics.agents.Set(float64(len(s.store.Agents())))
	s.logger.Info("agent revoked", zap.String("agent_id", id))
	w.WriteHeader(http.StatusNoContent)
}

// GET /admin/policies
func (s *Server) listPolicies(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"policies": s.store.Policies()})
}

// POST /admin/policies: создание или замена; подписчики получают "refresh"
func (s *Server) putPolicy(w http.ResponseWriter, r *http.Request) {
	var p Policy
	if err := decodeBody(r, &p); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(p.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	for _, rule := range p.Rules {
		if !rule.Effect.Valid() {
			writeError(w, http.StatusBadRequest, "rule effect must be allow or deny")
			return
		}
	}

	saved := s.store.PutPolicy(p)
	if s.notifier != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.notifier.Notify(ctx, "refresh"); err != nil {
			s.logger.Warn("policy update signal failed", zap.Error(err))
		}
	}
	writeJSON(w, http.StatusCreated, saved)
}

// GET /admin/audit?limit=&decision=
func (s *Server) auditLog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := defaultAuditLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		if n > 0 {
			limit = n
		}
	}

	decision := domain.Effect(q.Get("decision"))
	if decision != "" && !decision.Valid() {
		writeError(w, http.StatusBadRequest, "decision must be allow or deny")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"entries": s.store.Audit(limit, decision)})
}
