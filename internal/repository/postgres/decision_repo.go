package postgres

/*
Файл decision_repo.go: Postgres-хранилище локального журнала решений клиента.
Пишет пачками одним INSERT, схема создается по EnsureSchema.
*/

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres
	"github.com/xela07ax/meshguard-go/internal/audit"
)

// Количество колонок в таблице decision_journal
const decisionFields = 13

const schema = `
CREATE TABLE IF NOT EXISTS decision_journal (
	id          UUID PRIMARY KEY,
	trace_id    TEXT NOT NULL DEFAULT '',
	action      TEXT NOT NULL,
	resource    TEXT NOT NULL DEFAULT '',
	decision    TEXT NOT NULL DEFAULT '',
	policy      TEXT NOT NULL DEFAULT '',
	rule        TEXT NOT NULL DEFAULT '',
	reason      TEXT NOT NULL DEFAULT '',
	cached      BOOLEAN NOT NULL DEFAULT FALSE,
	error       TEXT NOT NULL DEFAULT '',
	duration_ms BIGINT NOT NULL DEFAULT 0,
	timestamp   TIMESTAMPTZ NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

type DecisionRepo struct {
	db *sql.DB
}

// NewDecisionRepo открывает пул соединений. Само соединение проверяется в Ping/EnsureSchema.
func NewDecisionRepo(connString string) (*DecisionRepo, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &DecisionRepo{db: db}, nil
}

func (r *DecisionRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *DecisionRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create decision_journal: %w", err)
	}
	return nil
}

func (r *DecisionRepo) WriteBatch(ctx context.Context, events []audit.DecisionEvent) error {
	if len(events) == 0 {
		return nil
	}
	query, vals := buildInsert(events)
	_, err := r.db.ExecContext(ctx, query, vals...)
	return err
}

func (r *DecisionRepo) Close() error {
	return r.db.Close()
}

// buildInsert динамически строит запрос для пакетной вставки
func buildInsert(events []audit.DecisionEvent) (string, []any) {
	var sb strings.Builder
	vals := make([]any, 0, len(events)*decisionFields)

	for i, e := range events {
		if i > 0 {
			sb.WriteString(", ")
		}
		p := i * decisionFields
		sb.WriteString("(")
		for f := 1; f <= decisionFields-1; f++ {
			if f > 1 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", p+f)
		}
		// recorded_at: последний плейсхолдер пачки
		fmt.Fprintf(&sb, ", $%d)", p+decisionFields)

		vals = append(vals,
			e.ID, e.TraceID, e.Action, e.Resource, string(e.Decision),
			e.Policy, e.Rule, e.Reason, e.Cached, e.Error,
			e.DurationMs, e.Timestamp, time.Now().UTC(),
		)
	}

	query := "INSERT INTO decision_journal (id, trace_id, action, resource, decision, policy, rule, reason, cached, error, duration_ms, timestamp, recorded_at) VALUES " +
		sb.String() + " ON CONFLICT (id) DO NOTHING"
	return query, vals
}
