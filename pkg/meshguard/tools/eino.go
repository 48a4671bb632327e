package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/xela07ax/meshguard-go/internal/domain"
	"go.uber.org/zap"
)

// ToolDenyHandler DenyHandler для eino-инструментов: вход и выход: JSON-строки
type ToolDenyHandler = DenyHandler[string, string]

// DenyMessage отвечает модели текстом вместо ошибки.
// Плейсхолдеры: {reason}, {action}, {policy}, {rule}.
func DenyMessage(template string) ToolDenyHandler {
	return func(_ context.Context, denied *domain.PolicyDeniedError, _ string) (string, error) {
		return strings.NewReplacer(
			"{reason}", denied.Reason,
			"{action}", denied.Action,
			"{policy}", denied.Policy,
			"{rule}", denied.Rule,
		).Replace(template), nil
	}
}

// GovernedTool tool.InvokableTool, который перед каждым вызовом делает Enforce.
type GovernedTool struct {
	inner    tool.InvokableTool
	action   string
	enforcer Enforcer
	onDeny   ToolDenyHandler
	logger   *zap.Logger
}

type ToolOption func(*GovernedTool)

func WithOnDeny(h ToolDenyHandler) ToolOption {
	return func(t *GovernedTool) { t.onDeny = h }
}

func WithLogger(l *zap.Logger) ToolOption {
	return func(t *GovernedTool) {
		if l != nil {
			t.logger = l
		}
	}
}

func NewGovernedTool(inner tool.InvokableTool, action string, e Enforcer, opts ...ToolOption) *GovernedTool {
	t := &GovernedTool{inner: inner, action: action, enforcer: e, logger: zap.NewNop()}
	for _, o := range opts {
		o(t)
	}
	return t
}

// InferTool строит инструмент из типизированной функции (как utils.InferTool) и сразу его защищает.
func InferTool[In, Out any](e Enforcer, action, name, desc string, fn utils.InvokeFunc[In, Out], opts ...ToolOption) (*GovernedTool, error) {
	inner, err := utils.InferTool(name, desc, fn)
	if err != nil {
		return nil, fmt.Errorf("infer tool %s: %w", name, err)
	}
	return NewGovernedTool(inner, action, e, opts...), nil
}

func (t *GovernedTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return t.inner.Info(ctx)
}

// Action возвращает действие, которым защищен инструмент
func (t *GovernedTool) Action() string { return t.action }

func (t *GovernedTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...tool.Option) (string, error) {
	run := Wrap(t.enforcer, t.action, func(ctx context.Context, args string) (string, error) {
		return t.inner.InvokableRun(ctx, args, opts...)
	}, t.logDenied(t.onDeny))
	return run(ctx, argumentsInJSON)
}

// logDenied пишет отказ в лог и передает его обработчику
func (t *GovernedTool) logDenied(next ToolDenyHandler) ToolDenyHandler {
	if next == nil {
		return nil
	}
	return func(ctx context.Context, denied *domain.PolicyDeniedError, args string) (string, error) {
		t.logger.Info("tool call denied",
			zap.String("action", t.action),
			zap.String("policy", denied.Policy),
			zap.String("reason", denied.Reason),
		)
		return next(ctx, denied, args)
	}
}

// NewToolsNode собирает eino ToolsNode для агента из (уже защищенных) инструментов.
func NewToolsNode(ctx context.Context, tools []tool.InvokableTool) (*compose.ToolsNode, error) {
	base := make([]tool.BaseTool, 0, len(tools))
	for _, t := range tools {
		base = append(base, t)
	}
	return compose.NewToolNode(ctx, &compose.ToolsNodeConfig{Tools: base})
}

var _ tool.InvokableTool = (*GovernedTool)(nil)
