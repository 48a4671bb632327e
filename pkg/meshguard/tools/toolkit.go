package tools

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Toolkit защищает набор инструментов по карте {имя инструмента: действие}.
// Модель opt-in: инструменты без записи в ActionMap проходят без проверки,
// если не задан DefaultAction ("{tool}" в нем заменяется именем инструмента).
type Toolkit struct {
	Enforcer      Enforcer
	ActionMap     map[string]string
	DefaultAction string
	OnDeny        ToolDenyHandler
	Logger        *zap.Logger
}

// Govern возвращает инструменты в том же порядке; незащищенные: те же экземпляры.
func (k Toolkit) Govern(ctx context.Context, tools []tool.InvokableTool) ([]tool.InvokableTool, error) {
	if k.Enforcer == nil {
		return nil, fmt.Errorf("toolkit: enforcer is required")
	}
	logger := k.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	out := make([]tool.InvokableTool, 0, len(tools))
	for _, t := range tools {
		info, err := t.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("toolkit: tool info: %w", err)
		}

		action := k.actionFor(info.Name)
		if action == "" {
			logger.Debug("tool left ungoverned", zap.String("tool", info.Name))
			out = append(out, t)
			continue
		}

		out = append(out, NewGovernedTool(t, action, k.Enforcer, WithOnDeny(k.OnDeny), WithLogger(logger)))
		logger.Debug("tool governed", zap.String("tool", info.Name), zap.String("action", action))
	}
	return out, nil
}

func (k Toolkit) actionFor(name string) string {
	if action := k.ActionMap[name]; action != "" {
		return action
	}
	if k.DefaultAction == "" {
		return ""
	}
	return strings.ReplaceAll(k.DefaultAction, "{tool}", name)
}

// LoadActionMap читает YAML вида {send_email: "write:email", read_contacts: "read:contacts"}.
func LoadActionMap(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read action map: %w", err)
	}
	m := map[string]string{}
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parse action map %s: %w", path, err)
	}
	for name, action := range m {
		if strings.TrimSpace(action) == "" {
			return nil, fmt.Errorf("action map %s: empty action for tool %q", path, name)
		}
	}
	return m, nil
}
