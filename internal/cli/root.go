// Package cli: команда meshguard: проверки действий и админка шлюза из терминала.
package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/xela07ax/meshguard-go/pkg/meshguard"
)

type globalFlags struct {
	config     string
	gateway    string
	agentToken string
	adminToken string
	timeout    time.Duration
	traceID    string
	output     string
	noColor    bool
}

// app хранит общее состояние команд одного запуска
type app struct {
	flags globalFlags
	// newClient подменяется в тестах
	newClient func(opts ...meshguard.Option) (*meshguard.Client, error)
}

// NewRootCmd создает корневую команду
func NewRootCmd() *cobra.Command {
	a := &app{newClient: meshguard.New}

	cmd := &cobra.Command{
		Use:           "meshguard",
		Short:         "MeshGuard gateway client",
		Long:          `meshguard checks agent actions against MeshGuard policies and manages agents, policies and the audit log.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if a.flags.noColor {
				color.NoColor = true
			}
			switch a.flags.output {
			case outputText, outputJSON, outputYAML:
				return nil
			default:
				return fmt.Errorf("unknown output format %q (text|json|yaml)", a.flags.output)
			}
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&a.flags.config, "config", "", "config file (YAML); also MESHGUARD_CONFIG")
	pf.StringVar(&a.flags.gateway, "gateway", "", "gateway URL (default from MESHGUARD_GATEWAY_URL / GATEWAY_URL)")
	pf.StringVar(&a.flags.agentToken, "agent-token", "", "agent token (default from MESHGUARD_AGENT_TOKEN / AGENT_TOKEN)")
	pf.StringVar(&a.flags.adminToken, "admin-token", "", "admin token (default from MESHGUARD_ADMIN_TOKEN / ADMIN_TOKEN)")
	pf.DurationVar(&a.flags.timeout, "timeout", 0, "per-request timeout (default 30s)")
	pf.StringVar(&a.flags.traceID, "trace-id", "", "trace id for requests (random when empty)")
	pf.StringVarP(&a.flags.output, "output", "o", outputText, "output format: text|json|yaml")
	pf.BoolVar(&a.flags.noColor, "no-color", false, "disable colored output")

	cmd.AddCommand(
		newCheckCmd(a),
		newEnforceCmd(a),
		newHealthCmd(a),
		newAgentsCmd(a),
		newPoliciesCmd(a),
		newAuditCmd(a),
		newTokenCmd(a),
	)
	return cmd
}

func (a *app) client() (*meshguard.Client, error) {
	return a.newClient(
		meshguard.WithConfigFile(a.flags.config),
		meshguard.WithGatewayURL(a.flags.gateway),
		meshguard.WithAgentToken(a.flags.agentToken),
		meshguard.WithAdminToken(a.flags.adminToken),
		meshguard.WithTimeout(a.flags.timeout),
		meshguard.WithTraceID(a.flags.traceID),
	)
}

// ExitCode 0: успех, 2: действие запрещено политикой, 1: любая другая ошибка
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var denied *meshguard.PolicyDeniedError
	if errors.As(err, &denied) {
		return 2
	}
	return 1
}
