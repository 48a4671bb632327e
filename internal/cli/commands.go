package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/xela07ax/meshguard-go/internal/infra"
	"github.com/xela07ax/meshguard-go/pkg/meshguard"
)

func newCheckCmd(a *app) *cobra.Command {
	var resource string
	cmd := &cobra.Command{
		Use:   "check <action>",
		Short: "Ask the gateway whether an action is allowed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			defer c.Close()

			d, err := c.CheckResource(cmd.Context(), args[0], resource)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), a.flags.output, d, func(w io.Writer) { printDecision(w, d) })
		},
	}
	cmd.Flags().StringVar(&resource, "resource", "", "resource the action applies to")
	return cmd
}

func newEnforceCmd(a *app) *cobra.Command {
	var resource string
	cmd := &cobra.Command{
		Use:   "enforce <action>",
		Short: "Like check, but exit with code 2 when the action is denied",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			defer c.Close()

			d, err := c.EnforceResource(cmd.Context(), args[0], resource)
			if err != nil && ExitCode(err) != 2 {
				return err
			}
			if rerr := render(cmd.OutOrStdout(), a.flags.output, d, func(w io.Writer) { printDecision(w, d) }); rerr != nil {
				return rerr
			}
			return err
		},
	}
	cmd.Flags().StringVar(&resource, "resource", "", "resource the action applies to")
	return cmd
}

func newHealthCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show gateway health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			defer c.Close()

			status, err := c.HealthStatus(cmd.Context())
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), a.flags.output, status, func(w io.Writer) {
				s := status.Status()
				if s == "healthy" {
					fmt.Fprintf(w, "%s  %s\n", allowColor.Sprint("HEALTHY"), c.GatewayURL())
					return
				}
				fmt.Fprintf(w, "%s  %s (%s)\n", denyColor.Sprint("UNHEALTHY"), c.GatewayURL(), s)
			})
		},
	}
}

func newAgentsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Manage agents (admin token required)",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List agents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			defer c.Close()

			agents, err := c.ListAgents(cmd.Context())
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), a.flags.output, agents, func(w io.Writer) { printAgents(w, agents) })
		},
	}

	var (
		tier string
		tags []string
	)
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create an agent and print its token (shown only once)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			defer c.Close()

			created, err := c.CreateAgent(cmd.Context(), meshguard.AgentSpec{
				Name:      args[0],
				TrustTier: meshguard.TrustTier(tier),
				Tags:      tags,
			})
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), a.flags.output, created, func(w io.Writer) {
				fmt.Fprintf(w, "%s %s (%s)\n", allowColor.Sprint("created"), created.ID, created.TrustTier)
				fmt.Fprintf(w, "token: %s\n", created.Token)
				fmt.Fprintln(w, dimColor.Sprint("store the token now, it cannot be retrieved again"))
			})
		},
	}
	create.Flags().StringVar(&tier, "tier", string(meshguard.TierVerified), "trust tier: unverified|verified|trusted|privileged")
	create.Flags().StringSliceVar(&tags, "tag", nil, "agent tag (repeatable)")

	revoke := &cobra.Command{
		Use:   "revoke <agent-id>",
		Short: "Revoke an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.RevokeAgent(cmd.Context(), args[0]); err != nil {
				return err
			}
			result := map[string]string{"revoked": args[0]}
			return render(cmd.OutOrStdout(), a.flags.output, result, func(w io.Writer) {
				fmt.Fprintf(w, "%s %s\n", denyColor.Sprint("revoked"), args[0])
			})
		},
	}

	cmd.AddCommand(list, create, revoke)
	return cmd
}

func newPoliciesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policies",
		Short: "Inspect policies (admin token required)",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List policies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			defer c.Close()

			policies, err := c.ListPolicies(cmd.Context())
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), a.flags.output, policies, func(w io.Writer) { printPolicies(w, policies) })
		},
	})
	return cmd
}

func newAuditCmd(a *app) *cobra.Command {
	var (
		limit    int
		decision string
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the audit log, newest first (admin token required)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			defer c.Close()

			entries, err := c.GetAuditLog(cmd.Context(), meshguard.AuditQuery{
				Limit:    limit,
				Decision: meshguard.Effect(strings.ToLower(decision)),
			})
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), a.flags.output, entries, func(w io.Writer) { printAudit(w, entries) })
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "max entries; 0 uses the gateway default")
	cmd.Flags().StringVar(&decision, "decision", "", "filter by decision: allow|deny")
	return cmd
}

func newTokenCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Agent token utilities",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "inspect [token]",
		Short: "Decode agent token claims without verifying the signature",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token := a.flags.agentToken
			if len(args) == 1 {
				token = args[0]
			}
			if token == "" {
				cfg, err := infra.LoadConfig(a.flags.config)
				if err != nil {
					return err
				}
				token = cfg.Gateway.AgentToken
			}
			if token == "" {
				return fmt.Errorf("no token given: pass it as an argument, --agent-token or MESHGUARD_AGENT_TOKEN")
			}

			claims, ok := meshguard.InspectToken(token)
			if !ok {
				return fmt.Errorf("token is not a JWT")
			}
			return render(cmd.OutOrStdout(), a.flags.output, claims, func(w io.Writer) {
				fmt.Fprintf(w, "agent:  %s\n", claims.AgentID)
				if claims.TrustTier != "" {
					fmt.Fprintf(w, "tier:   %s\n", claims.TrustTier)
				}
				if len(claims.Tags) > 0 {
					fmt.Fprintf(w, "tags:   %s\n", strings.Join(claims.Tags, ","))
				}
				if claims.ExpiresAt == nil {
					fmt.Fprintln(w, "expiry: never")
					return
				}
				exp := claims.ExpiresAt.Time
				state := allowColor.Sprint("valid")
				if time.Now().After(exp) {
					state = denyColor.Sprint("expired")
				}
				fmt.Fprintf(w, "expiry: %s (%s)\n", exp.Local().Format(time.RFC3339), state)
			})
		},
	})
	return cmd
}
