package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/xela07ax/meshguard-go/pkg/meshguard"
	"gopkg.in/yaml.v3"
)

const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

var (
	allowColor = color.New(color.FgGreen, color.Bold)
	denyColor  = color.New(color.FgRed, color.Bold)
	dimColor   = color.New(color.Faint)
	headColor  = color.New(color.FgCyan, color.Bold)
)

// render пишет v в json/yaml; для text вызывает text
func render(w io.Writer, format string, v any, text func(io.Writer)) error {
	switch format {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		text(w)
		return nil
	}
}

func effectString(e meshguard.Effect) string {
	if e == meshguard.EffectAllow {
		return allowColor.Sprint("ALLOW")
	}
	return denyColor.Sprint("DENY")
}

func printDecision(w io.Writer, d meshguard.PolicyDecision) {
	fmt.Fprintf(w, "%s  %s\n", effectString(d.Decision), d.Action)
	if d.Policy != "" {
		fmt.Fprintf(w, "  policy: %s\n", d.Policy)
	}
	if d.Rule != "" {
		fmt.Fprintf(w, "  rule:   %s\n", d.Rule)
	}
	if d.Reason != "" {
		fmt.Fprintf(w, "  reason: %s\n", d.Reason)
	}
	if d.TraceID != "" {
		fmt.Fprintf(w, "  %s\n", dimColor.Sprint("trace: "+d.TraceID))
	}
}

func printAgents(w io.Writer, agents []meshguard.Agent) {
	if len(agents) == 0 {
		fmt.Fprintln(w, dimColor.Sprint("no agents"))
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, headColor.Sprint("ID")+"\t"+headColor.Sprint("NAME")+"\t"+headColor.Sprint("TIER")+"\t"+headColor.Sprint("TAGS"))
	for _, a := range agents {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", a.ID, a.Name, a.TrustTier, strings.Join(a.Tags, ","))
	}
	_ = tw.Flush()
}

func printPolicies(w io.Writer, policies []meshguard.PolicyRecord) {
	if len(policies) == 0 {
		fmt.Fprintln(w, dimColor.Sprint("no policies"))
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, headColor.Sprint("ID")+"\t"+headColor.Sprint("NAME")+"\t"+headColor.Sprint("RULES"))
	for _, p := range policies {
		rules := "-"
		if list, ok := p.Attributes["rules"].([]any); ok {
			rules = fmt.Sprint(len(list))
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", p.ID, p.Name, rules)
	}
	_ = tw.Flush()
}

func printAudit(w io.Writer, entries []meshguard.AuditEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, dimColor.Sprint("no audit entries"))
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, headColor.Sprint("TIME")+"\t"+headColor.Sprint("DECISION")+"\t"+headColor.Sprint("ACTION")+"\t"+headColor.Sprint("AGENT")+"\t"+headColor.Sprint("POLICY"))
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Local().Format(time.DateTime), effectString(e.Decision), e.Action, e.AgentID, e.Policy)
	}
	_ = tw.Flush()
}
