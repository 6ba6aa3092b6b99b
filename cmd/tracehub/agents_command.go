package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/tracehub/tracehub/internal/agents"
)

type agentResolveOutput struct {
	AgentName string `json:"agent_name"`
	ProjectID string `json:"project_id"`
	APIKey    string `json:"api_key"`
	Outcome   string `json:"outcome"`
}

type agentListOutput struct {
	Agents     []agents.Mapping `json:"agents"`
	TotalCount int              `json:"total_count"`
}

func runAgents(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		printAgentsUsage(errOut)
		return 2
	}

	switch args[0] {
	case "resolve":
		return runAgentsResolve(args[1:], out, errOut)
	case "list":
		return runAgentsList(args[1:], out, errOut)
	default:
		printAgentsUsage(errOut)
		return 2
	}
}

func runAgentsResolve(args []string, out io.Writer, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("agents resolve", flag.ContinueOnError)
	flagSet.SetOutput(errOut)
	configPath := flagSet.String("config", defaultConfigPath, "Path to config file")
	formatRaw := flagSet.String("format", "text", "Output format: text or json")
	if err := flagSet.Parse(args); err != nil {
		return 2
	}
	if flagSet.NArg() != 1 {
		fmt.Fprintln(errOut, "agents resolve requires exactly one agent name")
		return 2
	}
	format, err := normalizeTextJSONFormat("agents resolve", *formatRaw, "text")
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}

	stores, logger, code := openCommandStores(*configPath, errOut)
	if stores == nil {
		return code
	}
	defer stores.Close(logger)

	resolution, err := stores.agents.Resolve(context.Background(), flagSet.Arg(0))
	if err != nil {
		fmt.Fprintf(errOut, "failed to resolve agent: %v\n", err)
		return 1
	}

	output := agentResolveOutput{
		AgentName: resolution.AgentName,
		ProjectID: resolution.ProjectID,
		APIKey:    resolution.APIKey,
		Outcome:   string(resolution.Outcome),
	}
	if format == "json" {
		if err := writeIndentedJSON(out, output); err != nil {
			fmt.Fprintf(errOut, "failed to write output: %v\n", err)
			return 1
		}
		return 0
	}

	writer := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(writer, "agent_name\t%s\n", output.AgentName)
	fmt.Fprintf(writer, "project_id\t%s\n", output.ProjectID)
	fmt.Fprintf(writer, "api_key\t%s\n", output.APIKey)
	fmt.Fprintf(writer, "outcome\t%s\n", output.Outcome)
	_ = writer.Flush()
	return 0
}

func runAgentsList(args []string, out io.Writer, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("agents list", flag.ContinueOnError)
	flagSet.SetOutput(errOut)
	configPath := flagSet.String("config", defaultConfigPath, "Path to config file")
	formatRaw := flagSet.String("format", "text", "Output format: text or json")
	if err := flagSet.Parse(args); err != nil {
		return 2
	}
	if flagSet.NArg() != 0 {
		fmt.Fprintln(errOut, "agents list does not accept positional arguments")
		return 2
	}
	format, err := normalizeTextJSONFormat("agents list", *formatRaw, "text")
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}

	stores, logger, code := openCommandStores(*configPath, errOut)
	if stores == nil {
		return code
	}
	defer stores.Close(logger)

	mappings, err := stores.agents.List(context.Background())
	if err != nil {
		fmt.Fprintf(errOut, "failed to list agents: %v\n", err)
		return 1
	}
	if mappings == nil {
		mappings = []agents.Mapping{}
	}

	if format == "json" {
		if err := writeIndentedJSON(out, agentListOutput{Agents: mappings, TotalCount: len(mappings)}); err != nil {
			fmt.Fprintf(errOut, "failed to write output: %v\n", err)
			return 1
		}
		return 0
	}

	if len(mappings) == 0 {
		fmt.Fprintln(out, "no agents")
		return 0
	}
	writer := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(writer, "AGENT\tPROJECT\tUPDATED")
	for _, mapping := range mappings {
		fmt.Fprintf(writer, "%s\t%s\t%s\n", mapping.AgentName, mapping.ProjectID, mapping.UpdatedAt.UTC().Format(time.RFC3339))
	}
	_ = writer.Flush()
	return 0
}

// openCommandStores loads config and opens the stores for a one-shot
// command. Logs go to errOut so stdout stays machine readable.
func openCommandStores(configPath string, errOut io.Writer) (*backingStores, *slog.Logger, int) {
	cfg, stage, err := loadAndValidateConfig(configPath)
	if err != nil {
		reportConfigError(errOut, stage, err)
		return nil, nil, 1
	}
	logger := newLogger(errOut)
	stores, err := openStores(context.Background(), cfg, logger, nil)
	if err != nil {
		fmt.Fprintf(errOut, "failed to initialize storage: %v\n", err)
		return nil, nil, 1
	}
	return stores, logger, 0
}

func printAgentsUsage(out io.Writer) {
	fmt.Fprintln(out, "Usage:")
	fmt.Fprintln(out, "  tracehub agents resolve [--config path/to/tracehub.yaml] [--format text|json] <agent-name>")
	fmt.Fprintln(out, "  tracehub agents list [--config path/to/tracehub.yaml] [--format text|json]")
}
