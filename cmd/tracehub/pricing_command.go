package main

import (
	"flag"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
)

// runPricing prints the effective pricing table: built-in entries with
// config overrides applied.
func runPricing(args []string, out io.Writer, errOut io.Writer) int {
	flagSet := flag.NewFlagSet("pricing", flag.ContinueOnError)
	flagSet.SetOutput(errOut)
	configPath := flagSet.String("config", defaultConfigPath, "Path to config file")
	formatRaw := flagSet.String("format", "text", "Output format: text or json")
	if err := flagSet.Parse(args); err != nil {
		return 2
	}
	if flagSet.NArg() != 0 {
		fmt.Fprintln(errOut, "pricing does not accept positional arguments")
		return 2
	}
	format, err := normalizeTextJSONFormat("pricing", *formatRaw, "text")
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}

	cfg, stage, err := loadAndValidateConfig(*configPath)
	if err != nil {
		reportConfigError(errOut, stage, err)
		return 1
	}
	entries := pricingTable(cfg).Entries()

	if format == "json" {
		if err := writeIndentedJSON(out, entries); err != nil {
			fmt.Fprintf(errOut, "failed to write output: %v\n", err)
			return 1
		}
		return 0
	}

	writer := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(writer, "VENDOR\tMODEL\tINPUT/1K\tOUTPUT/1K\tCACHED/1K")
	for _, entry := range entries {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n",
			entry.Vendor,
			entry.Model,
			formatRate(entry.InputPer1K),
			formatRate(entry.OutputPer1K),
			formatRate(entry.CachedInputPer1K),
		)
	}
	_ = writer.Flush()
	return 0
}

func formatRate(rate float64) string {
	if rate == 0 {
		return "-"
	}
	return strconv.FormatFloat(rate, 'f', -1, 64)
}
