package commands

import (
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/tracelight/kgraph/engine"
	"github.com/tracelight/kgraph/errors"
)

// IngestCmd extracts entities and relations from content.
var IngestCmd = &cobra.Command{
	Use:   "ingest [content]",
	Short: "Extract entities and relations from content",
	Long: `ingest - Run the extraction pipeline over text or structured fields

Examples:
  kgraph ingest --tenant t1 --source doc-1 "Alice works at Acme"
  kgraph ingest --tenant t1 --source row-7 --field email=bob@example.com --field start=2024-01-02`,
	RunE: runIngest,
}

var (
	ingestTenantFlag string
	ingestSourceFlag string
	ingestGraphFlag  string
	ingestFieldFlags []string
)

func init() {
	IngestCmd.Flags().StringVar(&ingestTenantFlag, "tenant", "", "Tenant scope (required)")
	IngestCmd.Flags().StringVar(&ingestSourceFlag, "source", "", "Source identifier for provenance (required)")
	IngestCmd.Flags().StringVar(&ingestGraphFlag, "graph", "", "Named graph URI for mapped triples")
	IngestCmd.Flags().StringArrayVar(&ingestFieldFlags, "field", nil, "Structured field as key=value (repeatable)")
	IngestCmd.MarkFlagRequired("tenant")
	IngestCmd.MarkFlagRequired("source")
}

func runIngest(cmd *cobra.Command, args []string) error {
	eng, database, err := openEngine()
	if err != nil {
		return err
	}
	defer database.Close()

	ctx := cmd.Context()
	var result *engine.IngestResult

	switch {
	case len(ingestFieldFlags) > 0:
		fields := make(map[string]string, len(ingestFieldFlags))
		for _, f := range ingestFieldFlags {
			key, value, found := strings.Cut(f, "=")
			if !found {
				return errors.NewValidationError("field %q is not key=value", f)
			}
			fields[key] = value
		}
		result, err = eng.IngestStructured(ctx, ingestTenantFlag, fields, ingestSourceFlag)
	case len(args) == 1:
		result, err = eng.IngestText(ctx, ingestTenantFlag, args[0], ingestSourceFlag, ingestGraphFlag)
	default:
		return errors.NewValidationError("provide content as an argument or --field pairs")
	}
	if err != nil {
		return err
	}

	pterm.Printf("Run state: %s\n", pterm.LightCyan(string(result.State)))
	pterm.Printf("Entities:  %s\n", pterm.Green(len(result.Entities)))
	pterm.Printf("Relations: %s\n", pterm.Green(result.RelationsPersisted))

	if len(result.Entities) > 0 {
		rows := pterm.TableData{{"ID", "Type", "Value", "Confidence"}}
		for _, e := range result.Entities {
			rows = append(rows, []string{e.ID, string(e.Type), e.Value, pterm.Sprintf("%.2f", e.Confidence)})
		}
		if err := pterm.DefaultTable.WithHasHeader().WithData(rows).Render(); err != nil {
			return err
		}
	}

	for _, f := range result.ExtractorFailures {
		pterm.Printf("  %s extractor %s: %v\n", pterm.Red("✗"), f.Item, f.Err)
	}
	for _, f := range result.RelationFailures {
		pterm.Printf("  %s relation %s: %v\n", pterm.Red("✗"), f.Item, f.Err)
	}
	return nil
}
