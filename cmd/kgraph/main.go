package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tracelight/kgraph/cmd/kgraph/commands"
	"github.com/tracelight/kgraph/logger"
)

var rootCmd = &cobra.Command{
	Use:   "kgraph",
	Short: "kgraph - Versioned knowledge graph engine",
	Long: `kgraph - Append-only knowledge graph engine with temporal queries.

kgraph stores subject-predicate-object facts as an append-only version log,
tracks provenance and lineage for every knowledge element, extracts entities
and relations from ingested content, and maintains a taxonomy hierarchy with
inheritance resolution.

Available commands:
  db       - Manage the kgraph database
  ingest   - Extract entities and relations from content
  query    - Query triples, optionally as of a version
  taxonomy - Manage the taxonomy hierarchy
  config   - Show configuration
  version  - Show build information

Examples:
  kgraph db migrate                            # Apply schema migrations
  kgraph ingest --tenant t1 --source doc-1 "Alice works at Acme"
  kgraph query --tenant t1 --subject ent-alice
  kgraph query --tenant t1 --as-of-version 3   # Temporal snapshot
  kgraph taxonomy resolve --tenant t1 <node-id>`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(jsonOutput); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit structured JSON logs instead of console output")

	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.IngestCmd)
	rootCmd.AddCommand(commands.QueryCmd)
	rootCmd.AddCommand(commands.TaxonomyCmd)
	rootCmd.AddCommand(commands.ConfigCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
