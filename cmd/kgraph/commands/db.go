package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tracelight/kgraph/db"
	"github.com/tracelight/kgraph/errors"
	"github.com/tracelight/kgraph/logger"
)

// DbCmd groups database operations.
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the kgraph database",
	Long: `db - Manage kgraph database operations

Examples:
  kgraph db migrate    # Apply pending schema migrations
  kgraph db stats      # Show row counts per store`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE:  runDbMigrate,
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database statistics",
	RunE:  runDbStats,
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatsCmd)
}

func runDbMigrate(cmd *cobra.Command, args []string) error {
	database, _, err := openDatabase()
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.Migrate(database, logger.Logger); err != nil {
		return errors.Wrap(err, "apply migrations")
	}
	fmt.Println("Migrations applied")
	return nil
}

func runDbStats(cmd *cobra.Command, args []string) error {
	database, cfg, err := openDatabase()
	if err != nil {
		return err
	}
	defer database.Close()

	tables := []struct {
		label string
		table string
	}{
		{"Triples", "triples"},
		{"Version log entries", "graph_version_log"},
		{"Provenance records", "provenance"},
		{"Entities", "entities"},
		{"Relations", "relations"},
		{"Taxonomy nodes", "taxonomy_nodes"},
		{"Taxonomy relations", "taxonomy_relations"},
		{"Inheritance rules", "taxonomy_rules"},
	}

	fmt.Println("Database Statistics")
	fmt.Printf("Database Path: %s\n\n", cfg.Database.Path)
	for _, t := range tables {
		var count int
		if err := database.QueryRow("SELECT COUNT(*) FROM " + t.table).Scan(&count); err != nil {
			return errors.Wrapf(err, "count %s", t.table)
		}
		fmt.Printf("%-22s %d\n", t.label+":", count)
	}
	return nil
}
