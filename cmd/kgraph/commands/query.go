package commands

import (
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/tracelight/kgraph/triple"
)

// QueryCmd queries triples by pattern, optionally at a snapshot.
var QueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query triples, optionally as of a version or time",
	Long: `query - Pattern-match triples at the latest or a historical snapshot

Pattern flags are optional wildcards; omit all of them to list every triple.

Examples:
  kgraph query --tenant t1 --subject ent-alice
  kgraph query --tenant t1 --predicate kg://relations/works_at
  kgraph query --tenant t1 --as-of-version 3
  kgraph query --tenant t1 --include-deleted`,
	RunE: runQuery,
}

var (
	queryTenantFlag         string
	querySubjectFlag        string
	queryPredicateFlag      string
	queryObjectFlag         string
	queryGraphFlag          string
	queryAsOfVersionFlag    int64
	queryAsOfTimeFlag       string
	queryIncludeDeletedFlag bool
	queryLimitFlag          int
)

func init() {
	QueryCmd.Flags().StringVar(&queryTenantFlag, "tenant", "", "Tenant scope (required)")
	QueryCmd.Flags().StringVar(&querySubjectFlag, "subject", "", "Subject pattern")
	QueryCmd.Flags().StringVar(&queryPredicateFlag, "predicate", "", "Predicate pattern")
	QueryCmd.Flags().StringVar(&queryObjectFlag, "object", "", "Object pattern")
	QueryCmd.Flags().StringVar(&queryGraphFlag, "graph", "", "Named graph pattern")
	QueryCmd.Flags().Int64Var(&queryAsOfVersionFlag, "as-of-version", 0, "Snapshot at this version")
	QueryCmd.Flags().StringVar(&queryAsOfTimeFlag, "as-of-time", "", "Snapshot at this RFC3339 time")
	QueryCmd.Flags().BoolVar(&queryIncludeDeletedFlag, "include-deleted", false, "Include tombstoned triples")
	QueryCmd.Flags().IntVar(&queryLimitFlag, "limit", 0, "Maximum rows to return")
	QueryCmd.MarkFlagRequired("tenant")
}

func runQuery(cmd *cobra.Command, args []string) error {
	eng, database, err := openEngine()
	if err != nil {
		return err
	}
	defer database.Close()

	pattern := triple.Pattern{
		SubjectID:    querySubjectFlag,
		PredicateURI: queryPredicateFlag,
		Object:       queryObjectFlag,
		GraphURI:     queryGraphFlag,
	}
	opts := triple.QueryOptions{
		IncludeDeleted: queryIncludeDeletedFlag,
		Limit:          queryLimitFlag,
	}
	if cmd.Flags().Changed("as-of-version") {
		opts.AsOfVersion = &queryAsOfVersionFlag
	}
	if queryAsOfTimeFlag != "" {
		ts, err := time.Parse(time.RFC3339, queryAsOfTimeFlag)
		if err != nil {
			return err
		}
		opts.AsOfTime = &ts
	}

	triples, err := eng.Triples.Query(cmd.Context(), queryTenantFlag, pattern, opts)
	if err != nil {
		return err
	}

	if len(triples) == 0 {
		pterm.Println("No triples matched")
		return nil
	}

	rows := pterm.TableData{{"Version", "Subject", "Predicate", "Object", "Graph", "Change"}}
	for _, t := range triples {
		object := t.Object.Value
		if t.Object.IsLiteral {
			object = `"` + object + `"`
		}
		rows = append(rows, []string{
			pterm.Sprintf("%d", t.Version),
			t.SubjectID,
			t.PredicateURI,
			object,
			t.GraphURI,
			string(t.ChangeType),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}
