package commands

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/tracelight/kgraph/taxonomy"
)

// TaxonomyCmd groups taxonomy hierarchy operations.
var TaxonomyCmd = &cobra.Command{
	Use:   "taxonomy",
	Short: "Manage the taxonomy hierarchy",
	Long: `taxonomy - Manage taxonomy nodes, edges, and inheritance rules

Examples:
  kgraph taxonomy create-node --tenant t1 --name Animal --type class
  kgraph taxonomy link --tenant t1 --source <child-id> --target <parent-id> --relation is_a
  kgraph taxonomy roots --tenant t1
  kgraph taxonomy resolve --tenant t1 <node-id>`,
}

var (
	taxTenantFlag   string
	taxNameFlag     string
	taxTypeFlag     string
	taxSourceFlag   string
	taxTargetFlag   string
	taxRelationFlag string
)

var taxCreateNodeCmd = &cobra.Command{
	Use:   "create-node",
	Short: "Create a taxonomy node",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, database, err := openEngine()
		if err != nil {
			return err
		}
		defer database.Close()

		node, err := eng.Taxonomy.CreateNode(cmd.Context(), taxTenantFlag, taxonomy.Node{
			Name:     taxNameFlag,
			NodeType: taxonomy.NodeType(taxTypeFlag),
		})
		if err != nil {
			return err
		}
		pterm.Printf("%s Created node %s (%s)\n", pterm.Green("✓"), node.ID, node.Name)
		return nil
	},
}

var taxLinkCmd = &cobra.Command{
	Use:   "link",
	Short: "Create a taxonomy edge (cycle-checked for propagating types)",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, database, err := openEngine()
		if err != nil {
			return err
		}
		defer database.Close()

		rel, err := eng.Taxonomy.CreateRelation(cmd.Context(), taxTenantFlag, taxonomy.Relation{
			SourceNodeID: taxSourceFlag,
			TargetNodeID: taxTargetFlag,
			Type:         taxonomy.RelationType(taxRelationFlag),
		})
		if err != nil {
			return err
		}
		pterm.Printf("%s Created edge %s: %s -%s-> %s\n",
			pterm.Green("✓"), rel.ID, rel.SourceNodeID, rel.Type, rel.TargetNodeID)
		return nil
	},
}

var taxRootsCmd = &cobra.Command{
	Use:   "roots",
	Short: "List root nodes",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, database, err := openEngine()
		if err != nil {
			return err
		}
		defer database.Close()

		roots, err := eng.Taxonomy.GetRootNodes(cmd.Context(), taxTenantFlag)
		if err != nil {
			return err
		}
		if len(roots) == 0 {
			pterm.Println("No root nodes")
			return nil
		}

		rows := pterm.TableData{{"ID", "Name", "Type"}}
		for _, n := range roots {
			rows = append(rows, []string{n.ID, n.Name, string(n.NodeType)})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
	},
}

var taxResolveCmd = &cobra.Command{
	Use:   "resolve <node-id>",
	Short: "Resolve a node's inherited properties",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, database, err := openEngine()
		if err != nil {
			return err
		}
		defer database.Close()

		resolved, err := eng.Taxonomy.ResolveInheritance(cmd.Context(), taxTenantFlag, args[0])
		if err != nil {
			return err
		}
		if len(resolved) == 0 {
			pterm.Println("No inherited properties")
			return nil
		}

		rows := pterm.TableData{{"Property", "From Node", "Depth", "Rule"}}
		for _, rp := range resolved {
			rows = append(rows, []string{
				rp.Property, rp.SourceNodeID, pterm.Sprintf("%d", rp.Depth), rp.Rule.ID,
			})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
	},
}

func init() {
	for _, c := range []*cobra.Command{taxCreateNodeCmd, taxLinkCmd, taxRootsCmd, taxResolveCmd} {
		c.Flags().StringVar(&taxTenantFlag, "tenant", "", "Tenant scope (required)")
		c.MarkFlagRequired("tenant")
	}

	taxCreateNodeCmd.Flags().StringVar(&taxNameFlag, "name", "", "Node name (required)")
	taxCreateNodeCmd.Flags().StringVar(&taxTypeFlag, "type", string(taxonomy.NodeClass), "Node type")
	taxCreateNodeCmd.MarkFlagRequired("name")

	taxLinkCmd.Flags().StringVar(&taxSourceFlag, "source", "", "Child node ID (required)")
	taxLinkCmd.Flags().StringVar(&taxTargetFlag, "target", "", "Parent node ID (required)")
	taxLinkCmd.Flags().StringVar(&taxRelationFlag, "relation", string(taxonomy.RelationIsA), "Relation type")
	taxLinkCmd.MarkFlagRequired("source")
	taxLinkCmd.MarkFlagRequired("target")

	TaxonomyCmd.AddCommand(taxCreateNodeCmd)
	TaxonomyCmd.AddCommand(taxLinkCmd)
	TaxonomyCmd.AddCommand(taxRootsCmd)
	TaxonomyCmd.AddCommand(taxResolveCmd)
}
