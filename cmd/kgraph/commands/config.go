package commands

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/tracelight/kgraph/config"
	"github.com/tracelight/kgraph/errors"
)

// ConfigCmd groups configuration operations.
var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect kgraph configuration",
	Long: `config - Inspect the effective kgraph configuration

Examples:
  kgraph config show    # Print the merged configuration as TOML`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as TOML",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return errors.Wrap(err, "load configuration")
		}

		rendered, err := toml.Marshal(cfg)
		if err != nil {
			return errors.Wrap(err, "render configuration")
		}
		fmt.Print(string(rendered))
		return nil
	},
}

func init() {
	ConfigCmd.AddCommand(configShowCmd)
}
