// Command conductor runs the workflow control plane: the HTTP API,
// scheduled purges and store maintenance. Step bodies run in application
// workers built on the engine package.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xraph/conductor/internal/config"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "conductor",
		Short:         "Durable workflow control plane",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().String("config", "conductor.yaml", "Path to config file")

	cmd.AddCommand(
		newServeCommand(),
		newMigrateCommand(),
		newPurgeCommand(),
		newCatalogCommand(),
	)
	return cmd
}

// loadConfig reads the file named by the --config flag.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return config.Config{}, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
