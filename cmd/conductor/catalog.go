package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xraph/conductor/workflow"
)

func newCatalogCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "catalog [path]",
		Short: "Validate a workflow catalog and list its definitions",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			} else {
				cfg, err := loadConfig(cmd)
				if err != nil {
					return err
				}
				path = cfg.Catalog
			}
			if path == "" {
				return fmt.Errorf("no catalog given and none configured")
			}

			cat, err := workflow.LoadCatalog(path)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, name := range cat.Names() {
				def, err := cat.Get(name)
				if err != nil {
					return err
				}
				steps := make([]string, len(def.Steps))
				for i, s := range def.Steps {
					steps[i] = s.Name
					if s.Task != s.Name {
						steps[i] += "(" + s.Task + ")"
					}
				}
				fmt.Fprintf(out, "%s: %s\n", name, strings.Join(steps, " -> "))
			}
			return nil
		},
	}
}
