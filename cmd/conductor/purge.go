package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/xraph/conductor/engine"
	"github.com/xraph/conductor/internal/app"
	"github.com/xraph/conductor/workflow"
)

func newPurgeCommand() *cobra.Command {
	var (
		owner       string
		definitions []string
		olderThan   time.Duration
		maxCount    int
	)

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete workflows their owner no longer tracks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			var eng *engine.Engine
			return runOnce(cmd.Context(),
				fx.Options(app.Core(cfg), app.Engine(), app.CloseStore(), fx.Populate(&eng)),
				func(ctx context.Context) error {
					report, err := eng.Purger().Purge(ctx, workflow.PurgeRequest{
						OwnerTag:        owner,
						DefinitionNames: definitions,
						OlderThan:       olderThan,
						MaxPurgeCount:   maxCount,
					})
					if err != nil {
						return err
					}
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(report)
				},
			)
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Owner tag whose workflows are purged")
	cmd.Flags().StringSliceVar(&definitions, "definition", nil, "Restrict to these definitions")
	cmd.Flags().DurationVar(&olderThan, "older-than", time.Hour, "Spare workflows younger than this")
	cmd.Flags().IntVar(&maxCount, "max", 100, "Maximum number of workflows deleted")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}
