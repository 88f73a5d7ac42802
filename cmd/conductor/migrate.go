package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/xraph/conductor/internal/app"
	"github.com/xraph/conductor/store"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the store schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			var (
				st     store.Store
				logger *slog.Logger
			)
			return runOnce(cmd.Context(),
				fx.Options(app.Core(cfg), app.CloseStore(), fx.Populate(&st, &logger)),
				func(ctx context.Context) error {
					if err := st.Migrate(ctx); err != nil {
						return fmt.Errorf("migrate: %w", err)
					}
					logger.Info("store migrated", slog.String("backend", cfg.Store.Backend))
					return nil
				},
			)
		},
	}
}

// runOnce starts an fx application, runs fn and stops the application.
func runOnce(ctx context.Context, opts fx.Option, fn func(context.Context) error) error {
	fxApp := fx.New(opts)
	if err := fxApp.Err(); err != nil {
		return err
	}
	if err := fxApp.Start(ctx); err != nil {
		return err
	}

	runErr := fn(ctx)

	stopCtx, cancel := context.WithTimeout(context.Background(), fxApp.StopTimeout())
	defer cancel()
	if err := fxApp.Stop(stopCtx); err != nil && runErr == nil {
		return err
	}
	return runErr
}
