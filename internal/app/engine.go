package app

import (
	"context"
	"fmt"
	"log/slog"

	"go.uber.org/fx"

	"github.com/xraph/conductor"
	audithook "github.com/xraph/conductor/audit_hook"
	"github.com/xraph/conductor/cluster"
	"github.com/xraph/conductor/engine"
	"github.com/xraph/conductor/internal/config"
	"github.com/xraph/conductor/metadata"
	"github.com/xraph/conductor/store"
	"github.com/xraph/conductor/workflow"
)

// NewCatalog loads the configured catalog file. Without one the engine
// serves no definitions.
func NewCatalog(cfg config.Config) (*workflow.Catalog, error) {
	if cfg.Catalog == "" {
		return nil, nil
	}
	return workflow.LoadCatalog(cfg.Catalog)
}

// NewLiveSource returns the metadata client used by purges, or nil when
// no metadata service is configured.
func NewLiveSource(cfg config.Config, logger *slog.Logger) workflow.LiveSource {
	if cfg.Metadata.URL == "" {
		return nil
	}
	opts := []metadata.Option{
		metadata.WithTimeout(cfg.Metadata.Timeout),
		metadata.WithLogger(logger),
	}
	if cfg.Metadata.Token != "" {
		opts = append(opts, metadata.WithToken(cfg.Metadata.Token))
	}
	return metadata.New(cfg.Metadata.URL, opts...)
}

// NewConductor creates the Conductor over the configured store.
func NewConductor(cfg config.Config, st store.Store, logger *slog.Logger) (*conductor.Conductor, error) {
	return conductor.New(
		conductor.WithConfig(cfg.ConductorConfig()),
		conductor.WithStore(st),
		conductor.WithLogger(logger),
	)
}

// NewEngine builds a control plane engine with the audit trail and
// registers the configured purge schedules.
func NewEngine(cfg config.Config, c *conductor.Conductor, cat *workflow.Catalog, live workflow.LiveSource, cs cluster.Store, logger *slog.Logger) (*engine.Engine, error) {
	opts := []engine.Option{engine.WithControlPlane()}
	if cs != nil {
		opts = append(opts, engine.WithClusterStore(cs))
	}
	if cfg.Audit.Enabled {
		var auditOpts []audithook.Option
		if len(cfg.Audit.Actions) > 0 {
			auditOpts = append(auditOpts, audithook.WithActions(cfg.Audit.Actions...))
		}
		recorder := audithook.LogRecorder(logger.With(slog.String("component", "audit")))
		opts = append(opts, engine.WithExtension(audithook.New(recorder, auditOpts...)))
	}
	if cat != nil {
		opts = append(opts, engine.WithCatalog(cat))
	}
	if live != nil {
		opts = append(opts, engine.WithLiveSource(live))
	}

	eng, err := engine.Build(c, opts...)
	if err != nil {
		return nil, err
	}

	for _, p := range cfg.Purge {
		err := eng.SchedulePurge(p.Schedule, workflow.PurgeRequest{
			OwnerTag:        p.OwnerTag,
			DefinitionNames: p.Definitions,
			OlderThan:       p.OlderThan,
			MaxPurgeCount:   p.MaxPurgeCount,
		})
		if err != nil {
			return nil, fmt.Errorf("schedule purge for %q: %w", p.OwnerTag, err)
		}
	}
	return eng, nil
}

// RunEngine migrates the store when configured, then starts the engine.
// Stopping the engine closes the store.
func RunEngine(lc fx.Lifecycle, cfg config.Config, eng *engine.Engine) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if cfg.Store.Migrate {
				if err := eng.Store().Migrate(ctx); err != nil {
					return fmt.Errorf("%w: %w", conductor.ErrMigrationFailed, err)
				}
			}
			return eng.Start(ctx)
		},
		OnStop: eng.Stop,
	})
}
