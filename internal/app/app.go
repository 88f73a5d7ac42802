// Package app wires the conductor service together with fx. Commands
// compose the modules they need: Core always, Engine for workflow
// control, Serve for the long-running API process and CloseStore for
// one-shot commands that never start the engine.
package app

import (
	"context"
	"log/slog"
	"os"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/xraph/conductor/internal/config"
	"github.com/xraph/conductor/observability"
	"github.com/xraph/conductor/store"
)

// Core provides the configuration, the logger and the store, and installs
// the telemetry exporters.
func Core(cfg config.Config) fx.Option {
	return fx.Options(
		fx.Supply(cfg),
		fx.Provide(NewLogger, NewStore),
		fx.Invoke(SetupTelemetry),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	)
}

// Engine provides a control plane engine with its catalog and live source.
func Engine() fx.Option {
	return fx.Provide(NewCatalog, NewLiveSource, NewClusterStore, NewConductor, NewEngine)
}

// Serve starts the engine and the HTTP API.
func Serve() fx.Option {
	return fx.Options(
		fx.Provide(NewServer),
		fx.Invoke(RunEngine, RunServer),
	)
}

// CloseStore closes the store when the application stops. Commands that
// start the engine must not use it: stopping the engine closes the store.
func CloseStore() fx.Option {
	return fx.Invoke(func(lc fx.Lifecycle, st store.Store) {
		lc.Append(fx.StopHook(st.Close))
	})
}

// NewLogger returns a JSON logger at the configured level.
func NewLogger(cfg config.Config) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger, nil
}

// SetupTelemetry installs the OTLP exporters and flushes them on stop.
func SetupTelemetry(lc fx.Lifecycle, cfg config.Config, logger *slog.Logger) error {
	shutdown, err := observability.Setup(context.Background(), cfg.Observability)
	if err != nil {
		return err
	}
	if cfg.Observability.Enabled {
		logger.Info("telemetry export enabled",
			slog.String("endpoint", cfg.Observability.Endpoint),
			slog.String("service", cfg.Observability.ServiceName),
		)
	}
	lc.Append(fx.StopHook(func(ctx context.Context) error { return shutdown(ctx) }))
	return nil
}
