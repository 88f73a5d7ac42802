package app

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"go.uber.org/fx"

	"github.com/xraph/conductor/api"
	"github.com/xraph/conductor/engine"
	"github.com/xraph/conductor/internal/config"
)

// NewServer returns the HTTP server for the API.
func NewServer(cfg config.Config, eng *engine.Engine) *http.Server {
	return &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.New(eng).Handler(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}
}

// RunServer listens on start and shuts the server down on stop.
func RunServer(lc fx.Lifecycle, cfg config.Config, srv *http.Server, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			logger.Info("http server starting", slog.String("addr", ln.Addr().String()))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("http server error", slog.String("error", err.Error()))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
			defer cancel()
			logger.Info("http server stopping")
			return srv.Shutdown(ctx)
		},
	})
}
