package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/searchktools/embed-server/config"
	"github.com/searchktools/embed-server/core"
	"github.com/searchktools/embed-server/core/logging"
)

// App runs one Server for the lifetime of the process.
type App struct {
	cfg    *config.Config
	logger logging.Logger
	server *core.Server
}

// New creates an application instance with the logger cfg selects.
func New(cfg *config.Config) (*App, error) {
	logger, err := cfg.Logger()
	if err != nil {
		return nil, err
	}
	return NewWithServer(cfg, logger, core.NewServer(logger)), nil
}

// NewWithServer creates an application around a pre-configured server.
func NewWithServer(cfg *config.Config, logger logging.Logger, server *core.Server) *App {
	return &App{cfg: cfg, logger: logger, server: server}
}

// Server returns the underlying server for handler registration.
func (a *App) Server() *core.Server {
	return a.server
}

// Run starts the server and blocks until ctx ends or SIGINT/SIGTERM
// arrives, then stops accepting and gives open connections
// ShutdownGrace to finish.
func (a *App) Run(ctx context.Context) error {
	opts, err := a.cfg.Options()
	if err != nil {
		return fmt.Errorf("configuration: %w", err)
	}
	if a.cfg.Root != "" {
		a.server.AddGETHandlerForDirectory("/", a.cfg.Root, "index.html", 0, true)
	}
	if err := a.server.Start(opts); err != nil {
		return err
	}
	a.logger.Logf(logging.Info, "serving %s [%s]", a.server.ServerURL(), a.cfg.Env)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	a.logger.Logf(logging.Info, "shutting down: %v", context.Cause(ctx))

	a.server.Stop()
	drainCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownGrace)
	defer cancel()
	if err := a.server.Drain(drainCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	} else if err != nil {
		a.logger.Logf(logging.Warning, "closed connections still open after %v", a.cfg.ShutdownGrace)
	}
	return nil
}
