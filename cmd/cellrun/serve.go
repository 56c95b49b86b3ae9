package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cellrun/internal/bridge"
	"cellrun/internal/kernel"
	"cellrun/internal/metrics"
	"cellrun/internal/settings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the editor plugin bridge",
		Long: `Starts the websocket bridge an editor plugin connects to. The plugin gets
the "jupyter" slash command and a palette command bound to the
jupyter_run_cell keybinding; runs write into the plugin's document.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&a.cfg.Addr, "addr", a.cfg.Addr, "Listen address")
	cmd.Flags().IntVar(&a.cfg.MaxSessions, "max-sessions", a.cfg.MaxSessions, "Maximum concurrent kernel sessions (0 = unlimited)")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store *settings.Store
	if a.cfg.SettingsPath != "" {
		var err error
		if store, err = settings.Open(a.cfg.SettingsPath, a.logger); err != nil {
			return err
		}
	}

	sessions := kernel.NewManager(a.cfg.MaxSessions, a.logger)
	driver := kernel.NewClient(kernel.Options{
		KernelName: a.cfg.KernelName,
		Logger:     a.logger,
		Manager:    sessions,
	})

	b := bridge.New(bridge.Config{
		Driver:   driver,
		Sessions: sessions,
		Settings: store,
		Metrics:  metrics.New(),
		Logger:   a.logger,
	})

	if store != nil {
		if err := store.Watch(ctx, b.OnSettingsChange); err != nil {
			a.logger.Warn("settings hot reload disabled", zap.String("path", store.Path()), zap.Error(err))
		}
	}

	srv := &http.Server{
		Addr:    a.cfg.Addr,
		Handler: b.Handler(),
	}

	serverErrors := make(chan error, 1)
	go func() {
		a.logger.Info("bridge listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	b.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("graceful shutdown did not complete", zap.Error(err))
		srv.Close()
	}
	sessions.Shutdown(shutdownCtx)
	return nil
}
