package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tweetyapp/voiced/internal/app"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	var bindAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the session API and client websocket",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			if bindAddr != "" {
				cfg.BindAddr = bindAddr
			}
			logger := app.NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			res, err := app.Build(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := res.Cleanup(); err != nil {
					logger.Warn("cleanup failed", "error", err)
				}
			}()
			logger.Info("realtime provider", "provider", res.Realtime.Provider, "detail", res.Realtime.Detail)

			httpServer := &http.Server{
				Addr:              cfg.BindAddr,
				Handler:           res.API.Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			runCtx, runCancel := context.WithCancel(context.Background())
			defer runCancel()
			res.Sessions.StartJanitor(runCtx, 5*time.Second)

			serveErr := make(chan error, 1)
			go func() {
				logger.Info("server listening", "addr", cfg.BindAddr)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
				close(serveErr)
			}()

			select {
			case err := <-serveErr:
				if err != nil {
					return fmt.Errorf("listen error: %w", err)
				}
			case <-ctx.Done():
				logger.Info("shutdown signal received")
			}

			runCancel()
			res.API.CloseAll()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Warn("graceful shutdown failed", "error", err)
				_ = httpServer.Close()
			}
			if err := res.API.Drain(shutdownCtx); err != nil {
				logger.Warn("sessions still tearing down at exit", "error", err)
			}
			logger.Info("shutdown complete")
			return nil
		},
	}
	cmd.Flags().StringVar(&bindAddr, "addr", "", "bind address override (default APP_BIND_ADDR)")
	return cmd
}
