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

	"gas_oracle/internal/config"
	"gas_oracle/internal/httpapi"
	"gas_oracle/internal/logging"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		port    string
		notSave bool
	)
	cmd := &cobra.Command{
		Use:           "gas-oracle",
		Short:         "Gas price oracle API server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cmd.Flags().Changed("port") {
				cfg.HTTPPort = port
			}
			if notSave {
				cfg.SaveHistory = false
			}
			return serve(cfg)
		},
	}
	cmd.Flags().StringVarP(&port, "port", "p", "", "HTTP port, overrides HTTP_PORT")
	cmd.Flags().BoolVarP(&notSave, "not-save", "n", false, "do not record price history")
	return cmd
}

func serve(cfg *config.Config) error {
	if lvl, err := logging.ParseLevel(cfg.LogLevel); err == nil {
		logging.SetLogLevel(lvl)
	}
	logger := logging.NewLogger("server")
	defer logging.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := httpapi.Build(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}
	app.Start(ctx)

	addr := ":" + cfg.HTTPPort
	server := &http.Server{
		Addr:         addr,
		Handler:      app.Handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Gas oracle listening", "addr", addr, "save_history", cfg.SaveHistory)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		logger.Info("Shutting down server", "signal", sig.String())
	case runErr = <-serverErr:
		logger.Error("Server error", "error", runErr)
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server forced to shutdown", "error", err)
	}

	// Stop the scheduler and reconcile worker, then close storage
	cancel()
	if err := app.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Failed to release resources", "error", err)
	}

	logger.Info("Server exited")
	return runErr
}
