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

	"gas_oracle/internal/logging"
	"gas_oracle/internal/oracle"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type options struct {
	rpcURL     string
	port       string
	interval   time.Duration
	sampleSize int
}

func newRootCommand() *cobra.Command {
	_ = godotenv.Load()

	opts := options{
		rpcURL:     os.Getenv("RPC_URL"),
		port:       os.Getenv("ORACLE_PORT"),
		interval:   time.Second,
		sampleSize: oracle.DefaultSampleSize,
	}
	if opts.port == "" {
		opts.port = "8097"
	}

	cmd := &cobra.Command{
		Use:           "gas-estimator",
		Short:         "Samples recent blocks and serves gas price tiers as JSON",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			if opts.rpcURL == "" {
				return errors.New("an rpc url is required (--rpc or RPC_URL)")
			}
			if opts.sampleSize <= 0 || opts.interval <= 0 {
				return errors.New("sample size and interval must be positive")
			}
			return run(opts)
		},
	}
	cmd.Flags().StringVar(&opts.rpcURL, "rpc", opts.rpcURL, "JSON-RPC endpoint of the chain node")
	cmd.Flags().StringVarP(&opts.port, "port", "p", opts.port, "HTTP port serving the reading")
	cmd.Flags().DurationVar(&opts.interval, "interval", opts.interval, "head polling interval")
	cmd.Flags().IntVar(&opts.sampleSize, "blocks", opts.sampleSize, "number of recent blocks sampled")
	return cmd
}

func run(opts options) error {
	logger := logging.NewLogger("estimator")
	defer logging.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	src, err := oracle.DialEthSource(ctx, opts.rpcURL)
	if err != nil {
		return err
	}
	defer src.Close()

	est := oracle.NewEstimator(src, opts.sampleSize, logger)
	go est.Run(ctx, opts.interval)

	addr := ":" + opts.port
	server := &http.Server{
		Addr:         addr,
		Handler:      est.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Estimator listening", "addr", addr, "blocks", opts.sampleSize)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutting down estimator")
	case runErr = <-serverErr:
		logger.Error("Server error", "error", runErr)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Estimator forced to shutdown", "error", err)
	}
	return runErr
}
