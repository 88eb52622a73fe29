package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"gas_oracle/internal/config"
	"gas_oracle/internal/storage"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:           "migrate",
		Short:         "Manage the gas oracle database schema",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "overall timeout")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: func(_ *cobra.Command, _ []string) error {
				return withDB(timeout, func(ctx context.Context, db *storage.DB) error {
					if err := db.Migrate(ctx); err != nil {
						return err
					}
					return printVersion(ctx, db)
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			RunE: func(_ *cobra.Command, _ []string) error {
				return withDB(timeout, func(ctx context.Context, db *storage.DB) error {
					if err := db.MigrateDown(ctx); err != nil {
						return err
					}
					return printVersion(ctx, db)
				})
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the applied schema version",
			RunE: func(_ *cobra.Command, _ []string) error {
				return withDB(timeout, printVersion)
			},
		},
	)
	return cmd
}

func withDB(timeout time.Duration, fn func(ctx context.Context, db *storage.DB) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Database.InMemory() {
		return errors.New("DATABASE_URL points at the in-memory store, nothing to migrate")
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	fmt.Println("Connecting to database...")
	db, err := storage.NewDB(ctx, storage.DBConfig{
		DSN:             cfg.Database.URL,
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		RetryAttempts:   cfg.Database.RetryAttempts,
		RetryDelay:      cfg.Database.RetryDelay,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	return fn(ctx, db)
}

func printVersion(ctx context.Context, db *storage.DB) error {
	version, err := db.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Schema version: %d\n", version)
	return nil
}
