package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ammscope/internal/storage/postgres"
)

func openRegistry(ctx context.Context, dsn string) (*postgres.Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	store, err := postgres.NewStore(ctx, dsn, postgres.Options{MaxRetries: 3, RetryBackoff: 500 * time.Millisecond})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return store, nil
}

func runPoolsImport(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openRegistry(ctx, cfg.PgDSN)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	if err := store.UpsertPoolPrograms(ctx, cfg.Pools); err != nil {
		return fmt.Errorf("import pool programs: %w", err)
	}

	logger.Info("pool programs imported", zap.Int("pools", len(cfg.Pools)), zap.Bool("defaults", !cfg.PoolsConfigured))
	return nil
}

func runPoolsList(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openRegistry(ctx, cfg.PgDSN)
	if err != nil {
		return err
	}
	defer store.Close()

	pools, err := store.ListPoolPrograms(ctx)
	if err != nil {
		return fmt.Errorf("list pool programs: %w", err)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PROGRAM\tNAME\tENDPOINT")
	for _, p := range pools {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", p.ID, p.Name, p.Endpoint)
	}
	return tw.Flush()
}

func runPoolsDisable(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openRegistry(ctx, cfg.PgDSN)
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := store.DisablePoolPrograms(ctx, args)
	if err != nil {
		return fmt.Errorf("disable pool programs: %w", err)
	}
	logger.Info("pool programs disabled", zap.Int64("rows", n), zap.Strings("programs", args))
	return nil
}
