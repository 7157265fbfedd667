package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"ammscope/internal/config"
	"ammscope/internal/model"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "ammscope",
		Short:        "Solana AMM rate aggregator",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Stream, filter and display rates from every pool program",
		RunE:  runFeed,
	}

	addPoolFlags(runCmd.Flags())
	addFilterFlags(runCmd.Flags())
	addConnectFlags(runCmd.Flags())
	runCmd.Flags().Duration("tick-interval", 100*time.Millisecond, "synthetic feed tick interval")
	runCmd.Flags().Int("channel-capacity", 64, "output channel capacity")
	runCmd.Flags().Duration("latency-budget", time.Millisecond, "soft per-item delivery budget")
	runCmd.Flags().Int("display-rows", 20, "rows kept in the rate table")
	runCmd.Flags().Duration("refresh-interval", 500*time.Millisecond, "table refresh interval")
	runCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9102)")
	runCmd.Flags().String("tape", "", "append accepted updates to this JSONL file")
	runCmd.Flags().String("pg-dsn", "", "load pool programs from Postgres when no pool is configured")

	root.AddCommand(runCmd)

	pingCmd := &cobra.Command{
		Use:   "ping",
		Short: "Probe every configured upstream once",
		RunE:  runPing,
	}

	addPoolFlags(pingCmd.Flags())
	addConnectFlags(pingCmd.Flags())
	pingCmd.Flags().Bool("strict", false, "exit with an error when any upstream is unavailable")

	root.AddCommand(pingCmd)

	upstreamCmd := &cobra.Command{
		Use:   "upstream",
		Short: "Reference upstream price feed",
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve synthetic quotes over the price feed protocol",
		RunE:  runUpstreamServe,
	}

	addPoolFlags(serveCmd.Flags())
	serveCmd.Flags().String("listen", ":10101", "listen address")
	serveCmd.Flags().Duration("tick-interval", 100*time.Millisecond, "emission interval")

	upstreamCmd.AddCommand(serveCmd)
	root.AddCommand(upstreamCmd)

	poolsCmd := &cobra.Command{
		Use:   "pools",
		Short: "Manage the Postgres pool program registry",
	}
	poolsCmd.PersistentFlags().String("pg-dsn", "", "Postgres DSN")

	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Upsert the configured pool programs",
		RunE:  runPoolsImport,
	}
	addPoolFlags(importCmd.Flags())

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List enabled pool programs",
		RunE:  runPoolsList,
	}

	disableCmd := &cobra.Command{
		Use:   "disable PROGRAM_ID...",
		Short: "Stop streaming the given pool programs",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runPoolsDisable,
	}

	poolsCmd.AddCommand(importCmd, listCmd, disableCmd)
	root.AddCommand(poolsCmd)

	return root
}

func addPoolFlags(fs *pflag.FlagSet) {
	fs.StringSlice("pool", nil, "pool program as id@endpoint or id=name@endpoint (repeatable)")
}

func addFilterFlags(fs *pflag.FlagSet) {
	defaults := model.DefaultFilterConfig()
	fs.Float64("min-liquidity", defaults.MinLiquidity, "minimum total liquidity (SOL)")
	fs.Float64("min-volume", defaults.MinVolume, "minimum 1h volume (SOL)")
	fs.Duration("volume-window", defaults.VolumeWindow(), "volume evaluation window")
}

func addConnectFlags(fs *pflag.FlagSet) {
	fs.Duration("connect-timeout", 10*time.Second, "upstream connect deadline")
	fs.Duration("probe-timeout", 5*time.Second, "upstream liveness probe deadline")
}

func loadConfig(cmd *cobra.Command) (config.Config, *zap.Logger, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return config.Config{}, nil, err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
