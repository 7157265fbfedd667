package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ammscope/internal/config"
	"ammscope/internal/display"
	"ammscope/internal/feed"
	"ammscope/internal/metrics"
	"ammscope/internal/model"
	"ammscope/internal/rate"
	"ammscope/internal/storage"
	"ammscope/internal/storage/postgres"
	"ammscope/internal/upstream"
)

func runFeed(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pools, err := resolvePools(ctx, cfg, logger)
	if err != nil {
		return err
	}

	var recorder metrics.Recorder = metrics.Nop{}
	if cfg.MetricsAddr != "" {
		prom, shutdown, err := serveMetrics(cfg.MetricsAddr, logger)
		if err != nil {
			return err
		}
		defer shutdown()
		recorder = prom
	}

	engine := rate.NewEngine(rate.WithRecorder(recorder))
	connector := upstream.NewConnector(
		upstream.WithConnectTimeout(cfg.ConnectTimeout),
		upstream.WithProbeTimeout(cfg.ProbeTimeout),
		upstream.WithLogger(logger),
	)

	logger.Info("feed start",
		zap.Int("pools", len(pools)),
		zap.Float64("min_liquidity", cfg.Filter.MinLiquidity),
		zap.Float64("min_volume", cfg.Filter.MinVolume),
		zap.Int64("volume_window_ms", cfg.Filter.VolumeWindowMs),
		zap.Duration("tick_interval", cfg.TickInterval),
		zap.Int("channel_capacity", cfg.ChannelCapacity),
		zap.Duration("latency_budget", cfg.LatencyBudget),
		zap.String("tape", cfg.Tape),
	)

	manager, err := feed.New(ctx, feed.Config{
		Pools:        pools,
		Filter:       cfg.Filter,
		TickInterval: cfg.TickInterval,
	}, feed.Deps{
		Connector: connector,
		Engine:    engine,
		Recorder:  recorder,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("start feed: %w", err)
	}

	table := display.NewTable(cfg.DisplayRows)
	sinks := []feed.Sink{table}
	if cfg.Tape != "" {
		var tape storage.Tape = storage.NewJsonlTape(cfg.Tape)
		defer func() {
			if err := tape.Close(); err != nil {
				logger.Warn("close tape", zap.Error(err))
			}
		}()
		sinks = append(sinks, tape)
	}

	consumer := feed.NewConsumer(feed.ConsumerConfig{
		Filter:        cfg.Filter,
		LatencyBudget: cfg.LatencyBudget,
	}, engine, recorder, logger, sinks...)
	ch := feed.NewChannel(cfg.ChannelCapacity)
	out := cmd.OutOrStdout()

	g, gctx := errgroup.WithContext(ctx)
	consumed := make(chan struct{})
	g.Go(func() error {
		return manager.Run(gctx, ch)
	})
	g.Go(func() error {
		defer close(consumed)
		return consumer.Run(gctx, ch)
	})
	g.Go(func() error {
		return renderLoop(gctx, consumed, out, table, cfg.RefreshInterval)
	})

	err = g.Wait()
	if renderErr := table.Render(out); renderErr != nil {
		logger.Warn("render table", zap.Error(renderErr))
	}

	stats := consumer.Stats()
	for _, s := range manager.States() {
		logger.Info("source summary",
			zap.String("program", s.Program.ID),
			zap.String("kind", s.Kind.String()),
			zap.String("phase", s.Phase.String()),
			zap.Uint64("forwarded", s.Forwarded),
			zap.String("stop_reason", s.StopReason),
		)
	}
	logger.Info("feed done",
		zap.Uint64("received", stats.Received),
		zap.Uint64("accepted", stats.Accepted),
		zap.Uint64("rejected", stats.Rejected),
		zap.Uint64("over_budget", stats.OverBudget),
	)

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// resolvePools prefers explicitly configured pools, then the Postgres
// registry, then the built-in defaults.
func resolvePools(ctx context.Context, cfg config.Config, logger *zap.Logger) ([]model.PoolProgram, error) {
	if cfg.PoolsConfigured || cfg.PgDSN == "" {
		return cfg.Pools, nil
	}

	store, err := postgres.NewStore(ctx, cfg.PgDSN, postgres.Options{MaxRetries: 2, RetryBackoff: 500 * time.Millisecond})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	defer store.Close()

	pools, err := store.ListPoolPrograms(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pool programs: %w", err)
	}
	if len(pools) == 0 {
		logger.Warn("pool registry is empty, using defaults")
		return cfg.Pools, nil
	}
	if err := config.ValidatePools(pools); err != nil {
		return nil, fmt.Errorf("pool registry: %w", err)
	}
	logger.Info("pools loaded from registry", zap.Int("pools", len(pools)))
	return pools, nil
}

func serveMetrics(addr string, logger *zap.Logger) (*metrics.Prometheus, func(), error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	prom, err := metrics.NewPrometheus(reg)
	if err != nil {
		return nil, nil, fmt.Errorf("register metrics: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("metrics listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", zap.Error(err))
		}
	}()

	shutdown := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
	return prom, shutdown, nil
}

// renderLoop redraws the table every interval until ctx is done or the
// consumer has finished.
func renderLoop(ctx context.Context, consumed <-chan struct{}, w io.Writer, table *display.Table, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-consumed:
			return nil
		case <-ticker.C:
		}

		display.ClearScreen(w)
		if err := table.Render(w); err != nil {
			return fmt.Errorf("render table: %w", err)
		}
	}
}
