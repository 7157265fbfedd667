package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ammscope/internal/model"
	"ammscope/internal/upstream"
)

type pingResult struct {
	pool    model.PoolProgram
	outcome string
	elapsed time.Duration
	err     error
}

func runPing(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()
	strict, _ := cmd.Flags().GetBool("strict")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connector := upstream.NewConnector(
		upstream.WithConnectTimeout(cfg.ConnectTimeout),
		upstream.WithProbeTimeout(cfg.ProbeTimeout),
		upstream.WithLogger(logger),
	)

	results := pingAll(ctx, connector, cfg.Pools)
	if err := writePingResults(cmd.OutOrStdout(), results); err != nil {
		return err
	}

	unavailable := 0
	for _, r := range results {
		if r.err != nil {
			unavailable++
			logger.Debug("ping failed", zap.String("program", r.pool.ID), zap.Error(r.err))
		}
	}
	if strict && unavailable > 0 {
		return fmt.Errorf("%d of %d upstreams unavailable", unavailable, len(results))
	}
	return nil
}

func pingAll(ctx context.Context, connector *upstream.Connector, pools []model.PoolProgram) []pingResult {
	results := make([]pingResult, len(pools))

	var g errgroup.Group
	for i, pool := range pools {
		g.Go(func() error {
			start := time.Now()
			conn, err := connector.Connect(ctx, pool)
			results[i] = pingResult{
				pool:    pool,
				outcome: pingOutcome(err),
				elapsed: time.Since(start),
				err:     err,
			}
			if conn != nil {
				_ = conn.Close()
			}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func pingOutcome(err error) string {
	var connectErr *upstream.ConnectError
	var probeErr *upstream.ProbeError
	switch {
	case err == nil:
		return "live"
	case errors.As(err, &connectErr):
		return "connect " + string(connectErr.Reason)
	case errors.As(err, &probeErr):
		return "probe failed"
	default:
		return "error"
	}
}

func writePingResults(w io.Writer, results []pingResult) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PROGRAM\tNAME\tENDPOINT\tOUTCOME\tELAPSED")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			r.pool.ShortID(),
			r.pool.Name,
			r.pool.Endpoint,
			r.outcome,
			r.elapsed.Round(time.Millisecond),
		)
	}
	return tw.Flush()
}
