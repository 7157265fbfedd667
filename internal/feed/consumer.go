package feed

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	timerate "golang.org/x/time/rate"

	"ammscope/internal/metrics"
	"ammscope/internal/model"
	"ammscope/internal/rate"
)

// DefaultLatencyBudget is the soft per-item delivery budget.
const DefaultLatencyBudget = time.Millisecond

// Sink receives accepted updates.
type Sink interface {
	Publish(ctx context.Context, update model.PriceUpdate) error
}

// ConsumerConfig holds the consumer thresholds.
type ConsumerConfig struct {
	Filter        model.FilterConfig
	LatencyBudget time.Duration
	// WarnEvery bounds how often a budget breach is logged. Breaches are
	// always counted.
	WarnEvery time.Duration
}

// ConsumerStats counts what the consumer has seen.
type ConsumerStats struct {
	Received     uint64
	Accepted     uint64
	Rejected     uint64
	OverBudget   uint64
	PublishFails uint64
}

// Consumer drains a Channel, evaluates every update and forwards the accepted
// ones to its sinks.
type Consumer struct {
	cfg      ConsumerConfig
	engine   *rate.Engine
	sinks    []Sink
	recorder metrics.Recorder
	logger   *zap.Logger
	warn     *timerate.Limiter
	now      func() time.Time

	received     atomic.Uint64
	accepted     atomic.Uint64
	rejected     atomic.Uint64
	overBudget   atomic.Uint64
	publishFails atomic.Uint64
}

func NewConsumer(cfg ConsumerConfig, engine *rate.Engine, recorder metrics.Recorder, logger *zap.Logger, sinks ...Sink) *Consumer {
	if cfg.LatencyBudget <= 0 {
		cfg.LatencyBudget = DefaultLatencyBudget
	}
	if cfg.WarnEvery <= 0 {
		cfg.WarnEvery = time.Second
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	if engine == nil {
		engine = rate.NewEngine(rate.WithRecorder(recorder))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{
		cfg:      cfg,
		engine:   engine,
		sinks:    sinks,
		recorder: recorder,
		logger:   logger,
		warn:     timerate.NewLimiter(timerate.Every(cfg.WarnEvery), 1),
		now:      time.Now,
	}
}

// Run consumes until the channel is closed or ctx is done. On return the
// channel is marked as having no consumer.
func (c *Consumer) Run(ctx context.Context, ch *Channel) error {
	defer ch.CloseConsumer()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case item, ok := <-ch.Items():
			if !ok {
				return nil
			}
			c.handle(ctx, item)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, item Item) {
	c.received.Add(1)

	update := item.Update
	update.MeetsLiquidityFilter, update.MeetsVolumeFilter = c.engine.Evaluate(update.MarketRate, c.cfg.Filter)
	accepted := update.Accepted()
	c.recorder.ItemEvaluated(item.Program.ID, accepted)

	latency := c.now().Sub(item.ReceivedAt)
	c.recorder.ObserveDeliveryLatency(item.Program.ID, latency)
	if latency > c.cfg.LatencyBudget {
		c.overBudget.Add(1)
		c.recorder.LatencyBudgetExceeded(item.Program.ID)
		if c.warn.Allow() {
			c.logger.Warn("delivery latency over budget",
				zap.String("program", item.Program.ID),
				zap.String("source", item.Source.String()),
				zap.Uint64("seq", item.Seq),
				zap.Duration("latency", latency),
				zap.Duration("budget", c.cfg.LatencyBudget),
			)
		}
	}

	if !accepted {
		c.rejected.Add(1)
		return
	}
	c.accepted.Add(1)

	for _, sink := range c.sinks {
		if err := sink.Publish(ctx, update); err != nil {
			c.publishFails.Add(1)
			c.logger.Warn("publish update failed", zap.String("program", item.Program.ID), zap.Error(err))
		}
	}
}

// Stats returns the current counters.
func (c *Consumer) Stats() ConsumerStats {
	return ConsumerStats{
		Received:     c.received.Load(),
		Accepted:     c.accepted.Load(),
		Rejected:     c.rejected.Load(),
		OverBudget:   c.overBudget.Load(),
		PublishFails: c.publishFails.Load(),
	}
}
