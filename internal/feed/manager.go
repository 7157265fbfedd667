package feed

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ammscope/internal/metrics"
	"ammscope/internal/model"
	"ammscope/internal/rate"
	"ammscope/internal/synthetic"
	"ammscope/internal/upstream"
)

// Stop reasons reported to the metrics recorder.
const (
	stopCancelled      = "cancelled"
	stopConsumerGone   = "consumer_gone"
	stopUpstreamClosed = "upstream_closed"
	stopStreamError    = "stream_error"
)

// Connector opens probed upstream connections.
type Connector interface {
	Connect(ctx context.Context, pool model.PoolProgram) (*upstream.Connection, error)
}

// Config holds the immutable manager settings.
type Config struct {
	Pools        []model.PoolProgram
	Filter       model.FilterConfig
	TickInterval time.Duration
}

// Deps are the manager collaborators. Nil fields get defaults.
type Deps struct {
	Connector Connector
	Engine    *rate.Engine
	Recorder  metrics.Recorder
	Logger    *zap.Logger
	Now       func() time.Time
}

// Manager owns one source per pool program and fans their updates into a
// single Channel.
type Manager struct {
	cfg      Config
	runID    string
	sources  []*sourceState
	engine   *rate.Engine
	recorder metrics.Recorder
	logger   *zap.Logger
	now      func() time.Time
	started  atomic.Bool
}

// New probes every pool once, concurrently, and selects a live or synthetic
// source for each of them.
func New(ctx context.Context, cfg Config, deps Deps) (*Manager, error) {
	if len(cfg.Pools) == 0 {
		return nil, fmt.Errorf("at least one pool program is required")
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = synthetic.DefaultInterval
	}
	if deps.Connector == nil {
		deps.Connector = upstream.NewConnector(upstream.WithLogger(deps.Logger))
	}
	if deps.Engine == nil {
		deps.Engine = rate.NewEngine(rate.WithRecorder(deps.Recorder))
	}
	if deps.Recorder == nil {
		deps.Recorder = metrics.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	runID := uuid.NewString()
	m := &Manager{
		cfg:      cfg,
		runID:    runID,
		sources:  make([]*sourceState, len(cfg.Pools)),
		engine:   deps.Engine,
		recorder: deps.Recorder,
		logger:   deps.Logger.With(zap.String("run_id", runID)),
		now:      deps.Now,
	}

	var g errgroup.Group
	for i, pool := range cfg.Pools {
		s := newSourceState(pool)
		m.sources[i] = s
		g.Go(func() error {
			m.probe(ctx, deps.Connector, s)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		m.closeConns()
		return nil, err
	}
	return m, nil
}

func (m *Manager) probe(ctx context.Context, connector Connector, s *sourceState) {
	logger := m.logger.With(zap.String("program", s.pool.ID), zap.String("endpoint", s.pool.Endpoint))

	conn, err := connector.Connect(ctx, s.pool)
	if err != nil {
		s.selectSynthetic(err)
		m.recorder.SourceSelected(s.pool.ID, SourceSynthetic.String())
		logger.Warn("upstream unavailable, using synthetic feed", zap.Error(err))
		return
	}

	s.selectLive(conn)
	m.recorder.SourceSelected(s.pool.ID, SourceLive.String())
	logger.Info("upstream live")
}

// RunID identifies this manager in logs.
func (m *Manager) RunID() string {
	return m.runID
}

// States returns a snapshot of every source, in configuration order.
func (m *Manager) States() []SourceSnapshot {
	out := make([]SourceSnapshot, 0, len(m.sources))
	for _, s := range m.sources {
		out = append(out, s.snapshot())
	}
	return out
}

// Run drives every source until it stops, then closes out. Each source runs
// until ctx is done or its upstream or consumer goes away.
func (m *Manager) Run(ctx context.Context, out *Channel) error {
	if out == nil {
		return fmt.Errorf("output channel is nil")
	}
	if !m.started.CompareAndSwap(false, true) {
		return fmt.Errorf("manager already started")
	}

	m.logger.Info("feed started", zap.Int("sources", len(m.sources)), zap.Int("channel_capacity", out.Cap()))

	var g errgroup.Group
	for _, s := range m.sources {
		g.Go(func() error {
			m.runSource(ctx, s, out)
			return nil
		})
	}
	_ = g.Wait()

	out.close()
	m.closeConns()
	m.logger.Info("feed stopped")

	return ctx.Err()
}

func (m *Manager) runSource(ctx context.Context, s *sourceState, out *Channel) {
	logger := m.logger.With(zap.String("program", s.pool.ID))

	if s.currentKind() == SourceLive {
		sub, err := s.conn.Subscribe(ctx, m.cfg.Filter)
		switch {
		case err == nil:
			s.streaming()
			m.stopSource(logger, s, m.streamLive(ctx, s, sub, out))
			return
		case ctx.Err() != nil:
			m.stopSource(logger, s, ctx.Err())
			return
		case upstream.Unavailable(err):
			_ = s.closeConn()
			s.selectSynthetic(err)
			m.recorder.SourceSelected(s.pool.ID, SourceSynthetic.String())
			logger.Warn("subscription failed, using synthetic feed", zap.Error(err))
		default:
			m.stopSource(logger, s, err)
			return
		}
	}

	s.streaming()
	m.stopSource(logger, s, m.streamSynthetic(ctx, s, out))
}

func (m *Manager) streamLive(ctx context.Context, s *sourceState, sub *upstream.Subscription, out *Channel) error {
	for {
		update, err := sub.Recv()
		if err != nil {
			return err
		}
		normalize(m.engine, &update.MarketRate)
		if err := m.forward(ctx, s, update, out); err != nil {
			return err
		}
	}
}

// normalize recomputes the derived fields of a live quote from its reserves.
// Volumes, fee, timestamp and signature are kept as received.
func normalize(engine *rate.Engine, mr *model.MarketRate) {
	liq := &mr.Liquidity
	mr.Rate = engine.ComputeRate(liq.BaseLiquidity, liq.QuoteLiquidity)
	liq.TotalLiquidityUSD = rate.TotalLiquidity(liq.BaseLiquidity, liq.QuoteLiquidity)
}

func (m *Manager) streamSynthetic(ctx context.Context, s *sourceState, out *Channel) error {
	gen := synthetic.New(s.pool, m.engine, synthetic.WithInterval(m.cfg.TickInterval))

	genCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	updates := make(chan model.PriceUpdate)
	genErr := make(chan error, 1)
	go func() {
		genErr <- gen.Run(genCtx, updates)
	}()

	for {
		select {
		case update := <-updates:
			if err := m.forward(ctx, s, update, out); err != nil {
				cancel()
				<-genErr
				return err
			}
		case err := <-genErr:
			return err
		}
	}
}

// forward stamps and sends one update. Seq advances only on a successful send,
// so every source's sequence is contiguous.
func (m *Manager) forward(ctx context.Context, s *sourceState, update model.PriceUpdate, out *Channel) error {
	kind := s.currentKind()
	item := Item{
		Update:     update,
		Program:    s.pool,
		Source:     kind,
		Seq:        s.forwarded.Load() + 1,
		ReceivedAt: m.now(),
	}
	if err := out.Send(ctx, item); err != nil {
		return err
	}
	s.forwarded.Add(1)
	m.recorder.ItemForwarded(s.pool.ID, kind.String())
	return nil
}

func (m *Manager) stopSource(logger *zap.Logger, s *sourceState, err error) {
	reason := stopReason(err)
	s.stop(reason)
	m.recorder.StreamStopped(s.pool.ID, reason)

	fields := []zap.Field{
		zap.String("kind", s.currentKind().String()),
		zap.String("reason", reason),
		zap.Uint64("forwarded", s.forwarded.Load()),
	}
	if reason == stopStreamError || reason == stopUpstreamClosed {
		logger.Warn("source stopped", append(fields, zap.Error(err))...)
		return
	}
	logger.Info("source stopped", fields...)
}

func (m *Manager) closeConns() {
	for _, s := range m.sources {
		if s == nil {
			continue
		}
		if err := s.closeConn(); err != nil {
			m.logger.Debug("close upstream connection", zap.String("program", s.pool.ID), zap.Error(err))
		}
	}
}

func stopReason(err error) string {
	var streamErr *upstream.StreamError
	switch {
	case errors.Is(err, ErrChannelClosed):
		return stopConsumerGone
	case errors.As(err, &streamErr) && streamErr.Cancelled():
		return stopCancelled
	case errors.As(err, &streamErr) && streamErr.Closed():
		return stopUpstreamClosed
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return stopCancelled
	default:
		return stopStreamError
	}
}
