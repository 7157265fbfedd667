package synthetic

import (
	"context"
	"math"
	"time"

	"ammscope/internal/chain"
	"ammscope/internal/model"
	"ammscope/internal/rate"
)

// DefaultInterval is the tick cadence of a generator.
const DefaultInterval = 100 * time.Millisecond

// Series parameters. Reserves grow with the counter and start well above the
// default liquidity threshold; volume oscillates above the default volume threshold.
const (
	baseStart   = 15_000.0
	baseSlope   = 2.5
	quoteStart  = 2_250_000.0
	quoteSlope  = 600.0
	quoteWobble = 4_000.0
	volumeMean  = 80.0
	volumeSwing = 20.0
)

// Generator produces a deterministic quote series for one pool program.
type Generator struct {
	pool        model.PoolProgram
	engine      *rate.Engine
	pair        model.TokenPair
	poolAddress string
	swapFee     float64
	interval    time.Duration
	counter     uint64
}

// Option configures a Generator.
type Option func(*Generator)

// WithInterval sets the tick interval.
func WithInterval(d time.Duration) Option {
	return func(g *Generator) {
		if d > 0 {
			g.interval = d
		}
	}
}

// WithStart skips the first n values of the series.
func WithStart(n uint64) Option {
	return func(g *Generator) {
		g.counter = n
	}
}

func New(pool model.PoolProgram, engine *rate.Engine, opts ...Option) *Generator {
	if engine == nil {
		engine = rate.NewEngine()
	}
	g := &Generator{
		pool:     pool,
		engine:   engine,
		pair:     model.SOLUSDC,
		swapFee:  model.SwapFeeFor(pool.ID),
		interval: DefaultInterval,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.poolAddress = chain.DerivePoolAddress(pool.ID, g.pair.Symbol())
	return g
}

// PoolAddress returns the synthetic pool address.
func (g *Generator) PoolAddress() string {
	return g.poolAddress
}

// Next returns the next value of the series.
func (g *Generator) Next() model.PriceUpdate {
	n := g.counter
	g.counter++

	base, quote := reserves(n)
	mr := g.engine.NewMarketRate(rate.Quote{
		ProgramID:            g.pool.ID,
		PoolAddress:          g.poolAddress,
		TokenPair:            g.pair,
		BaseLiquidity:        base,
		QuoteLiquidity:       quote,
		SwapFee:              g.swapFee,
		Volume24h:            volume24h(n),
		Volume1h:             volume1h(n),
		TransactionSignature: chain.SyntheticSignature(g.poolAddress, n),
	})

	return model.PriceUpdate{
		MarketRate:     mr,
		PriceChange1h:  percentChange(rateAt(g.back(n, time.Hour)), mr.Rate),
		PriceChange24h: percentChange(rateAt(g.back(n, 24*time.Hour)), mr.Rate),
	}
}

// Run emits one value per tick until ctx is done.
func (g *Generator) Run(ctx context.Context, out chan<- model.PriceUpdate) error {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		update := g.Next()
		select {
		case out <- update:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (g *Generator) back(n uint64, window time.Duration) uint64 {
	ticks := uint64(window / g.interval)
	if ticks >= n {
		return 0
	}
	return n - ticks
}

func reserves(n uint64) (base, quote float64) {
	x := float64(n)
	base = baseStart + baseSlope*x
	quote = quoteStart + quoteSlope*x + quoteWobble*math.Sin(x/40)
	return base, quote
}

func rateAt(n uint64) float64 {
	base, quote := reserves(n)
	return rate.ComputeRate(base, quote)
}

func volume1h(n uint64) float64 {
	return volumeMean + volumeSwing*math.Sin(float64(n)/60)
}

func volume24h(n uint64) float64 {
	return 24 * (volumeMean + volumeSwing/2*math.Sin(float64(n)/600))
}

func percentChange(from, to float64) float64 {
	if from == 0 {
		return 0
	}
	return (to - from) / from * 100
}
