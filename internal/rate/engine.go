package rate

import (
	"time"

	"ammscope/internal/metrics"
	"ammscope/internal/model"
)

const (
	opComputeRate   = "compute_rate"
	opBuildQuote    = "build_market_rate"
	opEvaluateQuote = "evaluate"
)

// Quote holds the raw observation a MarketRate is built from.
type Quote struct {
	ProgramID            string
	PoolAddress          string
	TokenPair            model.TokenPair
	BaseLiquidity        float64
	QuoteLiquidity       float64
	SwapFee              float64
	Volume24h            float64
	Volume1h             float64
	TransactionSignature string
}

// Engine builds and evaluates quotes, reporting operation latencies.
type Engine struct {
	recorder metrics.Recorder
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(e *Engine) {
		if r != nil {
			e.recorder = r
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		recorder: metrics.Nop{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ComputeRate is ComputeRate with latency reporting.
func (e *Engine) ComputeRate(baseAmount, quoteAmount float64) float64 {
	start := time.Now()
	r := ComputeRate(baseAmount, quoteAmount)
	e.recorder.ObserveOperation(opComputeRate, time.Since(start))
	return r
}

// Evaluate is Evaluate with latency reporting.
func (e *Engine) Evaluate(r model.MarketRate, f model.FilterConfig) (bool, bool) {
	start := time.Now()
	liquidity, volume := Evaluate(r, f)
	e.recorder.ObserveOperation(opEvaluateQuote, time.Since(start))
	return liquidity, volume
}

// NewMarketRate builds a MarketRate from raw reserves.
func (e *Engine) NewMarketRate(q Quote) model.MarketRate {
	start := time.Now()
	mr := model.MarketRate{
		ProgramID:   q.ProgramID,
		PoolAddress: q.PoolAddress,
		TokenPair:   q.TokenPair,
		Rate:        e.ComputeRate(q.BaseLiquidity, q.QuoteLiquidity),
		SwapFee:     q.SwapFee,
		Liquidity: model.Liquidity{
			BaseLiquidity:     q.BaseLiquidity,
			QuoteLiquidity:    q.QuoteLiquidity,
			TotalLiquidityUSD: TotalLiquidity(q.BaseLiquidity, q.QuoteLiquidity),
			Volume24h:         q.Volume24h,
			Volume1h:          q.Volume1h,
		},
		Timestamp:            e.now().UnixMilli(),
		TransactionSignature: q.TransactionSignature,
	}
	e.recorder.ObserveOperation(opBuildQuote, time.Since(start))
	return mr
}
