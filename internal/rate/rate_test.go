package rate

import (
	"math"
	"testing"
	"time"

	"ammscope/internal/model"
)

func TestComputeRate(t *testing.T) {
	if got := ComputeRate(100, 200); got != 2.0 {
		t.Fatalf("ComputeRate(100, 200) = %v, want 2", got)
	}

	cases := []struct{ base, quote float64 }{
		{1, 1}, {3, 10}, {0.000001, 42}, {1e9, 1.5e11}, {7.25, 0},
	}
	for _, c := range cases {
		if got, want := ComputeRate(c.base, c.quote), c.quote/c.base; got != want {
			t.Fatalf("ComputeRate(%v, %v) = %v, want %v", c.base, c.quote, got, want)
		}
	}
}

func TestComputeRateSentinel(t *testing.T) {
	for _, base := range []float64{0, -1, -1e-12, math.Inf(-1), math.NaN()} {
		if got := ComputeRate(base, 100); got != UndefinedRate {
			t.Fatalf("ComputeRate(%v, 100) = %v, want %v", base, got, UndefinedRate)
		}
	}
}

func TestTotalLiquidityNeverNegative(t *testing.T) {
	cases := []struct{ base, quote, want float64 }{
		{100, 200, 300},
		{-100, 200, 200},
		{-1, -1, 0},
	}
	for _, c := range cases {
		if got := TotalLiquidity(c.base, c.quote); got != c.want {
			t.Fatalf("TotalLiquidity(%v, %v) = %v, want %v", c.base, c.quote, got, c.want)
		}
	}
}

func TestEvaluateThresholds(t *testing.T) {
	filter := model.FilterConfig{MinLiquidity: 10000, MinVolume: 50}
	r := model.MarketRate{Liquidity: model.Liquidity{TotalLiquidityUSD: 10000.0, Volume1h: 60.0}}

	liquidity, volume := Evaluate(r, filter)
	if !liquidity || !volume || !Accepted(r, filter) {
		t.Fatalf("at thresholds: liquidity=%v volume=%v", liquidity, volume)
	}

	r.Liquidity.Volume1h = 49.9
	liquidity, volume = Evaluate(r, filter)
	if !liquidity || volume || Accepted(r, filter) {
		t.Fatalf("below volume: liquidity=%v volume=%v", liquidity, volume)
	}
}

func TestEvaluateMonotonicInMinLiquidity(t *testing.T) {
	r := model.MarketRate{Liquidity: model.Liquidity{TotalLiquidityUSD: 12345, Volume1h: 1}}

	prev := true
	for min := 0.0; min <= 20000; min += 500 {
		got, _ := Evaluate(r, model.FilterConfig{MinLiquidity: min})
		if !prev && got {
			t.Fatalf("min_liquidity=%v flipped back to true", min)
		}
		prev = got
	}
	if prev {
		t.Fatal("liquidity still accepted at the highest threshold")
	}
}

func TestEngineNewMarketRate(t *testing.T) {
	fixed := time.UnixMilli(1700000000123)
	engine := NewEngine(WithClock(func() time.Time { return fixed }))

	mr := engine.NewMarketRate(Quote{
		ProgramID:      model.Whirlpools,
		PoolAddress:    "pool",
		TokenPair:      model.SOLUSDC,
		BaseLiquidity:  15000,
		QuoteLiquidity: 30000,
		SwapFee:        0.002,
		Volume1h:       75,
	})

	if mr.Rate != 2.0 {
		t.Fatalf("rate = %v, want 2", mr.Rate)
	}
	if mr.Liquidity.TotalLiquidityUSD != 45000 {
		t.Fatalf("total liquidity = %v, want 45000", mr.Liquidity.TotalLiquidityUSD)
	}
	if mr.Timestamp != 1700000000123 {
		t.Fatalf("timestamp = %d", mr.Timestamp)
	}
	if mr.TokenPair != model.SOLUSDC {
		t.Fatalf("token pair = %+v", mr.TokenPair)
	}

	again := engine.NewMarketRate(Quote{BaseLiquidity: 15000, QuoteLiquidity: 30000})
	if again.Rate != mr.Rate {
		t.Fatalf("rate for same reserves = %v, want %v", again.Rate, mr.Rate)
	}
}

func TestEngineZeroBase(t *testing.T) {
	mr := NewEngine().NewMarketRate(Quote{BaseLiquidity: 0, QuoteLiquidity: 500})
	if mr.Rate != UndefinedRate {
		t.Fatalf("rate = %v, want %v", mr.Rate, UndefinedRate)
	}
	if mr.Liquidity.TotalLiquidityUSD != 500 {
		t.Fatalf("total liquidity = %v, want 500", mr.Liquidity.TotalLiquidityUSD)
	}
}
