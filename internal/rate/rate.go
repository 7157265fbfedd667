package rate

import "ammscope/internal/model"

// UndefinedRate is returned by ComputeRate when the base reserve is not positive.
const UndefinedRate = 0.0

// ComputeRate returns quote units per base unit.
func ComputeRate(baseAmount, quoteAmount float64) float64 {
	if !(baseAmount > 0) {
		return UndefinedRate
	}
	return quoteAmount / baseAmount
}

// TotalLiquidity sums both reserves, ignoring negative values.
func TotalLiquidity(baseAmount, quoteAmount float64) float64 {
	return nonNegative(baseAmount) + nonNegative(quoteAmount)
}

// Evaluate compares a quote against the liquidity and volume thresholds independently.
func Evaluate(r model.MarketRate, f model.FilterConfig) (meetsLiquidity bool, meetsVolume bool) {
	meetsLiquidity = r.Liquidity.TotalLiquidityUSD >= f.MinLiquidity
	meetsVolume = r.Liquidity.Volume1h >= f.MinVolume
	return meetsLiquidity, meetsVolume
}

// Accepted reports whether a quote passes both thresholds.
func Accepted(r model.MarketRate, f model.FilterConfig) bool {
	liquidity, volume := Evaluate(r, f)
	return liquidity && volume
}

func nonNegative(v float64) float64 {
	if v > 0 {
		return v
	}
	return 0
}
