package model

// Liquidity is the reserve and volume snapshot carried by a quote.
type Liquidity struct {
	BaseLiquidity     float64 `json:"base_liquidity"`
	QuoteLiquidity    float64 `json:"quote_liquidity"`
	TotalLiquidityUSD float64 `json:"total_liquidity_usd"`
	Volume24h         float64 `json:"volume_24h"`
	Volume1h          float64 `json:"volume_1h"`
}
