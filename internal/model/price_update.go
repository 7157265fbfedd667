package model

// PriceUpdate is a MarketRate enriched with price movement and filter verdicts.
type PriceUpdate struct {
	MarketRate           MarketRate `json:"market_rate"`
	PriceChange24h       float64    `json:"price_change_24h"`
	PriceChange1h        float64    `json:"price_change_1h"`
	MeetsLiquidityFilter bool       `json:"meets_liquidity_filter"`
	MeetsVolumeFilter    bool       `json:"meets_volume_filter"`
}

// Accepted reports whether both filters passed.
func (u PriceUpdate) Accepted() bool {
	return u.MeetsLiquidityFilter && u.MeetsVolumeFilter
}
