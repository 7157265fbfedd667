package model

import "time"

// MarketRate is one observed pool quote. Rate is quote units per base unit.
type MarketRate struct {
	ProgramID            string    `json:"program_id"`
	PoolAddress          string    `json:"pool_address"`
	TokenPair            TokenPair `json:"token_pair"`
	Rate                 float64   `json:"rate"`
	SwapFee              float64   `json:"swap_fee"`
	Liquidity            Liquidity `json:"liquidity"`
	Timestamp            int64     `json:"timestamp"`
	TransactionSignature string    `json:"transaction_signature"`
}

// Time returns the quote timestamp.
func (r MarketRate) Time() time.Time {
	return time.UnixMilli(r.Timestamp)
}
