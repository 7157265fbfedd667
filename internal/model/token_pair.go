package model

// TokenPair describes the base/quote tokens of a pool.
type TokenPair struct {
	BaseToken     string `json:"base_token"`
	QuoteToken    string `json:"quote_token"`
	BaseMint      string `json:"base_mint"`
	QuoteMint     string `json:"quote_mint"`
	BaseDecimals  uint8  `json:"base_decimals"`
	QuoteDecimals uint8  `json:"quote_decimals"`
}

// Symbol returns the pair as BASE/QUOTE.
func (p TokenPair) Symbol() string {
	return p.BaseToken + "/" + p.QuoteToken
}

// SOLUSDC is the pair quoted by the synthetic feed.
var SOLUSDC = TokenPair{
	BaseToken:     "SOL",
	QuoteToken:    "USDC",
	BaseMint:      "So11111111111111111111111111111111111111112",
	QuoteMint:     "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
	BaseDecimals:  9,
	QuoteDecimals: 6,
}
