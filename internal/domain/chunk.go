package domain

import "github.com/shopspring/decimal"

// ChunkInfo is the finalized summary of a chunk. Values are never mutated
// after the chunk boundary that produced them.
type ChunkInfo struct {
	Number          int             `json:"chunkNumber"`
	Profit          decimal.Decimal `json:"profit"`
	StartPrice      decimal.Decimal `json:"startingTradePrice"`
	EndPrice        decimal.Decimal `json:"endingTradePrice"`
	TradeCount      int             `json:"tradeCount"`
	StartTimeMillis int64           `json:"startTimeMillis"`
	EndTimeMillis   int64           `json:"endTimeMillis"`
}
