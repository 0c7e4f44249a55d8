package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PretendTrade is a trade synthesized by the simulator.
type PretendTrade struct {
	ID        int64           `json:"id"`
	SourceID  int64           `json:"sourceId"`
	Side      string          `json:"side"`
	Timestamp time.Time       `json:"timestamp"`
	Price     decimal.Decimal `json:"price"`
	Amount    decimal.Decimal `json:"amount"`
	Total     decimal.Decimal `json:"total"`
}

// TradeSnapshot is the per-trade output of a replay session.
type TradeSnapshot struct {
	ID        int64           `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Price     decimal.Decimal `json:"price"`
	Amount    decimal.Decimal `json:"amount"`
	MakerSide MakerSide       `json:"makerSide"`
	Tick      Tick            `json:"tick"`
	Streak    string          `json:"streak"`

	ShortMovingAvg float64 `json:"shortMovAvg"`
	LongMovingAvg  float64 `json:"longMovAvg"`
	AvgAmount      float64 `json:"avgAmount"`
	AvgBidAmount   float64 `json:"avgBidAmount"`
	AvgAskAmount   float64 `json:"avgAskAmount"`
	SumUp          float64 `json:"sumUp"`
	SumDown        float64 `json:"sumDown"`
	Proximity      float64 `json:"priceProximity"`

	ChunkNumber    int           `json:"chunkNumber"`
	CompletedChunk *ChunkInfo    `json:"completedChunk,omitempty"`
	PretendTrade   *PretendTrade `json:"pretendTrade,omitempty"`

	CurrencyBalance decimal.Decimal `json:"currencyBalance"`
	CoinBalance     decimal.Decimal `json:"coinBalance"`
	AccountValue    decimal.Decimal `json:"accountValue"`
}
