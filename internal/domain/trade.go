package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Tick is the movement class of a trade relative to the preceding trade.
type Tick string

const (
	TickUp   Tick = "UP"
	TickDown Tick = "DOWN"
	TickZero Tick = "ZERO"
)

// MakerSide is the role of the resting order in a trade.
type MakerSide string

const (
	MakerBuy  MakerSide = "buy"
	MakerSell MakerSide = "sell"
)

// ParseMakerSide normalises exchange spellings ("0"/"1", "BUY", "bid", ...).
func ParseMakerSide(s string) MakerSide {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sell", "ask", "1", "s":
		return MakerSell
	default:
		return MakerBuy
	}
}

const (
	// SyntheticIDOffset is added to a real trade id to build the id of the
	// pretend trade it triggered. Real ids are pre-multiplied by RealIDScale so
	// the synthetic id sorts between the source trade and the next real one.
	SyntheticIDOffset int64 = 5
	RealIDScale       int64 = 10
)

// Trade is an immutable trade event. Use NewTrade to build one and the With*
// methods to derive annotated copies.
type Trade struct {
	ID        int64
	Timestamp time.Time
	Price     decimal.Decimal
	Amount    decimal.Decimal
	MakerSide MakerSide
	Tick      Tick
	Streak    string
	OrderBook *OrderBookSnapshot
}

// NewTrade builds a trade without classification or order book.
func NewTrade(id int64, ts time.Time, price, amount decimal.Decimal, side MakerSide) Trade {
	return Trade{
		ID:        id,
		Timestamp: ts,
		Price:     price,
		Amount:    amount,
		MakerSide: side,
	}
}

// WithOrderBook returns a copy of t carrying its own copy of book.
func (t Trade) WithOrderBook(book OrderBookSnapshot) Trade {
	b := book.Clone()
	t.OrderBook = &b
	return t
}

// WithTick returns a copy of t carrying the given classification.
func (t Trade) WithTick(tick Tick, streak string) Trade {
	t.Tick = tick
	t.Streak = streak
	return t
}

// Classified reports whether both the tick and the streak label are present.
func (t Trade) Classified() bool {
	return t.Tick != "" && t.Streak != ""
}

// TimeMillis returns the trade time in Unix milliseconds, or 0 when unknown.
func (t Trade) TimeMillis() int64 {
	if t.Timestamp.IsZero() {
		return 0
	}
	return t.Timestamp.UnixMilli()
}
