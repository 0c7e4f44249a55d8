package domain

import "github.com/shopspring/decimal"

// PriceLevel is a single price+amount entry in an order book.
type PriceLevel struct {
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
}

// OrderBookSnapshot holds the top-N asks (ascending) and bids (descending) at
// the moment of a trade.
type OrderBookSnapshot struct {
	Asks []PriceLevel `json:"asks"`
	Bids []PriceLevel `json:"bids"`
}

// Clone returns a deep copy so the snapshot can be owned by a single trade.
func (o OrderBookSnapshot) Clone() OrderBookSnapshot {
	out := OrderBookSnapshot{
		Asks: make([]PriceLevel, len(o.Asks)),
		Bids: make([]PriceLevel, len(o.Bids)),
	}
	copy(out.Asks, o.Asks)
	copy(out.Bids, o.Bids)
	return out
}

// BestAsk returns the lowest ask price, or false if there are no asks.
func (o OrderBookSnapshot) BestAsk() (decimal.Decimal, bool) {
	if len(o.Asks) == 0 {
		return decimal.Zero, false
	}
	return o.Asks[0].Price, true
}

// BestBid returns the highest bid price, or false if there are no bids.
func (o OrderBookSnapshot) BestBid() (decimal.Decimal, bool) {
	if len(o.Bids) == 0 {
		return decimal.Zero, false
	}
	return o.Bids[0].Price, true
}

// AvgAskAmount is the mean amount over the ask levels.
func (o OrderBookSnapshot) AvgAskAmount() float64 {
	return avgAmount(o.Asks)
}

// AvgBidAmount is the mean amount over the bid levels.
func (o OrderBookSnapshot) AvgBidAmount() float64 {
	return avgAmount(o.Bids)
}

func avgAmount(levels []PriceLevel) float64 {
	if len(levels) == 0 {
		return 0
	}
	sum := decimal.Zero
	for _, l := range levels {
		sum = sum.Add(l.Amount)
	}
	f, _ := sum.Div(decimal.NewFromInt(int64(len(levels)))).Float64()
	return f
}

// Proximity scores where price sits between the best bid and best ask:
// positive when closer to the ask, negative when closer to the bid, 0 when
// equidistant or when either side is empty.
func (o OrderBookSnapshot) Proximity(price decimal.Decimal) float64 {
	ask, okAsk := o.BestAsk()
	bid, okBid := o.BestBid()
	if !okAsk || !okBid {
		return 0
	}
	toBid := price.Sub(bid).Abs()
	toAsk := ask.Sub(price).Abs()
	f, _ := toBid.Sub(toAsk).Float64()
	return f
}
