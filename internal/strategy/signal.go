package strategy

import (
	"github.com/alanyoungcy/tickreplay/internal/domain"
)

// criterion is one directional test. A nil check means the criterion is
// inactive for that direction.
type criterion struct {
	name string
	sell func(t domain.Trade, s domain.TradeSnapshot) bool
	buy  func(t domain.Trade, s domain.TradeSnapshot) bool
}

// SignalEngine combines the criteria enabled by a TradingConfig. Each
// direction fires only when every criterion active for it holds.
type SignalEngine struct {
	criteria []criterion
}

// NewSignalEngine builds the criteria list for cfg.
func NewSignalEngine(cfg domain.TradingConfig) *SignalEngine {
	var cs []criterion

	streak := criterion{name: "streak"}
	if cfg.Downs > 0 {
		want := StreakLabel(domain.TickDown, cfg.Downs)
		streak.sell = func(t domain.Trade, _ domain.TradeSnapshot) bool {
			return t.Streak == want && t.Tick == domain.TickDown
		}
	}
	if cfg.Ups > 0 {
		want := StreakLabel(domain.TickUp, cfg.Ups)
		streak.buy = func(t domain.Trade, _ domain.TradeSnapshot) bool {
			return t.Streak == want && t.Tick == domain.TickUp
		}
	}
	if streak.sell != nil || streak.buy != nil {
		cs = append(cs, streak)
	}

	if cfg.UseBidVsAsk {
		cs = append(cs, criterion{
			name: "bid_vs_ask",
			sell: func(_ domain.Trade, s domain.TradeSnapshot) bool { return s.AvgBidAmount > s.AvgAskAmount },
			buy:  func(_ domain.Trade, s domain.TradeSnapshot) bool { return s.AvgBidAmount < s.AvgAskAmount },
		})
	}
	if cfg.UseShortVsLongMA {
		cs = append(cs, criterion{
			name: "short_vs_long_ma",
			sell: func(_ domain.Trade, s domain.TradeSnapshot) bool { return s.ShortMovingAvg > s.LongMovingAvg },
			buy:  func(_ domain.Trade, s domain.TradeSnapshot) bool { return s.ShortMovingAvg < s.LongMovingAvg },
		})
	}
	if cfg.UseSumUpVsDown {
		cs = append(cs, criterion{
			name: "sum_up_vs_down",
			sell: func(_ domain.Trade, s domain.TradeSnapshot) bool { return s.SumUp > s.SumDown },
			buy:  func(_ domain.Trade, s domain.TradeSnapshot) bool { return s.SumUp < s.SumDown },
		})
	}
	if cfg.UseCloserToAskBid {
		cs = append(cs, criterion{
			name: "price_proximity",
			sell: func(_ domain.Trade, s domain.TradeSnapshot) bool { return s.Proximity > 0 },
			buy:  func(_ domain.Trade, s domain.TradeSnapshot) bool { return s.Proximity < 0 },
		})
	}

	return &SignalEngine{criteria: cs}
}

// Evaluate returns the decision for trade. Sell is checked first and wins a
// tie. Unclassified trades never produce a decision.
func (e *SignalEngine) Evaluate(trade domain.Trade, snap domain.TradeSnapshot) domain.Signal {
	if !trade.Classified() {
		return domain.SignalNone
	}
	if e.holds(trade, snap, func(c criterion) func(domain.Trade, domain.TradeSnapshot) bool { return c.sell }) {
		return domain.SignalSell
	}
	if e.holds(trade, snap, func(c criterion) func(domain.Trade, domain.TradeSnapshot) bool { return c.buy }) {
		return domain.SignalBuy
	}
	return domain.SignalNone
}

func (e *SignalEngine) holds(trade domain.Trade, snap domain.TradeSnapshot, side func(criterion) func(domain.Trade, domain.TradeSnapshot) bool) bool {
	active := 0
	for _, c := range e.criteria {
		check := side(c)
		if check == nil {
			continue
		}
		active++
		if !check(trade, snap) {
			return false
		}
	}
	return active > 0
}

// Criteria returns the names of the enabled criteria in evaluation order.
func (e *SignalEngine) Criteria() []string {
	names := make([]string, 0, len(e.criteria))
	for _, c := range e.criteria {
		names = append(names, c.name)
	}
	return names
}
