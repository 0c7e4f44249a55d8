package domain

// Signal is the decision produced for a single trade.
type Signal int

const (
	SignalNone Signal = iota
	SignalBuy
	SignalSell
)

// String returns the lowercase name used in logs and JSON.
func (s Signal) String() string {
	switch s {
	case SignalBuy:
		return "buy"
	case SignalSell:
		return "sell"
	default:
		return "none"
	}
}

// TradingConfig is the per-session signal policy. It never changes once a
// session has started.
type TradingConfig struct {
	SessionID         string `json:"id"`
	Ups               int    `json:"ups"`
	Downs             int    `json:"downs"`
	UseBidVsAsk       bool   `json:"useAvgBidVsAvgAsk"`
	UseShortVsLongMA  bool   `json:"useShortVsLongMovAvg"`
	UseSumUpVsDown    bool   `json:"useSumAmtUpVsDown"`
	UseCloserToAskBid bool   `json:"useTradePriceCloserToAskVsBuy"`
}

// ActiveCriteria returns how many criteria the config enables.
func (c TradingConfig) ActiveCriteria() int {
	n := 0
	for _, on := range []bool{c.Ups > 0 || c.Downs > 0, c.UseBidVsAsk, c.UseShortVsLongMA, c.UseSumUpVsDown, c.UseCloserToAskBid} {
		if on {
			n++
		}
	}
	return n
}
