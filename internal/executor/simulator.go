package executor

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tickreplay/internal/domain"
)

var (
	// BuyFee and SellFee are multiplied into the notional of each pretend
	// trade: buys cost 1% more, sells return 1% less.
	BuyFee  = decimal.RequireFromString("1.01")
	SellFee = decimal.RequireFromString("0.99")
)

// ErrInvalidTrade is returned when a pretend trade cannot be priced.
var ErrInvalidTrade = errors.New("executor: invalid source trade")

// SimulatorConfig holds the fixed sizes of pretend trades.
type SimulatorConfig struct {
	BuyAmount  decimal.Decimal
	SellAmount decimal.Decimal
}

// Simulator turns buy/sell decisions into pretend trades against a
// SimulatedAccount. It never talks to an exchange.
type Simulator struct {
	cfg    SimulatorConfig
	dedup  *Dedup
	logger *slog.Logger
}

// NewSimulator creates a simulator. dedup may be nil to disable duplicate
// suppression.
func NewSimulator(cfg SimulatorConfig, dedup *Dedup, logger *slog.Logger) *Simulator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Simulator{
		cfg:    cfg,
		dedup:  dedup,
		logger: logger.With(slog.String("component", "simulator")),
	}
}

// Execute applies sig for trade to acct. It returns nil when no pretend trade
// is produced (no signal, or the source trade already fired one).
//
// The pretend trade is fully built before the account is touched, so a
// failed build leaves the balances unchanged.
func (s *Simulator) Execute(trade domain.Trade, sig domain.Signal, acct *domain.SimulatedAccount) (*domain.PretendTrade, error) {
	if sig == domain.SignalNone {
		return nil, nil
	}
	if !trade.Price.IsPositive() {
		return nil, fmt.Errorf("%w: trade %d has price %s", ErrInvalidTrade, trade.ID, trade.Price)
	}

	pt, currency, coin, err := s.build(trade, sig, acct)
	if err != nil {
		return nil, err
	}
	if s.dedup != nil && s.dedup.IsDuplicate(trade.ID) {
		s.logger.Debug("duplicate pretend trade suppressed", slog.Int64("trade_id", trade.ID))
		return nil, nil
	}

	acct.Apply(currency, coin)
	s.logger.Debug("pretend trade",
		slog.Int64("id", pt.ID),
		slog.String("side", pt.Side),
		slog.String("price", pt.Price.String()),
		slog.String("amount", pt.Amount.String()),
	)
	return pt, nil
}

func (s *Simulator) build(trade domain.Trade, sig domain.Signal, acct *domain.SimulatedAccount) (*domain.PretendTrade, decimal.Decimal, decimal.Decimal, error) {
	var (
		amount   decimal.Decimal
		total    decimal.Decimal
		currency decimal.Decimal
		coin     decimal.Decimal
	)
	switch sig {
	case domain.SignalSell:
		amount = s.cfg.SellAmount
		total = amount.Mul(trade.Price).Mul(SellFee)
		currency = acct.Currency.Add(total)
		coin = acct.Coin.Sub(amount)
	case domain.SignalBuy:
		amount = s.cfg.BuyAmount
		total = amount.Mul(trade.Price).Mul(BuyFee)
		currency = acct.Currency.Sub(total)
		coin = acct.Coin.Add(amount)
	default:
		return nil, decimal.Zero, decimal.Zero, fmt.Errorf("%w: unknown signal %d", ErrInvalidTrade, sig)
	}
	if !amount.IsPositive() {
		return nil, decimal.Zero, decimal.Zero, fmt.Errorf("%w: %s amount is %s", ErrInvalidTrade, sig, amount)
	}

	pt := &domain.PretendTrade{
		ID:        trade.ID + domain.SyntheticIDOffset,
		SourceID:  trade.ID,
		Side:      sig.String(),
		Timestamp: trade.Timestamp,
		Price:     trade.Price,
		Amount:    amount,
		Total:     total.Truncate(domain.CurrencyPlaces),
	}
	return pt, currency, coin, nil
}
