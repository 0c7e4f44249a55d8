package executor

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tickreplay/internal/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newSim(dedup *Dedup) *Simulator {
	return NewSimulator(SimulatorConfig{BuyAmount: d("0.5"), SellAmount: d("0.25")}, dedup, nil)
}

func trade(id int64, price string) domain.Trade {
	return domain.NewTrade(id, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), d(price), d("1"), domain.MakerBuy)
}

func TestSimulator_Sell(t *testing.T) {
	acct := domain.NewSimulatedAccount(d("1000"), d("2"))
	pt, err := newSim(nil).Execute(trade(120, "100"), domain.SignalSell, acct)
	require.NoError(t, err)
	require.NotNil(t, pt)

	assert.Equal(t, int64(125), pt.ID)
	assert.Equal(t, int64(120), pt.SourceID)
	assert.Equal(t, "sell", pt.Side)
	assert.True(t, pt.Total.Equal(d("24.75")), pt.Total.String())
	assert.True(t, acct.Currency.Equal(d("1024.75")), acct.Currency.String())
	assert.True(t, acct.Coin.Equal(d("1.75")), acct.Coin.String())
}

func TestSimulator_Buy(t *testing.T) {
	acct := domain.NewSimulatedAccount(d("1000"), d("0"))
	pt, err := newSim(nil).Execute(trade(10, "33.333"), domain.SignalBuy, acct)
	require.NoError(t, err)

	// 0.5 * 33.333 * 1.01 = 16.833165, truncated.
	assert.True(t, pt.Total.Equal(d("16.83")), pt.Total.String())
	assert.True(t, acct.Currency.Equal(d("983.16")), acct.Currency.String())
	assert.True(t, acct.Coin.Equal(d("0.5")))
}

func TestSimulator_ConservesValueUpToFees(t *testing.T) {
	acct := domain.NewSimulatedAccount(d("500"), d("1"))
	sim := newSim(nil)
	price := d("200")

	before := acct.Value(price)
	_, err := sim.Execute(trade(10, "200"), domain.SignalBuy, acct)
	require.NoError(t, err)
	after := acct.Value(price)

	// Only the 1% fee on 0.5*200 leaves the account.
	assert.True(t, before.Sub(after).Equal(d("1")), before.Sub(after).String())
}

func TestSimulator_NoSignal(t *testing.T) {
	acct := domain.NewSimulatedAccount(d("100"), d("1"))
	pt, err := newSim(nil).Execute(trade(10, "5"), domain.SignalNone, acct)
	assert.NoError(t, err)
	assert.Nil(t, pt)
	assert.True(t, acct.Currency.Equal(d("100")))
}

func TestSimulator_InvalidPriceLeavesBalances(t *testing.T) {
	acct := domain.NewSimulatedAccount(d("100"), d("1"))
	_, err := newSim(nil).Execute(trade(10, "0"), domain.SignalBuy, acct)
	assert.ErrorIs(t, err, ErrInvalidTrade)
	assert.True(t, acct.Currency.Equal(d("100")))
	assert.True(t, acct.Coin.Equal(d("1")))
}

func TestSimulator_ZeroAmountRejected(t *testing.T) {
	acct := domain.NewSimulatedAccount(d("100"), d("1"))
	sim := NewSimulator(SimulatorConfig{BuyAmount: decimal.Zero, SellAmount: d("1")}, nil, nil)
	_, err := sim.Execute(trade(10, "5"), domain.SignalBuy, acct)
	assert.ErrorIs(t, err, ErrInvalidTrade)
	assert.True(t, acct.Currency.Equal(d("100")))
}

func TestSimulator_OnePretendTradePerSource(t *testing.T) {
	acct := domain.NewSimulatedAccount(d("1000"), d("1"))
	sim := newSim(NewDedup(0))

	first, err := sim.Execute(trade(10, "10"), domain.SignalBuy, acct)
	require.NoError(t, err)
	require.NotNil(t, first)
	balance := acct.Currency

	second, err := sim.Execute(trade(10, "10"), domain.SignalBuy, acct)
	require.NoError(t, err)
	assert.Nil(t, second)
	assert.True(t, acct.Currency.Equal(balance))
}
