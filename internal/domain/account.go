package domain

import "github.com/shopspring/decimal"

const (
	// CurrencyPlaces and CoinPlaces are the precisions balances are truncated
	// to after every update.
	CurrencyPlaces int32 = 2
	CoinPlaces     int32 = 8
)

// SimulatedAccount is the pretend wallet of the current chunk.
type SimulatedAccount struct {
	Currency      decimal.Decimal
	Coin          decimal.Decimal
	StartCurrency decimal.Decimal
	StartCoin     decimal.Decimal
}

// NewSimulatedAccount returns an account holding the starting balances.
func NewSimulatedAccount(currency, coin decimal.Decimal) *SimulatedAccount {
	a := &SimulatedAccount{StartCurrency: currency, StartCoin: coin}
	a.Reset()
	return a
}

// Reset restores the starting balances. Called when a new chunk begins.
func (a *SimulatedAccount) Reset() {
	a.Currency = a.StartCurrency.Truncate(CurrencyPlaces)
	a.Coin = a.StartCoin.Truncate(CoinPlaces)
}

// Value is coin*price + currency, truncated to currency precision.
func (a *SimulatedAccount) Value(price decimal.Decimal) decimal.Decimal {
	return a.Coin.Mul(price).Add(a.Currency).Truncate(CurrencyPlaces)
}

// StartingValue is what the starting balances were worth at price.
func (a *SimulatedAccount) StartingValue(price decimal.Decimal) decimal.Decimal {
	return a.StartCoin.Mul(price).Add(a.StartCurrency)
}

// Apply replaces both balances, truncating them to their precisions.
func (a *SimulatedAccount) Apply(currency, coin decimal.Decimal) {
	a.Currency = currency.Truncate(CurrencyPlaces)
	a.Coin = coin.Truncate(CoinPlaces)
}
