package pipeline

import (
	"encoding/json"
	"math/rand"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tickreplay/internal/domain"
	"github.com/alanyoungcy/tickreplay/internal/executor"
)

func testConfig(trading domain.TradingConfig) Config {
	return Config{
		Trading:          trading,
		WindowSize:       20,
		MaxGap:           time.Hour,
		StartingCurrency: dec("1000"),
		StartingCoin:     dec("1"),
		Simulator:        executor.SimulatorConfig{BuyAmount: dec("0.1"), SellAmount: dec("0.1")},
	}
}

var book = domain.OrderBookSnapshot{
	Asks: []domain.PriceLevel{{Price: dec("101"), Amount: dec("2")}, {Price: dec("102"), Amount: dec("4")}},
	Bids: []domain.PriceLevel{{Price: dec("99"), Amount: dec("1")}, {Price: dec("98"), Amount: dec("1")}},
}

func withBook(id int64, price string, ts time.Time) domain.Trade {
	return at(id, price, ts).WithOrderBook(book)
}

func TestDecisionPipeline_DropsTradesWithoutBook(t *testing.T) {
	p := NewDecisionPipeline(testConfig(domain.TradingConfig{}), nil)

	_, err := p.Process(at(10, "100", t0))
	assert.ErrorIs(t, err, domain.ErrMissingOrderBook)

	snap, err := p.Process(withBook(20, "101", t0.Add(time.Second)))
	require.NoError(t, err)
	// The dropped trade still counted for classification.
	assert.Equal(t, domain.TickUp, snap.Tick)
	assert.Equal(t, "UP2", snap.Streak)
	assert.Equal(t, int64(1), p.Processed())
}

func TestDecisionPipeline_SumsCompareWithPreviousTrade(t *testing.T) {
	p := NewDecisionPipeline(testConfig(domain.TradingConfig{}), nil)

	_, err := p.Process(withBook(10, "100", t0))
	require.NoError(t, err)
	_, err = p.Process(at(20, "120", t0.Add(time.Second)))
	require.ErrorIs(t, err, domain.ErrMissingOrderBook)

	snap, err := p.Process(withBook(30, "110", t0.Add(2*time.Second)))
	require.NoError(t, err)
	// 120 > 100 then 110 < 120, even though 120 produced no snapshot.
	assert.Equal(t, 120.0, snap.SumUp)
	assert.Equal(t, 110.0, snap.SumDown)
}

func TestDecisionPipeline_DownStreakSells(t *testing.T) {
	p := NewDecisionPipeline(testConfig(domain.TradingConfig{SessionID: "s1", Downs: 2}), nil)

	var snaps []domain.TradeSnapshot
	for i, price := range []string{"100", "99", "98"} {
		snap, err := p.Process(withBook(int64(i+1)*10, price, t0.Add(time.Duration(i)*time.Second)))
		require.NoError(t, err)
		snaps = append(snaps, snap)
	}

	assert.Nil(t, snaps[0].PretendTrade)
	assert.Nil(t, snaps[1].PretendTrade)
	pt := snaps[2].PretendTrade
	require.NotNil(t, pt)
	assert.Equal(t, int64(35), pt.ID)
	assert.Equal(t, "sell", pt.Side)

	// 0.1 * 98 * 0.99 = 9.702 -> 9.70
	assert.True(t, snaps[2].CurrencyBalance.Equal(dec("1009.70")), snaps[2].CurrencyBalance.String())
	assert.True(t, snaps[2].CoinBalance.Equal(dec("0.9")))
	assert.True(t, snaps[2].AccountValue.Equal(dec("1097.90")), snaps[2].AccountValue.String())
}

func TestDecisionPipeline_Statistics(t *testing.T) {
	p := NewDecisionPipeline(testConfig(domain.TradingConfig{}), nil)
	p.Process(withBook(10, "100", t0))
	snap, err := p.Process(withBook(20, "100.5", t0.Add(time.Second)))
	require.NoError(t, err)

	assert.InDelta(t, 100.25, snap.ShortMovingAvg, 1e-9)
	assert.Equal(t, snap.ShortMovingAvg, snap.LongMovingAvg)
	assert.InDelta(t, 1.0, snap.AvgBidAmount, 1e-9)
	assert.InDelta(t, 3.0, snap.AvgAskAmount, 1e-9)
	assert.InDelta(t, 100.5, snap.SumUp, 1e-9)
	// |100.5-99| - |101-100.5|
	assert.InDelta(t, 1.0, snap.Proximity, 1e-9)
	assert.Equal(t, 1, snap.ChunkNumber)
}

func TestDecisionPipeline_ChunkBoundaryInSnapshot(t *testing.T) {
	p := NewDecisionPipeline(testConfig(domain.TradingConfig{}), nil)

	first, err := p.Process(withBook(10, "100", t0))
	require.NoError(t, err)
	assert.Nil(t, first.CompletedChunk)

	second, err := p.Process(withBook(20, "105", t0.Add(2*time.Hour)))
	require.NoError(t, err)
	require.NotNil(t, second.CompletedChunk)
	assert.Equal(t, 1, second.CompletedChunk.TradeCount)
	assert.Equal(t, 2, second.ChunkNumber)
	assert.Equal(t, 1, p.Finish().TradeCount)
	assert.True(t, p.Finish().StartPrice.Equal(dec("105")))
}

func TestDecisionPipeline_NonPositivePricePassesThrough(t *testing.T) {
	p := NewDecisionPipeline(testConfig(domain.TradingConfig{Ups: 1}), nil)
	snap, err := p.Process(withBook(10, "0", t0))
	require.NoError(t, err)
	assert.Empty(t, snap.Tick)
	assert.Nil(t, snap.PretendTrade)
	assert.Nil(t, p.Finish())
}

func randomTrades(seed int64, n int) []domain.Trade {
	rng := rand.New(rand.NewSource(seed))
	ts := t0
	price := 100.0
	out := make([]domain.Trade, 0, n)
	for i := 0; i < n; i++ {
		// Occasional steps back mimic out-of-order log records.
		ts = ts.Add(time.Duration(rng.Intn(110)-20) * time.Minute)
		price += float64(rng.Intn(5)-2) * 0.5
		if price < 1 {
			price = 1
		}
		tr := withBook(int64(i+1)*10, strconv.FormatFloat(price, 'f', 2, 64), ts)
		if rng.Intn(10) == 0 {
			tr.OrderBook = nil
		}
		out = append(out, tr)
	}
	return out
}

func run(t *testing.T, trades []domain.Trade) ([]byte, *DecisionPipeline) {
	t.Helper()
	p := NewDecisionPipeline(testConfig(domain.TradingConfig{Ups: 2, Downs: 2, UseSumUpVsDown: true}), nil)
	var out []byte
	for _, tr := range trades {
		snap, err := p.Process(tr)
		if err != nil {
			require.ErrorIs(t, err, domain.ErrMissingOrderBook)
			continue
		}
		b, err := json.Marshal(snap)
		require.NoError(t, err)
		out = append(out, b...)
		out = append(out, '\n')
	}
	return out, p
}

func TestDecisionPipeline_Deterministic(t *testing.T) {
	trades := randomTrades(42, 500)
	a, _ := run(t, trades)
	b, _ := run(t, trades)
	assert.Equal(t, string(a), string(b))
}

func TestDecisionPipeline_ChunkInvariants(t *testing.T) {
	_, p := run(t, randomTrades(9, 1000))
	chunks := p.Completed()
	require.NotEmpty(t, chunks)
	for i, c := range chunks {
		assert.Equal(t, i+1, c.Number)
		assert.GreaterOrEqual(t, c.TradeCount, 1)
		assert.GreaterOrEqual(t, c.EndTimeMillis, c.StartTimeMillis)
	}
}

func TestDecisionPipeline_Release(t *testing.T) {
	_, p := run(t, randomTrades(3, 50))
	p.Release()
	assert.Nil(t, p.Finish())
	assert.Zero(t, p.Processed())
	assert.Empty(t, p.Completed())
}
