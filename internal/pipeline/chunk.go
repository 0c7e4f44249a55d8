package pipeline

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tickreplay/internal/domain"
	"github.com/alanyoungcy/tickreplay/internal/strategy"
)

// DefaultMaxGap is the quiet period that closes a chunk.
const DefaultMaxGap = time.Hour

// ChunkManager splits a session's trades into chunks separated by gaps of at
// least maxGap. On each boundary it finalizes the chunk profit and resets the
// trend window and account it shares with the pipeline.
type ChunkManager struct {
	maxGap  time.Duration
	window  *strategy.TrendWindow
	account *domain.SimulatedAccount

	inChunk    bool
	number     int
	count      int
	startPrice decimal.Decimal
	startTime  time.Time
	lastPrice  decimal.Decimal
	lastTime   time.Time // last non-zero trade time of the chunk

	completed []domain.ChunkInfo
}

// NewChunkManager creates a manager in the NoChunk state.
func NewChunkManager(maxGap time.Duration, window *strategy.TrendWindow, account *domain.SimulatedAccount) *ChunkManager {
	if maxGap <= 0 {
		maxGap = DefaultMaxGap
	}
	return &ChunkManager{maxGap: maxGap, window: window, account: account}
}

// Observe accounts for trade and returns the chunk it closed, if any.
//
// A trade without a timestamp cannot decide a boundary and simply joins the
// current chunk. Gaps are measured from the latest timestamp seen in the
// chunk, so an earlier record joins the chunk too.
func (m *ChunkManager) Observe(trade domain.Trade) *domain.ChunkInfo {
	if !m.inChunk {
		m.inChunk = true
		m.number = 1
		m.start(trade)
		return nil
	}

	var closed *domain.ChunkInfo
	if !trade.Timestamp.IsZero() && !m.lastTime.IsZero() && trade.Timestamp.Sub(m.lastTime) >= m.maxGap {
		info := m.summary()
		m.completed = append(m.completed, info)
		closed = &info

		m.number++
		m.window.Reset()
		m.account.Reset()
		m.start(trade)
		return closed
	}

	m.count++
	m.lastPrice = trade.Price
	// Out-of-order records never move the chunk end backwards.
	if trade.Timestamp.After(m.lastTime) {
		m.lastTime = trade.Timestamp
	}
	return nil
}

func (m *ChunkManager) start(trade domain.Trade) {
	m.count = 1
	m.startPrice = trade.Price
	m.startTime = trade.Timestamp
	m.lastPrice = trade.Price
	m.lastTime = trade.Timestamp
}

// summary builds the ChunkInfo of the current chunk from the account as it
// stands, before any reset.
func (m *ChunkManager) summary() domain.ChunkInfo {
	profit := m.account.Value(m.lastPrice).Sub(m.account.StartingValue(m.startPrice)).Truncate(domain.CurrencyPlaces)
	return domain.ChunkInfo{
		Number:          m.number,
		Profit:          profit,
		StartPrice:      m.startPrice,
		EndPrice:        m.lastPrice,
		TradeCount:      m.count,
		StartTimeMillis: millis(m.startTime),
		EndTimeMillis:   millis(m.lastTime),
	}
}

// Finish summarizes the still-open chunk without closing it. It returns nil
// before the first trade.
func (m *ChunkManager) Finish() *domain.ChunkInfo {
	if !m.inChunk {
		return nil
	}
	info := m.summary()
	return &info
}

// Number is the current chunk number, 0 before the first trade.
func (m *ChunkManager) Number() int { return m.number }

// Completed returns a copy of every chunk closed so far.
func (m *ChunkManager) Completed() []domain.ChunkInfo {
	out := make([]domain.ChunkInfo, len(m.completed))
	copy(out, m.completed)
	return out
}

// Reset returns the manager to NoChunk and forgets completed chunks.
func (m *ChunkManager) Reset() {
	*m = ChunkManager{maxGap: m.maxGap, window: m.window, account: m.account}
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
