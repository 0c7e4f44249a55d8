package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tickreplay/internal/domain"
	"github.com/alanyoungcy/tickreplay/internal/executor"
	"github.com/alanyoungcy/tickreplay/internal/strategy"
)

// Config parameterizes a DecisionPipeline.
type Config struct {
	Trading          domain.TradingConfig
	WindowSize       int
	MaxGap           time.Duration
	StartingCurrency decimal.Decimal
	StartingCoin     decimal.Decimal
	Simulator        executor.SimulatorConfig
}

// DecisionPipeline runs one session's trades through classification, trend
// statistics, chunking, signal evaluation and the pretend-trade simulator.
// Every session gets its own pipeline; it is not safe for concurrent use.
type DecisionPipeline struct {
	classifier *strategy.TickClassifier
	window     *strategy.TrendWindow
	account    *domain.SimulatedAccount
	chunks     *ChunkManager
	engine     *strategy.SignalEngine
	dedup      *executor.Dedup
	sim        *executor.Simulator
	logger     *slog.Logger

	processed int64
}

// NewDecisionPipeline creates a pipeline with fresh state.
func NewDecisionPipeline(cfg Config, logger *slog.Logger) *DecisionPipeline {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "pipeline"), slog.String("session_id", cfg.Trading.SessionID))

	window := strategy.NewTrendWindow(cfg.WindowSize)
	account := domain.NewSimulatedAccount(cfg.StartingCurrency, cfg.StartingCoin)
	dedup := executor.NewDedup(0)
	return &DecisionPipeline{
		classifier: strategy.NewTickClassifier(),
		window:     window,
		account:    account,
		chunks:     NewChunkManager(cfg.MaxGap, window, account),
		engine:     strategy.NewSignalEngine(cfg.Trading),
		dedup:      dedup,
		sim:        executor.NewSimulator(cfg.Simulator, dedup, logger),
		logger:     logger,
	}
}

// Process handles one trade. It returns domain.ErrMissingOrderBook for
// trades without an order book; those still advance the tick classifier and
// the directional sums but produce no snapshot.
func (p *DecisionPipeline) Process(trade domain.Trade) (domain.TradeSnapshot, error) {
	valid := trade.Price.IsPositive()
	if valid {
		tick, streak := p.classifier.Classify(trade.Price)
		trade = trade.WithTick(tick, streak)
	}
	if trade.OrderBook == nil {
		if valid {
			p.window.Observe(trade.Price)
		}
		return domain.TradeSnapshot{}, fmt.Errorf("trade %d: %w", trade.ID, domain.ErrMissingOrderBook)
	}
	p.processed++

	snap := domain.TradeSnapshot{
		ID:        trade.ID,
		Timestamp: trade.Timestamp,
		Price:     trade.Price,
		Amount:    trade.Amount,
		MakerSide: trade.MakerSide,
		Tick:      trade.Tick,
		Streak:    trade.Streak,
	}
	if !valid {
		p.logger.Warn("trade with non-positive price passed through", slog.Int64("trade_id", trade.ID))
		p.fillAccount(&snap, trade.Price)
		return snap, nil
	}

	snap.CompletedChunk = p.chunks.Observe(trade)
	snap.ChunkNumber = p.chunks.Number()

	book := trade.OrderBook
	price, _ := trade.Price.Float64()
	amount, _ := trade.Amount.Float64()
	p.window.Observe(trade.Price)
	p.window.AddPrice(price)
	p.window.AddAmount(amount)
	p.window.AddBidAmount(book.AvgBidAmount())
	p.window.AddAskAmount(book.AvgAskAmount())

	snap.ShortMovingAvg = p.window.ShortMovingAverage()
	snap.LongMovingAvg = p.window.LongMovingAverage()
	snap.AvgAmount = p.window.AvgAmount()
	snap.AvgBidAmount = p.window.AvgBidAmount()
	snap.AvgAskAmount = p.window.AvgAskAmount()
	snap.SumUp = p.window.SumUp()
	snap.SumDown = p.window.SumDown()
	snap.Proximity = book.Proximity(trade.Price)

	sig := p.engine.Evaluate(trade, snap)
	pt, err := p.sim.Execute(trade, sig, p.account)
	switch {
	case errors.Is(err, executor.ErrInvalidTrade):
		p.logger.Warn("pretend trade skipped", slog.Int64("trade_id", trade.ID), slog.String("error", err.Error()))
	case err != nil:
		return domain.TradeSnapshot{}, fmt.Errorf("pipeline: simulate trade %d: %w", trade.ID, err)
	}
	snap.PretendTrade = pt

	p.fillAccount(&snap, trade.Price)
	return snap, nil
}

func (p *DecisionPipeline) fillAccount(snap *domain.TradeSnapshot, price decimal.Decimal) {
	snap.CurrencyBalance = p.account.Currency
	snap.CoinBalance = p.account.Coin
	snap.AccountValue = p.account.Value(price)
}

// Finish summarizes the open chunk, or returns nil if no trade was scored.
func (p *DecisionPipeline) Finish() *domain.ChunkInfo {
	return p.chunks.Finish()
}

// Completed returns the chunks closed so far.
func (p *DecisionPipeline) Completed() []domain.ChunkInfo {
	return p.chunks.Completed()
}

// Processed is the number of trades that produced a snapshot.
func (p *DecisionPipeline) Processed() int64 { return p.processed }

// Criteria lists the signal criteria active for this session.
func (p *DecisionPipeline) Criteria() []string { return p.engine.Criteria() }

// Release drops all per-session state.
func (p *DecisionPipeline) Release() {
	p.classifier.Reset()
	p.window.Reset()
	p.account.Reset()
	p.chunks.Reset()
	p.dedup.Reset()
	p.processed = 0
}
