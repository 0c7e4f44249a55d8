package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tickreplay/internal/domain"
)

// command is an outbound subscription request.
type command struct {
	Event string      `json:"event"`
	Data  commandData `json:"data"`
}

type commandData struct {
	Channel string `json:"channel"`
}

// envelope is the outer frame of every inbound message.
type envelope struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// tradeMessage is the payload of a live trade. Numbers arrive either as JSON
// numbers or strings depending on the field.
type tradeMessage struct {
	ID             json.Number `json:"id"`
	Timestamp      string      `json:"timestamp"`
	MicroTimestamp string      `json:"microtimestamp"`
	Amount         json.Number `json:"amount"`
	Price          json.Number `json:"price"`
	Type           json.Number `json:"type"`
}

// bookMessage is a full order book snapshot; levels are [price, amount].
type bookMessage struct {
	Timestamp      string      `json:"timestamp"`
	MicroTimestamp string      `json:"microtimestamp"`
	Bids           [][2]string `json:"bids"`
	Asks           [][2]string `json:"asks"`
}

// RawTrade is a trade as reported by the exchange, before id scaling and
// classification.
type RawTrade struct {
	ExchangeID int64
	Timestamp  string
	Price      decimal.Decimal
	Amount     decimal.Decimal
	MakerSide  domain.MakerSide
}

func tradeChannel(pair string) string { return "live_trades_" + pair }
func bookChannel(pair string) string  { return "order_book_" + pair }

func parseTrade(data json.RawMessage) (RawTrade, error) {
	var m tradeMessage
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return RawTrade{}, fmt.Errorf("feed: decode trade: %w", err)
	}
	id, err := m.ID.Int64()
	if err != nil {
		return RawTrade{}, fmt.Errorf("feed: trade id %q: %w", m.ID, err)
	}
	price, err := decimal.NewFromString(m.Price.String())
	if err != nil {
		return RawTrade{}, fmt.Errorf("feed: trade %d price: %w", id, err)
	}
	amount, err := decimal.NewFromString(m.Amount.String())
	if err != nil {
		return RawTrade{}, fmt.Errorf("feed: trade %d amount: %w", id, err)
	}
	ts := m.MicroTimestamp
	if ts == "" {
		ts = m.Timestamp
	}
	return RawTrade{
		ExchangeID: id,
		Timestamp:  ts,
		Price:      price,
		Amount:     amount,
		MakerSide:  domain.ParseMakerSide(m.Type.String()),
	}, nil
}

// parseBook keeps the top depth levels per side. depth <= 0 keeps all.
func parseBook(data json.RawMessage, depth int) (domain.OrderBookSnapshot, time.Time, error) {
	var m bookMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return domain.OrderBookSnapshot{}, time.Time{}, fmt.Errorf("feed: decode book: %w", err)
	}
	bids, err := parseLevels(m.Bids, depth)
	if err != nil {
		return domain.OrderBookSnapshot{}, time.Time{}, fmt.Errorf("feed: book bids: %w", err)
	}
	asks, err := parseLevels(m.Asks, depth)
	if err != nil {
		return domain.OrderBookSnapshot{}, time.Time{}, fmt.Errorf("feed: book asks: %w", err)
	}
	ts := m.MicroTimestamp
	if ts == "" {
		ts = m.Timestamp
	}
	at, _ := domain.TimestampNowFallback.Resolve(ts, time.Now)
	return domain.OrderBookSnapshot{Asks: asks, Bids: bids}, at, nil
}

func parseLevels(raw [][2]string, depth int) ([]domain.PriceLevel, error) {
	if depth > 0 && len(raw) > depth {
		raw = raw[:depth]
	}
	levels := make([]domain.PriceLevel, 0, len(raw))
	for i, l := range raw {
		price, err := decimal.NewFromString(l[0])
		if err != nil {
			return nil, fmt.Errorf("level %d price: %w", i, err)
		}
		amount, err := decimal.NewFromString(l[1])
		if err != nil {
			return nil, fmt.Errorf("level %d amount: %w", i, err)
		}
		levels = append(levels, domain.PriceLevel{Price: price, Amount: amount})
	}
	return levels, nil
}
