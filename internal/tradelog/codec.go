package tradelog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/tickreplay/internal/domain"
)

// record is the JSON value stored in the log. The key is the trade id.
type record struct {
	ID        int64                     `json:"id"`
	CreatedAt string                    `json:"createdAt"`
	Amount    decimal.Decimal           `json:"amount"`
	Price     decimal.Decimal           `json:"price"`
	MakerSide string                    `json:"makerSide"`
	Tick      string                    `json:"tick,omitempty"`
	Streak    string                    `json:"streak,omitempty"`
	OrderBook *domain.OrderBookSnapshot `json:"orderBook,omitempty"`
}

// Encode returns the log key and JSON value for t.
func Encode(t domain.Trade) (string, []byte, error) {
	rec := record{
		ID:        t.ID,
		Amount:    t.Amount,
		Price:     t.Price,
		MakerSide: string(t.MakerSide),
		Tick:      string(t.Tick),
		Streak:    t.Streak,
		OrderBook: t.OrderBook,
	}
	if !t.Timestamp.IsZero() {
		rec.CreatedAt = t.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return "", nil, fmt.Errorf("tradelog: encode trade %d: %w", t.ID, err)
	}
	return strconv.FormatInt(t.ID, 10), b, nil
}

// Decoder turns log values back into trades.
type Decoder struct {
	Policy domain.TimestampPolicy
	Now    func() time.Time
	Logger *slog.Logger
}

// Decode parses value. A bad timestamp is logged and resolved by the
// decoder's policy; only malformed JSON is an error.
func (d Decoder) Decode(value []byte) (domain.Trade, error) {
	var rec record
	if err := json.Unmarshal(value, &rec); err != nil {
		return domain.Trade{}, fmt.Errorf("tradelog: decode record: %w", err)
	}

	ts, err := d.Policy.Resolve(rec.CreatedAt, d.Now)
	if err != nil && d.Logger != nil {
		d.Logger.Warn("trade timestamp unparseable",
			slog.Int64("trade_id", rec.ID),
			slog.String("created_at", rec.CreatedAt),
		)
	}

	t := domain.NewTrade(rec.ID, ts, rec.Price, rec.Amount, domain.ParseMakerSide(rec.MakerSide))
	if rec.Tick != "" {
		t = t.WithTick(domain.Tick(rec.Tick), rec.Streak)
	}
	if rec.OrderBook != nil {
		t = t.WithOrderBook(*rec.OrderBook)
	}
	return t, nil
}
