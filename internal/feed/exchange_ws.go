package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/tickreplay/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// pongWait is the time allowed to read the next message or pong.
	pongWait = 60 * time.Second
	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxReconnectDelay = 60 * time.Second
)

// errReconnectRequested is returned when the exchange asks clients to move
// to another server.
var errReconnectRequested = errors.New("feed: exchange requested reconnect")

// TradeHandler receives each live trade in arrival order.
type TradeHandler func(ctx context.Context, t RawTrade)

// BookHandler receives each order book snapshot.
type BookHandler func(ctx context.Context, book domain.OrderBookSnapshot, at time.Time)

// ExchangeConfig configures an ExchangeFeed.
type ExchangeConfig struct {
	URL            string
	Pair           string
	BookDepth      int
	ReconnectDelay time.Duration
}

// ExchangeFeed subscribes to the live trades and order book channels of one
// pair on the exchange websocket and reconnects when the connection drops.
// Handlers run on the read goroutine.
type ExchangeFeed struct {
	cfg    ExchangeConfig
	dialer websocket.Dialer
	logger *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// NewExchangeFeed creates a feed. Nothing is dialled until Run.
func NewExchangeFeed(cfg ExchangeConfig, logger *slog.Logger) *ExchangeFeed {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 2 * time.Second
	}
	return &ExchangeFeed{
		cfg:    cfg,
		dialer: websocket.Dialer{HandshakeTimeout: 15 * time.Second},
		logger: logger.With(slog.String("component", "exchange_feed"), slog.String("pair", cfg.Pair)),
		done:   make(chan struct{}),
	}
}

// Run connects and dispatches messages until ctx is cancelled or Close is
// called. Disconnects are retried with a doubling delay capped at one
// minute; a connection that delivered data resets the delay.
func (f *ExchangeFeed) Run(ctx context.Context, onTrade TradeHandler, onBook BookHandler) error {
	delay := f.cfg.ReconnectDelay
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		received, err := f.runConnection(ctx, onTrade, onBook)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if isClosed(f.done) {
			return nil
		}
		if received {
			delay = f.cfg.ReconnectDelay
		}
		f.logger.Warn("exchange ws disconnected, reconnecting",
			slog.String("error", errString(err)),
			slog.Duration("delay", delay),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(delay):
		}
		delay = min(delay*2, maxReconnectDelay)
	}
}

// runConnection serves one websocket connection. It reports whether any
// message was dispatched before the connection ended.
func (f *ExchangeFeed) runConnection(ctx context.Context, onTrade TradeHandler, onBook BookHandler) (bool, error) {
	conn, _, err := f.dialer.DialContext(ctx, f.cfg.URL, nil)
	if err != nil {
		return false, fmt.Errorf("feed: connect: %w", err)
	}

	connCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-connCtx.Done():
		case <-f.done:
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		conn.Close()
	}()

	var writeMu sync.Mutex
	write := func(msgType int, data []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(msgType, data)
	}

	for _, ch := range []string{tradeChannel(f.cfg.Pair), bookChannel(f.cfg.Pair)} {
		data, _ := json.Marshal(command{Event: "bts:subscribe", Data: commandData{Channel: ch}})
		if err := write(websocket.TextMessage, data); err != nil {
			return false, fmt.Errorf("feed: subscribe %s: %w", ch, err)
		}
	}
	f.logger.Info("exchange ws subscribed")

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-connCtx.Done():
				return
			case <-ticker.C:
				if err := write(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	received := false
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return received, fmt.Errorf("feed: read: %w", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		dispatched, err := f.handleMessage(connCtx, raw, onTrade, onBook)
		if errors.Is(err, errReconnectRequested) {
			return received, err
		}
		if err != nil {
			f.logger.Debug("dropping message", slog.String("error", err.Error()))
		}
		received = received || dispatched
	}
}

// handleMessage routes one frame. It reports whether a handler was called.
func (f *ExchangeFeed) handleMessage(ctx context.Context, raw []byte, onTrade TradeHandler, onBook BookHandler) (bool, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return false, fmt.Errorf("feed: decode envelope: %w", err)
	}

	switch {
	case env.Event == "bts:request_reconnect":
		return false, errReconnectRequested
	case env.Event == "trade" && env.Channel == tradeChannel(f.cfg.Pair):
		t, err := parseTrade(env.Data)
		if err != nil {
			return false, err
		}
		if onTrade != nil {
			onTrade(ctx, t)
		}
		return true, nil
	case env.Event == "data" && env.Channel == bookChannel(f.cfg.Pair):
		book, at, err := parseBook(env.Data, f.cfg.BookDepth)
		if err != nil {
			return false, err
		}
		if onBook != nil {
			onBook(ctx, book, at)
		}
		return true, nil
	default:
		// subscription_succeeded and heartbeats
		return false, nil
	}
}

// Close stops Run and the current connection.
func (f *ExchangeFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
