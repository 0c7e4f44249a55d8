// Package nats implements domain.TradeLog on NATS JetStream. Trades are
// published to one subject of one stream; stream sequences are the offsets
// and committed offsets live in a key-value bucket.
package nats

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/alanyoungcy/tickreplay/internal/domain"
)

// keyHeader carries the record key on each message.
const keyHeader = "Trade-Key"

// Config holds connection and naming parameters.
type Config struct {
	URL            string
	User           string
	Password       string
	Token          string
	Stream         string
	Subject        string
	Bucket         string
	Replicas       int
	ConnectTimeout time.Duration
	// FetchWait is how long a read waits for the first new message.
	FetchWait time.Duration
}

// TradeLog is a JetStream-backed domain.TradeLog.
type TradeLog struct {
	nc  *nats.Conn
	js  nats.JetStreamContext
	kv  nats.KeyValue
	cfg Config

	sub  *nats.Subscription
	next uint64 // stream sequence the subscription delivers next
}

// Connect opens a connection, making sure the stream and bucket exist.
// Reconnects are left to the caller's backoff policy.
func Connect(ctx context.Context, cfg Config) (*TradeLog, error) {
	if cfg.FetchWait <= 0 {
		cfg.FetchWait = time.Second
	}
	if cfg.Replicas <= 0 {
		cfg.Replicas = 1
	}

	opts := []nats.Option{
		nats.Name("tickreplay"),
		nats.NoReconnect(),
	}
	if cfg.ConnectTimeout > 0 {
		opts = append(opts, nats.Timeout(cfg.ConnectTimeout))
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats: connect %s: %w", cfg.URL, err)
	}
	l, err := setup(ctx, nc, cfg)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return l, nil
}

func setup(ctx context.Context, nc *nats.Conn, cfg Config) (*TradeLog, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("nats: jetstream: %w", err)
	}

	if _, err := js.StreamInfo(cfg.Stream, nats.Context(ctx)); err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			return nil, fmt.Errorf("nats: stream info %s: %w", cfg.Stream, err)
		}
		_, err = js.AddStream(&nats.StreamConfig{
			Name:      cfg.Stream,
			Subjects:  []string{cfg.Subject},
			Storage:   nats.FileStorage,
			Retention: nats.LimitsPolicy,
			Replicas:  cfg.Replicas,
		}, nats.Context(ctx))
		if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			return nil, fmt.Errorf("nats: add stream %s: %w", cfg.Stream, err)
		}
	}

	kv, err := js.KeyValue(cfg.Bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{Bucket: cfg.Bucket, Replicas: cfg.Replicas})
	}
	if err != nil {
		return nil, fmt.Errorf("nats: offsets bucket %s: %w", cfg.Bucket, err)
	}

	return &TradeLog{nc: nc, js: js, kv: kv, cfg: cfg}, nil
}

// NewTradeLogDialer returns a dialer that opens a new connection per client.
func NewTradeLogDialer(cfg Config) domain.TradeLogDialer {
	return func(ctx context.Context) (domain.TradeLog, error) {
		return Connect(ctx, cfg)
	}
}

// Append publishes value and returns its stream sequence. The key doubles as
// the JetStream message id, so a retried publish of the same trade inside
// the duplicate window is stored once.
func (l *TradeLog) Append(ctx context.Context, key string, value []byte) (string, error) {
	msg := nats.NewMsg(l.cfg.Subject)
	msg.Data = value
	msg.Header.Set(keyHeader, key)

	ack, err := l.js.PublishMsg(msg, nats.Context(ctx), nats.MsgId(key))
	if err != nil {
		return "", fmt.Errorf("nats: publish %s: %w", l.cfg.Subject, err)
	}
	return formatOffset(ack.Sequence), nil
}

// Read returns up to max messages after the given sequence. Consecutive reads
// that continue where the previous one ended reuse the same ordered consumer.
func (l *TradeLog) Read(ctx context.Context, after string, max int) ([]domain.LogRecord, error) {
	start, err := startSequence(after)
	if err != nil {
		return nil, err
	}
	if l.sub == nil || l.next != start {
		if err := l.resubscribe(start); err != nil {
			return nil, err
		}
	}

	var out []domain.LogRecord
	wait := l.cfg.FetchWait
	for len(out) < max {
		mctx, cancel := context.WithTimeout(ctx, wait)
		msg, err := l.sub.NextMsgWithContext(mctx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout) {
				return out, nil
			}
			return out, fmt.Errorf("nats: next message: %w", err)
		}

		meta, err := msg.Metadata()
		if err != nil {
			return out, fmt.Errorf("nats: message metadata: %w", err)
		}
		seq := meta.Sequence.Stream
		l.next = seq + 1
		out = append(out, domain.LogRecord{
			Offset: formatOffset(seq),
			Key:    msg.Header.Get(keyHeader),
			Value:  msg.Data,
		})
		// Drain what is already buffered without waiting long.
		wait = 10 * time.Millisecond
	}
	return out, nil
}

func (l *TradeLog) resubscribe(start uint64) error {
	if l.sub != nil {
		_ = l.sub.Unsubscribe()
		l.sub = nil
	}
	sub, err := l.js.SubscribeSync(l.cfg.Subject, nats.OrderedConsumer(), nats.StartSequence(start))
	if err != nil {
		return fmt.Errorf("nats: subscribe %s from %d: %w", l.cfg.Subject, start, err)
	}
	l.sub = sub
	l.next = start
	return nil
}

// Commit records offset for group in the bucket.
func (l *TradeLog) Commit(_ context.Context, group, offset string) error {
	if _, err := l.kv.PutString(group, offset); err != nil {
		return fmt.Errorf("nats: commit %s: %w", group, err)
	}
	return nil
}

// Committed returns the last offset committed for group.
func (l *TradeLog) Committed(_ context.Context, group string) (string, error) {
	entry, err := l.kv.Get(group)
	if errors.Is(err, nats.ErrKeyNotFound) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("nats: committed %s: %w", group, err)
	}
	return string(entry.Value()), nil
}

// Close drops the subscription and the connection.
func (l *TradeLog) Close() error {
	if l.sub != nil {
		_ = l.sub.Unsubscribe()
		l.sub = nil
	}
	l.nc.Close()
	return nil
}

func formatOffset(seq uint64) string {
	return strconv.FormatUint(seq, 10)
}

// startSequence converts the exclusive "after" offset into the first stream
// sequence to deliver. Stream sequences start at 1.
func startSequence(after string) (uint64, error) {
	if after == "" {
		return 1, nil
	}
	seq, err := strconv.ParseUint(after, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("nats: bad offset %q: %w", after, err)
	}
	return seq + 1, nil
}

// Compile-time interface check.
var _ domain.TradeLog = (*TradeLog)(nil)
