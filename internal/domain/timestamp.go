package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimestampPolicy decides what happens when a trade time cannot be parsed.
type TimestampPolicy int

const (
	// TimestampStrict leaves the time zero; chunking then falls back to
	// sequence order for that trade.
	TimestampStrict TimestampPolicy = iota
	// TimestampNowFallback substitutes the current wall-clock time. Only live
	// ingestion uses it.
	TimestampNowFallback
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp accepts ISO-8601 variants and Unix epoch digits in seconds,
// milliseconds or microseconds.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty", ErrBadTimestamp)
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		switch {
		case len(s) <= 10:
			return time.Unix(n, 0).UTC(), nil
		case len(s) <= 13:
			return time.UnixMilli(n).UTC(), nil
		default:
			return time.UnixMicro(n).UTC(), nil
		}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrBadTimestamp, s)
}

// Resolve parses s and applies the policy on failure. The parse error is
// always returned so callers can log it; the returned time is zero under
// TimestampStrict and now() under TimestampNowFallback.
func (p TimestampPolicy) Resolve(s string, now func() time.Time) (time.Time, error) {
	t, err := ParseTimestamp(s)
	if err == nil {
		return t, nil
	}
	if p == TimestampNowFallback && now != nil {
		return now().UTC(), err
	}
	return time.Time{}, err
}
