package tradelog

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/nats-io/nats.go"

	"github.com/alanyoungcy/tickreplay/internal/domain"
)

// ErrorClass groups transport errors by how the transport reacts to them.
type ErrorClass int

const (
	// ClassOther errors are not recognised; the transport reconnects for them
	// like transient ones but never retries the same request in place.
	ClassOther ErrorClass = iota
	// ClassTransient errors are retried and then trigger a reconnect.
	ClassTransient
	// ClassFatal errors invalidate the client. A producer replaces it, a
	// consumer stops.
	ClassFatal
)

func (c ErrorClass) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassFatal:
		return "fatal"
	default:
		return "other"
	}
}

var fatalErrs = []error{
	domain.ErrFenced,
	domain.ErrSequence,
	domain.ErrUnauthorized,
	nats.ErrAuthorization,
	nats.ErrAuthExpired,
	nats.ErrAuthRevoked,
}

var transientErrs = []error{
	context.DeadlineExceeded,
	io.EOF,
	io.ErrUnexpectedEOF,
	net.ErrClosed,
	syscall.ECONNRESET,
	syscall.ECONNREFUSED,
	syscall.EPIPE,
	nats.ErrTimeout,
	nats.ErrNoResponders,
	nats.ErrNoServers,
	nats.ErrConnectionClosed,
	nats.ErrConnectionReconnecting,
	nats.ErrStaleConnection,
}

// Redis reports server errors as plain strings; match on their prefixes.
var (
	fatalPrefixes     = []string{"NOAUTH", "WRONGPASS", "NOPERM"}
	transientPrefixes = []string{"LOADING", "TRYAGAIN", "CLUSTERDOWN", "BUSY", "MASTERDOWN"}
	transientPhrases  = []string{"connection reset", "connection refused", "broken pipe", "i/o timeout", "use of closed network connection"}
)

// Classify maps err onto an ErrorClass. nil is ClassOther.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassOther
	}
	for _, target := range fatalErrs {
		if errors.Is(err, target) {
			return ClassFatal
		}
	}
	msg := err.Error()
	for _, p := range fatalPrefixes {
		if strings.HasPrefix(msg, p) || strings.Contains(msg, ": "+p) {
			return ClassFatal
		}
	}

	for _, target := range transientErrs {
		if errors.Is(err, target) {
			return ClassTransient
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransient
	}
	for _, p := range transientPrefixes {
		if strings.HasPrefix(msg, p) || strings.Contains(msg, ": "+p) {
			return ClassTransient
		}
	}
	lower := strings.ToLower(msg)
	for _, p := range transientPhrases {
		if strings.Contains(lower, p) {
			return ClassTransient
		}
	}
	return ClassOther
}
