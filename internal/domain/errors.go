package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrSessionExists    = errors.New("session already running")
	ErrSessionNotFound  = errors.New("session not found")
	ErrInvalidRequest   = errors.New("invalid session request")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrFenced           = errors.New("producer fenced")
	ErrSequence         = errors.New("out of sequence")
	ErrStopped          = errors.New("transport stopped")
	ErrSinkClosed       = errors.New("sink closed")
	ErrMissingOrderBook = errors.New("missing order book")
	ErrBadTimestamp     = errors.New("unparseable timestamp")
	ErrLockHeld         = errors.New("lock already held")
)
