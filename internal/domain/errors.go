package domain

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("rate limited")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidOrder = errors.New("invalid order parameters")
	ErrWSDisconnect = errors.New("websocket disconnected")
	ErrLockHeld     = errors.New("lock already held")
	ErrDuplicate    = errors.New("duplicate request")
	ErrInvalidInput = errors.New("invalid input")

	ErrNoPriceStep      = errors.New("instrument has no price step")
	ErrNoSeedPrice      = errors.New("no price to seed the ladder")
	ErrWindowNotReady   = errors.New("ladder window not initialized")
	ErrUnsortedBook     = errors.New("order book snapshot is not sorted")
	ErrEmptyPosition    = errors.New("no open position")
	ErrNoBestPrice      = errors.New("no best price in order book")
	ErrInstanceNotFound = errors.New("widget instance not found")
	ErrInstanceClosed   = errors.New("widget instance closed")
)
