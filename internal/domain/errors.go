package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrUnknownPosition   = errors.New("unknown position")
	ErrPositionNotOpen   = errors.New("position is not open")
	ErrOracleUnavailable = errors.New("oracle unavailable")
	ErrStaleOrderBook    = errors.New("order book snapshot is stale")
	ErrWSDisconnect      = errors.New("websocket disconnected")
	ErrLockHeld          = errors.New("lock already held")
	ErrLeaseLost         = errors.New("lock lease lost")
)
