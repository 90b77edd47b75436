package domain

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrAlreadyRunning = errors.New("robot already running")
	ErrGateBusy       = errors.New("order gate busy")
	ErrStale          = errors.New("stale market data")
	ErrMaxReconnect   = errors.New("exchange signalled max reconnect")
	ErrWSDisconnect   = errors.New("websocket disconnected")
	ErrUnauthorized   = errors.New("unauthorized")
)
