package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrStaleSnapshot = errors.New("stale snapshot")
	ErrInvalidLevels = errors.New("invalid orderbook levels")
	ErrWSDisconnect  = errors.New("websocket disconnected")
)
