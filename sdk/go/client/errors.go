package client

import "errors"

var (
	// ErrClientClosed signals use of a client after Close.
	ErrClientClosed = errors.New("client: closed")
	// ErrNotConnected signals an operation that needs a live link to the host.
	ErrNotConnected = errors.New("client: not connected")
	// ErrAlreadyConnected signals a second Connect on a connected client.
	ErrAlreadyConnected = errors.New("client: already connected")
	// ErrReconnectFailed signals that every reconnection attempt was spent.
	ErrReconnectFailed = errors.New("client: reconnection failed")
	// ErrInvalidConfig wraps configuration validation failures.
	ErrInvalidConfig = errors.New("client: invalid configuration")
	// ErrUnknownInstance signals an operation against an id the replica
	// does not track.
	ErrUnknownInstance = errors.New("client: unknown instance id")
)
