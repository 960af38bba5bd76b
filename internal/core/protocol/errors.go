package protocol

import "errors"

var (
	// Transport errors

	ErrAlreadyListening = errors.New("transport already listening")
	ErrNotListening     = errors.New("transport not listening")
	ErrTransportClosed  = errors.New("transport is closed")

	// Connection errors

	ErrConnClosed = errors.New("connection is closed")

	// Frame errors

	ErrFrameTooLarge      = errors.New("frame exceeds size limit")
	ErrUnknownFrameKind   = errors.New("unknown frame kind")
	ErrBadFrame           = errors.New("malformed frame")
	ErrMethodHashMismatch = errors.New("method hash mismatch")
	ErrProtocolVersion    = errors.New("protocol version mismatch")
)
