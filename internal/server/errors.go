package server

import "errors"

var (
	ErrSessionClosed     = errors.New("server: session is closed")
	ErrSessionRunning    = errors.New("server: session is already running")
	ErrSessionNotRunning = errors.New("server: session is not running")
	ErrInvalidConfig     = errors.New("server: invalid configuration")
)
