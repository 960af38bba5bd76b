package replication

import "errors"

var (
	// ErrHubClosed rejects operations on a hub after Close.
	ErrHubClosed = errors.New("replication: hub is closed")
	// ErrJournalClosed rejects appends to a journal after Close.
	ErrJournalClosed = errors.New("replication: journal is closed")
	// ErrBadJournalLine marks a corrupt or foreign journal stream.
	ErrBadJournalLine = errors.New("replication: malformed journal line")
)
