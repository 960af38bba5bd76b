// Package identity provides the 128-bit identifiers that name every managed
// scene instance across replicas, plus the deterministic derivation used to
// agree on the ids of nested objects without a handshake.
package identity

import (
	"fmt"

	"github.com/google/uuid"
)

// ID is a 128-bit instance identifier. Ids are globally unique per logical
// instance: every replica that refers to the same instance uses the same ID.
type ID uuid.UUID

// Nil is the zero ID. It never names a live instance.
var Nil = ID(uuid.Nil)

// New returns a fresh random ID.
func New() ID {
	return ID(uuid.New())
}

// Derive deterministically produces a child ID from a parent ID and a local
// salt. Every replica computes the same result, which is what lets objects
// nested under a spawned root agree on their ids with no extra negotiation.
func Derive(parent ID, salt string) ID {
	return ID(uuid.NewSHA1(uuid.UUID(parent), []byte(salt)))
}

// Parse parses the canonical textual form of an ID.
func Parse(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("parse id %q: %w", s, err)
	}
	return ID(u), nil
}

// MustParse is Parse for compile-time-known literals; it panics on bad input.
func MustParse(s string) ID {
	return ID(uuid.MustParse(s))
}

// String returns the canonical textual form.
func (id ID) String() string {
	return uuid.UUID(id).String()
}

// Short returns a log-friendly 8-character prefix.
func (id ID) Short() string {
	return uuid.UUID(id).String()[:8]
}

// IsNil reports whether the ID is the zero value.
func (id ID) IsNil() bool {
	return id == Nil
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(data []byte) error {
	return (*uuid.UUID)(id).UnmarshalText(data)
}
