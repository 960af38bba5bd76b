package statesync

import "errors"

var (
	// ErrNoOpenScope signals End or Cancel without a matching Begin.
	ErrNoOpenScope = errors.New("statesync: no open sync scope")
	// ErrUnknownMethod signals a record whose method has no registered handler.
	ErrUnknownMethod = errors.New("statesync: unknown sync method")
	// ErrDuplicateMethod signals a second handler registration for a method.
	ErrDuplicateMethod = errors.New("statesync: method already registered")
	// ErrUnknownArgKind signals an argument envelope with an unrecognized tag.
	ErrUnknownArgKind = errors.New("statesync: unknown argument kind")
	// ErrArgType signals reading an argument as the wrong type.
	ErrArgType = errors.New("statesync: argument type mismatch")
	// ErrArgCount signals a record with the wrong number of arguments.
	ErrArgCount = errors.New("statesync: wrong argument count")
)
