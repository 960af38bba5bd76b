package instance

import "errors"

var (
	// ErrNilTarget signals an operation against a nil object.
	ErrNilTarget = errors.New("instance: target object is nil")
	// ErrUnknownPrefab signals an instantiate against an unregistered prefab id.
	ErrUnknownPrefab = errors.New("instance: unknown prefab id")
	// ErrNotRegistered signals an operation against an object outside the registry.
	ErrNotRegistered = errors.New("instance: object is not registered")
	// ErrParentCycle signals a re-parent that would make a node its own ancestor.
	ErrParentCycle = errors.New("instance: re-parent would create a cycle")
	// ErrSnapshotVersion signals a snapshot from an incompatible format version.
	ErrSnapshotVersion = errors.New("instance: unsupported snapshot version")
)
