package scene

import "github.com/scenesync/scenesync/internal/core/identity"

// Object is the identity capability carried by every synchronizable scene
// element. Anything registered with a Registry or driven through the instance
// layer exposes this surface explicitly; there is no duck typing or component
// scanning involved in finding it.
type Object interface {
	// UniqueID identifies this object across replicas and across sessions.
	UniqueID() identity.ID
	// CombineID is the unique id of the instance root this object belongs
	// to. For a standalone object it equals UniqueID.
	CombineID() identity.ID
	// PrefabID names the template this object was instantiated from, empty
	// for empty or scene-authored objects.
	PrefabID() string
	// Name is the human readable node name.
	Name() string
}
