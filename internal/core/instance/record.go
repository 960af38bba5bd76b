package instance

import (
	"encoding/json"
	"fmt"

	"github.com/scenesync/scenesync/internal/core/identity"
	"github.com/scenesync/scenesync/internal/core/scene"
	"github.com/scenesync/scenesync/pkg/encoding"
)

var _ encoding.Serializable = (*Snapshot)(nil)

// SnapshotVersion is bumped when the snapshot layout changes incompatibly.
const SnapshotVersion = 1

// State tracks an instance through its lifetime. Destroyed is terminal; a
// destroyed id is never reused.
type State uint8

const (
	StatePending State = iota
	StateLive
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateLive:
		return "live"
	case StateDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Record is the stored shape of one live instance: everything a replica needs
// to rebuild it from nothing. Position and rotation are parent-relative when
// ParentID is set and world-space otherwise; scale is always local.
type Record struct {
	// PrefabID names the template, empty for empty instances.
	PrefabID string `json:"prefabId,omitempty"`
	// Name carries the node name for empty instances.
	Name string `json:"name,omitempty"`
	// ParentID is the unique id of the parent node, nil for scene roots.
	// The parent may be any registered node, including a child buried in
	// another instance's hierarchy.
	ParentID *identity.ID     `json:"parentId,omitempty"`
	Position scene.Vector3    `json:"position"`
	Rotation scene.Quaternion `json:"rotation"`
	Scale    scene.Vector3    `json:"scale"`
	// Nested marks instances that were spawned from inside another sync
	// scope. Rebuilding such an instance pre-seeds the adoption queue so
	// the spawn hook that originally produced it does not duplicate it.
	Nested bool `json:"nested,omitempty"`
}

// SnapshotEntry pairs an instance id with its record.
type SnapshotEntry struct {
	ID identity.ID `json:"id"`
	Record
}

// Snapshot is the full instance table in creation order. Serializing the
// same session state twice yields byte-identical output; the entry order is
// part of the format.
type Snapshot struct {
	Version int             `json:"version"`
	Entries []SnapshotEntry `json:"entries"`
}

// Serialize encodes the snapshot for a save file or a late joiner.
func (s *Snapshot) Serialize() ([]byte, error) {
	if s.Version == 0 {
		s.Version = SnapshotVersion
	}
	return json.Marshal(s)
}

// Deserialize decodes a snapshot, rejecting incompatible versions.
func (s *Snapshot) Deserialize(data []byte) error {
	var decoded Snapshot
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	if decoded.Version != SnapshotVersion {
		return fmt.Errorf("%w: %d", ErrSnapshotVersion, decoded.Version)
	}
	*s = decoded
	return nil
}

// IDs returns the entry ids in table order.
func (s *Snapshot) IDs() []identity.ID {
	out := make([]identity.ID, len(s.Entries))
	for i, e := range s.Entries {
		out[i] = e.ID
	}
	return out
}

// Lookup finds an entry by id.
func (s *Snapshot) Lookup(id identity.ID) (SnapshotEntry, bool) {
	for _, e := range s.Entries {
		if e.ID == id {
			return e, true
		}
	}
	return SnapshotEntry{}, false
}
