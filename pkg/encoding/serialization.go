// Package encoding defines the serialization contract shared by snapshot and
// journal payloads.
package encoding

// Serializable is implemented by values that own their byte form. Serialize
// and Deserialize are inverses up to version defaulting.
type Serializable interface {
	Serialize() ([]byte, error)
	Deserialize(data []byte) error
}
