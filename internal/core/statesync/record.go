package statesync

import (
	"encoding/json"
	"fmt"

	"github.com/scenesync/scenesync/internal/core/identity"
	"github.com/scenesync/scenesync/internal/core/scene"
)

// Argument kind tags used on the wire and in save files.
const (
	kindID     = "id"
	kindString = "str"
	kindFloat  = "f64"
	kindInt    = "i64"
	kindBool   = "bool"
	kindVec3   = "vec3"
	kindQuat   = "quat"
)

// Arg is one typed argument of a captured call. The envelope keeps a kind tag
// next to the value so records decode into the same concrete types on every
// replica, independent of field ordering or numeric defaults.
type Arg struct {
	T string `json:"t"`
	V any    `json:"v"`
}

func ArgID(id identity.ID) Arg           { return Arg{T: kindID, V: id} }
func ArgString(s string) Arg             { return Arg{T: kindString, V: s} }
func ArgFloat(f float64) Arg             { return Arg{T: kindFloat, V: f} }
func ArgInt(i int64) Arg                 { return Arg{T: kindInt, V: i} }
func ArgBool(b bool) Arg                 { return Arg{T: kindBool, V: b} }
func ArgVec3(v scene.Vector3) Arg        { return Arg{T: kindVec3, V: v} }
func ArgQuat(q scene.Quaternion) Arg     { return Arg{T: kindQuat, V: q} }

// UnmarshalJSON decodes the value into the concrete type named by the kind
// tag, so getters behave identically for freshly built and wire-decoded args.
func (a *Arg) UnmarshalJSON(data []byte) error {
	var raw struct {
		T string          `json:"t"`
		V json.RawMessage `json:"v"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	a.T = raw.T
	switch raw.T {
	case kindID:
		var id identity.ID
		if err := json.Unmarshal(raw.V, &id); err != nil {
			return err
		}
		a.V = id
	case kindString:
		var s string
		if err := json.Unmarshal(raw.V, &s); err != nil {
			return err
		}
		a.V = s
	case kindFloat:
		var f float64
		if err := json.Unmarshal(raw.V, &f); err != nil {
			return err
		}
		a.V = f
	case kindInt:
		var i int64
		if err := json.Unmarshal(raw.V, &i); err != nil {
			return err
		}
		a.V = i
	case kindBool:
		var b bool
		if err := json.Unmarshal(raw.V, &b); err != nil {
			return err
		}
		a.V = b
	case kindVec3:
		var v scene.Vector3
		if err := json.Unmarshal(raw.V, &v); err != nil {
			return err
		}
		a.V = v
	case kindQuat:
		var q scene.Quaternion
		if err := json.Unmarshal(raw.V, &q); err != nil {
			return err
		}
		a.V = q
	default:
		return fmt.Errorf("%w: %q", ErrUnknownArgKind, raw.T)
	}
	return nil
}

func (a Arg) AsID() (identity.ID, error) {
	if id, ok := a.V.(identity.ID); ok {
		return id, nil
	}
	return identity.Nil, fmt.Errorf("%w: want %s, have %s", ErrArgType, kindID, a.T)
}

func (a Arg) AsString() (string, error) {
	if s, ok := a.V.(string); ok {
		return s, nil
	}
	return "", fmt.Errorf("%w: want %s, have %s", ErrArgType, kindString, a.T)
}

func (a Arg) AsFloat() (float64, error) {
	if f, ok := a.V.(float64); ok {
		return f, nil
	}
	return 0, fmt.Errorf("%w: want %s, have %s", ErrArgType, kindFloat, a.T)
}

func (a Arg) AsInt() (int64, error) {
	if i, ok := a.V.(int64); ok {
		return i, nil
	}
	return 0, fmt.Errorf("%w: want %s, have %s", ErrArgType, kindInt, a.T)
}

func (a Arg) AsBool() (bool, error) {
	if b, ok := a.V.(bool); ok {
		return b, nil
	}
	return false, fmt.Errorf("%w: want %s, have %s", ErrArgType, kindBool, a.T)
}

func (a Arg) AsVec3() (scene.Vector3, error) {
	if v, ok := a.V.(scene.Vector3); ok {
		return v, nil
	}
	return scene.Vector3{}, fmt.Errorf("%w: want %s, have %s", ErrArgType, kindVec3, a.T)
}

func (a Arg) AsQuat() (scene.Quaternion, error) {
	if q, ok := a.V.(scene.Quaternion); ok {
		return q, nil
	}
	return scene.Quaternion{}, fmt.Errorf("%w: want %s, have %s", ErrArgType, kindQuat, a.T)
}

// CallRecord is one captured sync call: the mutation method, its typed
// arguments, the forwarding options it was emitted with and the scope depth
// at capture time. Depth 1 is a top-level call; anything deeper was a side
// effect of an enclosing call.
type CallRecord struct {
	Method  string  `json:"method"`
	Args    []Arg   `json:"args,omitempty"`
	Options Options `json:"options"`
	Depth   int     `json:"depth"`
}

// Nested reports whether the record was captured inside an enclosing scope.
func (r CallRecord) Nested() bool { return r.Depth > 1 }

// ArgCount returns ErrArgCount unless the record carries exactly n args.
func (r CallRecord) ArgCount(n int) error {
	if len(r.Args) != n {
		return fmt.Errorf("%w: %s wants %d, have %d", ErrArgCount, r.Method, n, len(r.Args))
	}
	return nil
}
