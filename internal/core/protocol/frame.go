// Package protocol carries captured sync streams between replicas. A frame
// is the unit of exchange: a hello during session join, a single call
// record, a full snapshot for late joiners, or a request for one. Transports
// move opaque frame bytes; the codec gives them shape.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/scenesync/scenesync/internal/core/identity"
	"github.com/scenesync/scenesync/internal/core/statesync"
)

// Version is the wire protocol version exchanged in hello frames.
const Version = 1

// MaxFrameSize bounds a single frame on the wire. Snapshots of large scenes
// stay well under this; anything bigger is a corrupt length prefix.
const MaxFrameSize = 16 << 20

// FrameKind tags what a frame carries.
type FrameKind uint8

const (
	// FrameHello opens a session: protocol version and replica identity.
	FrameHello FrameKind = iota + 1
	// FrameCall carries one captured call record.
	FrameCall
	// FrameSnapshot carries a serialized instance table.
	FrameSnapshot
	// FrameSnapshotRequest asks the serving side for a fresh instance table.
	FrameSnapshotRequest
)

func (k FrameKind) String() string {
	switch k {
	case FrameHello:
		return "hello"
	case FrameCall:
		return "call"
	case FrameSnapshot:
		return "snapshot"
	case FrameSnapshotRequest:
		return "snapshotRequest"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Frame is the wire envelope. Origin names the replica that produced the
// content so the hub never echoes a frame back to its source; Seq increases
// per origin for duplicate and gap detection in logs.
type Frame struct {
	Kind   FrameKind   `json:"kind"`
	Origin identity.ID `json:"origin"`
	Seq    uint64      `json:"seq"`

	// Proto is set on hello frames.
	Proto int `json:"proto,omitempty"`

	// Record and MethodHash are set on call frames. The hash is redundant
	// with Record.Method and exists to catch corruption and forged method
	// strings cheaply before dispatch.
	MethodHash uint64                `json:"methodHash,omitempty"`
	Record     *statesync.CallRecord `json:"record,omitempty"`

	// Snapshot is set on snapshot frames.
	Snapshot json.RawMessage `json:"snapshot,omitempty"`
}

// NewHelloFrame builds the session-opening frame for a replica.
func NewHelloFrame(origin identity.ID) *Frame {
	return &Frame{Kind: FrameHello, Origin: origin, Proto: Version}
}

// NewCallFrame wraps a call record for the wire, stamping its method hash.
func NewCallFrame(origin identity.ID, seq uint64, rec statesync.CallRecord) *Frame {
	return &Frame{
		Kind:       FrameCall,
		Origin:     origin,
		Seq:        seq,
		MethodHash: statesync.MethodHash(rec.Method),
		Record:     &rec,
	}
}

// NewSnapshotFrame wraps a serialized instance table for the wire.
func NewSnapshotFrame(origin identity.ID, seq uint64, snapshot []byte) *Frame {
	return &Frame{Kind: FrameSnapshot, Origin: origin, Seq: seq, Snapshot: snapshot}
}

// NewSnapshotRequestFrame asks whoever serves state on the link to answer
// with a snapshot frame.
func NewSnapshotRequestFrame(origin identity.ID, seq uint64) *Frame {
	return &Frame{Kind: FrameSnapshotRequest, Origin: origin, Seq: seq}
}

// Validate checks structural integrity, including the call method hash.
func (f *Frame) Validate() error {
	switch f.Kind {
	case FrameHello:
		if f.Proto != Version {
			return fmt.Errorf("%w: have %d, want %d", ErrProtocolVersion, f.Proto, Version)
		}
	case FrameCall:
		if f.Record == nil {
			return fmt.Errorf("%w: call frame without record", ErrBadFrame)
		}
		if f.MethodHash != statesync.MethodHash(f.Record.Method) {
			return fmt.Errorf("%w: %s", ErrMethodHashMismatch, f.Record.Method)
		}
	case FrameSnapshot:
		if len(f.Snapshot) == 0 {
			return fmt.Errorf("%w: snapshot frame without payload", ErrBadFrame)
		}
	case FrameSnapshotRequest:
		// Kind and origin are the whole message.
	default:
		return fmt.Errorf("%w: %d", ErrUnknownFrameKind, f.Kind)
	}
	return nil
}

// Codec encodes frames for a transport.
type Codec interface {
	Name() string
	Encode(f *Frame) ([]byte, error)
	Decode(data []byte) (*Frame, error)
}

// JSONCodec is the default codec: self-describing, debuggable with any
// traffic dump, fast enough for scene mutation rates.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Encode(f *Frame) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(f)
}

func (JSONCodec) Decode(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}
