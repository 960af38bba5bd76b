// Package statesync captures scene mutations as replayable call records and
// fans them out to interested sinks. The network layer, the save system and
// the replay recorder all consume the same stream; applying a stream on
// another replica reproduces the originating scene.
package statesync

// Options controls where a captured call is forwarded and whether nesting
// suppresses it.
type Options uint8

const (
	// OptNetwork forwards the record to network sinks.
	OptNetwork Options = 1 << iota
	// OptSave forwards the record to save and replay sinks.
	OptSave
	// OptAnyDepth forwards the record even when it was captured inside an
	// enclosing sync scope. Without it, nested calls are suppressed because
	// replaying the outermost call reproduces them as side effects.
	OptAnyDepth
)

// OptDefault targets every sink and honors nesting suppression.
const OptDefault = OptNetwork | OptSave

func (o Options) Network() bool  { return o&OptNetwork != 0 }
func (o Options) Save() bool     { return o&OptSave != 0 }
func (o Options) AnyDepth() bool { return o&OptAnyDepth != 0 }

// Targets strips behavior bits, leaving only the sink-facing flags.
func (o Options) Targets() Options { return o & (OptNetwork | OptSave) }
