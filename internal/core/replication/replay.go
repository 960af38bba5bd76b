package replication

import (
	"encoding/json"
	"sync"

	"github.com/scenesync/scenesync/internal/core/statesync"
	"github.com/scenesync/scenesync/pkg/encoding"
)

var (
	_ statesync.Sink        = (*ReplayLog)(nil)
	_ encoding.Serializable = (*ReplayLog)(nil)
)

// ReplayLog is the replay sink: an ordered record list that plays back into
// a dispatcher to reproduce a session. Unlike the journal it keeps records
// in memory and playable, so a captured run can seed any number of fresh
// sessions.
type ReplayLog struct {
	mu      sync.Mutex
	records []statesync.CallRecord
}

func NewReplayLog() *ReplayLog {
	return &ReplayLog{}
}

// Consume implements statesync.Sink.
func (r *ReplayLog) Consume(rec statesync.CallRecord) {
	r.mu.Lock()
	r.records = append(r.records, rec)
	r.mu.Unlock()
}

// Records returns a copy of the captured stream in capture order.
func (r *ReplayLog) Records() []statesync.CallRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.records) == 0 {
		return nil
	}
	out := make([]statesync.CallRecord, len(r.records))
	copy(out, r.records)
	return out
}

func (r *ReplayLog) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// Clear drops the captured stream.
func (r *ReplayLog) Clear() {
	r.mu.Lock()
	r.records = nil
	r.mu.Unlock()
}

// Replay plays the captured stream into d in order. The records stay in the
// log, so replaying onto a second session yields the same scene.
func (r *ReplayLog) Replay(d *statesync.Dispatcher) (applied, failed int) {
	return d.ApplyAll(r.Records())
}

// Serialize encodes the record list for a replay file.
func (r *ReplayLog) Serialize() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return json.Marshal(r.records)
}

// Deserialize replaces the log contents with a previously serialized list.
func (r *ReplayLog) Deserialize(data []byte) error {
	var records []statesync.CallRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return err
	}
	r.mu.Lock()
	r.records = records
	r.mu.Unlock()
	return nil
}
