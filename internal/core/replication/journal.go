package replication

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/scenesync/scenesync/internal/core/observability/log"
	"github.com/scenesync/scenesync/internal/core/protocol"
	"github.com/scenesync/scenesync/internal/core/statesync"
	"github.com/scenesync/scenesync/pkg/encoding"
	"github.com/scenesync/scenesync/pkg/generic"
)

var _ statesync.Sink = (*Journal)(nil)

const (
	entryCall     = "call"
	entryKeyframe = "keyframe"
)

// JournalEntry is one line of the log: a captured call or a full keyframe
// snapshot. Lines are self-contained JSON objects, one per line.
type JournalEntry struct {
	Kind     string                `json:"kind"`
	Seq      uint64                `json:"seq"`
	At       time.Time             `json:"at"`
	Record   *statesync.CallRecord `json:"record,omitempty"`
	Snapshot json.RawMessage       `json:"snapshot,omitempty"`
}

// Keyframe is one retained full snapshot.
type Keyframe struct {
	Seq        uint64
	Snapshot   []byte
	RecordedAt time.Time
}

type JournalStats struct {
	Appended  uint64
	Keyframes uint64
	Evicted   uint64
}

// Journal is the save sink: an append-only JSON-lines change log plus
// periodic keyframes. A keyframe supersedes everything before it, so restore
// cost stays proportional to the tail, not the session length. Recent
// keyframes are also retained in memory for resync without touching disk.
type Journal struct {
	log     log.Log
	buffers *generic.Pool[*bytes.Buffer]

	mu        sync.Mutex
	w         io.Writer
	seq       uint64
	keyframes []Keyframe
	maxFrames int
	maxAge    time.Duration
	closed    bool
	stats     JournalStats
}

// NewJournal writes JSON lines to w and retains up to keyframeCapacity
// in-memory keyframes no older than maxAge. Zero maxAge disables age
// pruning; zero capacity disables retention entirely.
func NewJournal(w io.Writer, keyframeCapacity int, maxAge time.Duration, logger log.Log) *Journal {
	if keyframeCapacity < 0 {
		keyframeCapacity = 0
	}
	if maxAge < 0 {
		maxAge = 0
	}
	return &Journal{
		log:       logger.With(log.String("component", "replication.journal")),
		buffers:   generic.NewPool(func() *bytes.Buffer { return new(bytes.Buffer) }),
		w:         w,
		keyframes: make([]Keyframe, 0, keyframeCapacity),
		maxFrames: keyframeCapacity,
		maxAge:    maxAge,
	}
}

// Consume implements statesync.Sink: one captured record, one log line.
func (j *Journal) Consume(rec statesync.CallRecord) {
	j.mu.Lock()
	defer j.mu.Unlock()

	entry := JournalEntry{Kind: entryCall, Record: &rec}
	if err := j.appendLocked(&entry); err != nil {
		j.log.Error("append record", log.Error(err), log.String("method", rec.Method))
	}
}

// Keyframe serializes snap into a keyframe line and retains it in the
// in-memory window, evicting frames beyond capacity or age.
func (j *Journal) Keyframe(snap encoding.Serializable) error {
	payload, err := snap.Serialize()
	if err != nil {
		return fmt.Errorf("serialize keyframe: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	entry := JournalEntry{Kind: entryKeyframe, Snapshot: payload}
	if err := j.appendLocked(&entry); err != nil {
		return err
	}
	j.retainLocked(Keyframe{Seq: entry.Seq, Snapshot: payload, RecordedAt: entry.At})
	j.stats.Keyframes++
	return nil
}

// Keyframes returns a copy of the retained window, oldest first.
func (j *Journal) Keyframes() []Keyframe {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.keyframes) == 0 {
		return nil
	}
	frames := make([]Keyframe, len(j.keyframes))
	copy(frames, j.keyframes)
	return frames
}

// Window reports the retained keyframe range by journal sequence.
func (j *Journal) Window() (size int, oldest, newest uint64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	size = len(j.keyframes)
	if size == 0 {
		return size, 0, 0
	}
	return size, j.keyframes[0].Seq, j.keyframes[size-1].Seq
}

func (j *Journal) Stats() JournalStats {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.stats
}

// Close stops the journal; later appends fail with ErrJournalClosed. The
// underlying writer belongs to the caller and stays open.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.closed = true
	return nil
}

func (j *Journal) appendLocked(entry *JournalEntry) error {
	if j.closed {
		return ErrJournalClosed
	}
	j.seq++
	entry.Seq = j.seq
	entry.At = time.Now().UTC()

	buf := j.buffers.Get()
	buf.Reset()
	defer j.buffers.Put(buf)

	if err := json.NewEncoder(buf).Encode(entry); err != nil {
		return fmt.Errorf("encode journal entry: %w", err)
	}
	if _, err := j.w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write journal entry: %w", err)
	}
	j.stats.Appended++
	return nil
}

// retainLocked keeps the window bounded, adapting eviction to both age and
// count in that order.
func (j *Journal) retainLocked(frame Keyframe) {
	if j.maxFrames == 0 {
		j.keyframes = j.keyframes[:0]
		return
	}
	j.keyframes = append(j.keyframes, frame)

	if j.maxAge > 0 {
		cutoff := frame.RecordedAt.Add(-j.maxAge)
		idx := 0
		for idx < len(j.keyframes) && j.keyframes[idx].RecordedAt.Before(cutoff) {
			idx++
		}
		if idx > 0 {
			j.stats.Evicted += uint64(idx)
			copy(j.keyframes, j.keyframes[idx:])
			j.keyframes = j.keyframes[:len(j.keyframes)-idx]
		}
	}

	if len(j.keyframes) > j.maxFrames {
		overflow := len(j.keyframes) - j.maxFrames
		j.stats.Evicted += uint64(overflow)
		copy(j.keyframes, j.keyframes[overflow:])
		j.keyframes = j.keyframes[:len(j.keyframes)-overflow]
	}
}

// LoadResult is a journal stream reduced for restore: the newest keyframe
// payload (nil when the log has none) and the call records appended after
// it, in order.
type LoadResult struct {
	Snapshot []byte
	Tail     []statesync.CallRecord
	Entries  int
}

// Load scans a journal stream into a LoadResult. Restoring the keyframe and
// then applying the tail reproduces the state the journal captured;
// re-running the same load is idempotent because reconciliation and the
// dispatcher both treat already-satisfied operations as no-ops.
func Load(r io.Reader) (*LoadResult, error) {
	res := &LoadResult{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), protocol.MaxFrameSize)

	line := 0
	for scanner.Scan() {
		line++
		data := bytes.TrimSpace(scanner.Bytes())
		if len(data) == 0 {
			continue
		}

		var entry JournalEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrBadJournalLine, line, err)
		}

		switch entry.Kind {
		case entryKeyframe:
			res.Snapshot = append([]byte(nil), entry.Snapshot...)
			res.Tail = res.Tail[:0]
		case entryCall:
			if entry.Record == nil {
				return nil, fmt.Errorf("%w: line %d: call without record", ErrBadJournalLine, line)
			}
			res.Tail = append(res.Tail, *entry.Record)
		default:
			return nil, fmt.Errorf("%w: line %d: kind %q", ErrBadJournalLine, line, entry.Kind)
		}
		res.Entries++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan journal: %w", err)
	}
	return res, nil
}
