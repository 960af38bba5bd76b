package statesync

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scenesync/scenesync/internal/core/observability/log"
)

func TestDispatcherAppliesUnderReplay(t *testing.T) {
	ic := New(log.Nop())
	d := NewDispatcher(ic, log.Nop())

	var sawReplay bool
	require.NoError(t, d.Register("instance.move", func(rec CallRecord) error {
		sawReplay = ic.Replaying()
		return nil
	}))

	require.NoError(t, d.Apply(CallRecord{Method: "instance.move"}))
	assert.True(t, sawReplay)
	assert.Equal(t, uint64(1), d.Stats().Applied)
}

func TestDispatcherNoRebroadcast(t *testing.T) {
	ic := New(log.Nop())
	sink := &captureSink{}
	ic.AddSink(sink, OptNetwork|OptSave)
	d := NewDispatcher(ic, log.Nop())

	// The handler runs the same mutation path a local caller would,
	// sync scope included. Nothing may leave the process again.
	require.NoError(t, d.Register("instance.move", func(rec CallRecord) error {
		ic.Begin()
		ic.End("instance.move", OptDefault)
		return nil
	}))

	require.NoError(t, d.Apply(CallRecord{Method: "instance.move"}))
	assert.Empty(t, sink.recs)
}

func TestDispatcherUnknownMethod(t *testing.T) {
	d := NewDispatcher(New(log.Nop()), log.Nop())
	err := d.Apply(CallRecord{Method: "instance.warp"})
	require.ErrorIs(t, err, ErrUnknownMethod)
	assert.Equal(t, uint64(1), d.Stats().Failed)
}

func TestDispatcherDuplicateRegistration(t *testing.T) {
	d := NewDispatcher(New(log.Nop()), log.Nop())
	require.NoError(t, d.Register("instance.move", func(CallRecord) error { return nil }))
	err := d.Register("instance.move", func(CallRecord) error { return nil })
	require.ErrorIs(t, err, ErrDuplicateMethod)
}

func TestMethodHashRoundTrip(t *testing.T) {
	d := NewDispatcher(New(log.Nop()), log.Nop())
	require.NoError(t, d.Register("instance.spawn", func(CallRecord) error { return nil }))

	m, ok := d.MethodByHash(MethodHash("instance.spawn"))
	require.True(t, ok)
	assert.Equal(t, "instance.spawn", m)

	_, ok = d.MethodByHash(MethodHash("instance.unknown"))
	assert.False(t, ok)
}

func TestApplyAllSkipsFailures(t *testing.T) {
	ic := New(log.Nop())
	d := NewDispatcher(ic, log.Nop())

	var applied []string
	require.NoError(t, d.Register("ok", func(rec CallRecord) error {
		applied = append(applied, rec.Method)
		return nil
	}))
	require.NoError(t, d.Register("bad", func(CallRecord) error {
		return errors.New("boom")
	}))

	okRecs, failed := d.ApplyAll([]CallRecord{
		{Method: "ok"},
		{Method: "bad"},
		{Method: "missing"},
		{Method: "ok"},
	})
	assert.Equal(t, 2, okRecs)
	assert.Equal(t, 2, failed)
	assert.Equal(t, []string{"ok", "ok"}, applied)
}
