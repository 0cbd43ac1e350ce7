package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignallerScopes(t *testing.T) {
	m := newTestMaster(t)
	ctx := context.Background()

	top, err := NewSignaller(ctx, m, "", "")
	require.NoError(t, err)
	require.NoError(t, top.SetAction(ctx, SignalDrain))

	// A top-level signal is visible at every scope.
	inst, err := NewSignaller(ctx, m, "wf", "1")
	require.NoError(t, err)
	assert.True(t, inst.IsActionSet(SignalDrain, 1))

	// An instance-level signal is invisible to other instances.
	require.NoError(t, inst.SetAction(ctx, SignalAbort))
	other, err := NewSignaller(ctx, m, "wf", "2")
	require.NoError(t, err)
	assert.False(t, other.IsActionSet(SignalAbort, 1))
	assert.True(t, other.IsActionSet(SignalDrain, 1))
}

func TestSignallerRemoveAction(t *testing.T) {
	m := newTestMaster(t)
	ctx := context.Background()

	sig, err := NewSignaller(ctx, m, "wf", "")
	require.NoError(t, err)
	require.NoError(t, sig.SetAction(ctx, SignalDrain))
	require.NoError(t, sig.RemoveAction(ctx, SignalDrain))

	fresh, err := NewSignaller(ctx, m, "wf", "")
	require.NoError(t, err)
	assert.False(t, fresh.IsActionSet(SignalDrain, 1))
}

func TestExitSignalGenerations(t *testing.T) {
	m := newTestMaster(t)
	ctx := context.Background()

	sig, err := NewSignaller(ctx, m, "", "")
	require.NoError(t, err)
	require.NoError(t, sig.SetActionWithAttributes(ctx, SignalExit,
		map[string]int64{AttrGeneration: 3}))

	fresh, err := NewSignaller(ctx, m, "", "")
	require.NoError(t, err)
	assert.True(t, fresh.IsActionSet(SignalExit, 2), "older cohorts exit")
	assert.False(t, fresh.IsActionSet(SignalExit, 3), "the new cohort keeps running")
	assert.False(t, fresh.IsActionSet(SignalExit, 4))
}

func TestSetAttributeIfMissing(t *testing.T) {
	m := newTestMaster(t)
	ctx := context.Background()

	sig, err := NewSignaller(ctx, m, "wf", "1")
	require.NoError(t, err)
	require.NoError(t, sig.SetAction(ctx, SignalArchive))

	set, err := sig.SetAttributeIfMissing(ctx, SignalArchive, AttrTimestamp, 12345)
	require.NoError(t, err)
	assert.True(t, set)

	set, err = sig.SetAttributeIfMissing(ctx, SignalArchive, AttrTimestamp, 99999)
	require.NoError(t, err)
	assert.False(t, set, "an existing attribute stays untouched")
	v, ok := sig.GetAttribute(SignalArchive, AttrTimestamp)
	assert.True(t, ok)
	assert.Equal(t, int64(12345), v)
}
