package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionActivateFromDormant(t *testing.T) {
	next, effects, err := transition(StateDormant, EventActivate, 0)
	require.NoError(t, err)
	assert.Equal(t, StateAdvertising, next)
	assert.Equal(t, []Effect{
		EffectReconcileGrants,
		EffectUnlockStorage,
		EffectStartGateway,
		EffectStartAdvertising,
	}, effects)
}

func TestTransitionActivateInvalidElsewhere(t *testing.T) {
	for _, s := range []State{StateAdvertising, StateActive} {
		_, _, err := transition(s, EventActivate, 0)
		assert.ErrorIs(t, err, ErrInvalidTransition, s.String())
	}
}

func TestTransitionClientAuthenticated(t *testing.T) {
	next, _, err := transition(StateAdvertising, EventClientAuthenticated, 1)
	require.NoError(t, err)
	assert.Equal(t, StateActive, next)

	next, _, err = transition(StateActive, EventClientAuthenticated, 2)
	require.NoError(t, err)
	assert.Equal(t, StateActive, next)
}

func TestTransitionRejectsAuthWhileDormant(t *testing.T) {
	_, _, err := transition(StateDormant, EventClientAuthenticated, 1)
	assert.ErrorIs(t, err, ErrNotAccepting)
}

func TestTransitionClientDisconnected(t *testing.T) {
	next, _, err := transition(StateActive, EventClientDisconnected, 1)
	require.NoError(t, err)
	assert.Equal(t, StateActive, next, "sessions remain, stay active")

	next, _, err = transition(StateActive, EventClientDisconnected, 0)
	require.NoError(t, err)
	assert.Equal(t, StateAdvertising, next, "last session gone, back to advertising")
}

func TestTransitionInactivityTimeout(t *testing.T) {
	next, effects, err := transition(StateAdvertising, EventInactivityTimeout, 0)
	require.NoError(t, err)
	assert.Equal(t, StateDormant, next)
	assert.Equal(t, []Effect{
		EffectStopAdvertising,
		EffectStopGateway,
		EffectLockStorage,
	}, effects)

	_, _, err = transition(StateActive, EventInactivityTimeout, 1)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTransitionShutdownFromAnyLiveState(t *testing.T) {
	for _, s := range []State{StateDormant, StateAdvertising, StateActive} {
		next, effects, err := transition(s, EventShutdown, 0)
		require.NoError(t, err, s.String())
		assert.Equal(t, StateShutdown, next)
		assert.Contains(t, effects, EffectRevokeAllGrants)
		assert.Contains(t, effects, EffectLockStorage)
	}
}

func TestTransitionShutdownRejectsLifecycleEvents(t *testing.T) {
	for _, e := range []Event{EventActivate, EventClientAuthenticated, EventClientDisconnected, EventInactivityTimeout, EventShutdown} {
		_, _, err := transition(StateShutdown, e, 0)
		assert.ErrorIs(t, err, ErrInvalidTransition, e.String())
	}
}

func TestTransitionCleanupCompleteResetsToDormant(t *testing.T) {
	next, effects, err := transition(StateShutdown, EventCleanupComplete, 0)
	require.NoError(t, err)
	assert.Equal(t, StateDormant, next)
	assert.Empty(t, effects)

	// Cleanup complete only makes sense out of SHUTDOWN.
	for _, s := range []State{StateDormant, StateAdvertising, StateActive} {
		_, _, err := transition(s, EventCleanupComplete, 0)
		assert.ErrorIs(t, err, ErrInvalidTransition, s.String())
	}
}

func TestTransitionIsPure(t *testing.T) {
	// Same inputs always produce the same outputs.
	for i := 0; i < 3; i++ {
		next, effects, err := transition(StateDormant, EventActivate, 0)
		require.NoError(t, err)
		assert.Equal(t, StateAdvertising, next)
		assert.Len(t, effects, 4)
	}
}

func TestStateAndEventStrings(t *testing.T) {
	assert.Equal(t, "DORMANT", StateDormant.String())
	assert.Equal(t, "ADVERTISING", StateAdvertising.String())
	assert.Equal(t, "ACTIVE", StateActive.String())
	assert.Equal(t, "SHUTDOWN", StateShutdown.String())
	assert.Equal(t, "CLIENT_AUTHENTICATED", EventClientAuthenticated.String())
	assert.Equal(t, "CLEANUP_COMPLETE", EventCleanupComplete.String())
}
