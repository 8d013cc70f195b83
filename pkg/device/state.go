package device

import (
	"errors"
	"fmt"
)

// State is the device lifecycle state.
type State int

// Lifecycle states. The device starts DORMANT. SHUTDOWN is the cleanup
// state; once cleanup completes the device resets to DORMANT.
const (
	StateDormant State = iota
	StateAdvertising
	StateActive
	StateShutdown
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDormant:
		return "DORMANT"
	case StateAdvertising:
		return "ADVERTISING"
	case StateActive:
		return "ACTIVE"
	case StateShutdown:
		return "SHUTDOWN"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Event is a lifecycle trigger.
type Event int

// Lifecycle events.
const (
	EventActivate Event = iota
	EventClientAuthenticated
	EventClientDisconnected
	EventInactivityTimeout
	EventShutdown
	EventCleanupComplete
)

// String returns the event name.
func (e Event) String() string {
	switch e {
	case EventActivate:
		return "ACTIVATE"
	case EventClientAuthenticated:
		return "CLIENT_AUTHENTICATED"
	case EventClientDisconnected:
		return "CLIENT_DISCONNECTED"
	case EventInactivityTimeout:
		return "INACTIVITY_TIMEOUT"
	case EventShutdown:
		return "SHUTDOWN"
	case EventCleanupComplete:
		return "CLEANUP_COMPLETE"
	default:
		return fmt.Sprintf("Event(%d)", int(e))
	}
}

// Effect is a side effect a transition asks the device to perform. The
// transition function itself never performs I/O.
type Effect int

// Transition effects, executed in the order returned.
const (
	EffectReconcileGrants Effect = iota
	EffectUnlockStorage
	EffectStartGateway
	EffectStartAdvertising
	EffectUpdateAdvertisement
	EffectRevokeAllGrants
	EffectStopAdvertising
	EffectStopGateway
	EffectLockStorage
)

// String returns the effect name.
func (ef Effect) String() string {
	switch ef {
	case EffectReconcileGrants:
		return "RECONCILE_GRANTS"
	case EffectUnlockStorage:
		return "UNLOCK_STORAGE"
	case EffectStartGateway:
		return "START_GATEWAY"
	case EffectStartAdvertising:
		return "START_ADVERTISING"
	case EffectUpdateAdvertisement:
		return "UPDATE_ADVERTISEMENT"
	case EffectRevokeAllGrants:
		return "REVOKE_ALL_GRANTS"
	case EffectStopAdvertising:
		return "STOP_ADVERTISING"
	case EffectStopGateway:
		return "STOP_GATEWAY"
	case EffectLockStorage:
		return "LOCK_STORAGE"
	default:
		return fmt.Sprintf("Effect(%d)", int(ef))
	}
}

// Transition errors.
var (
	// ErrInvalidTransition reports an event with no edge from the
	// current state.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrNotAccepting reports a client authentication while the device
	// is not accepting clients. A dormant device has no listening
	// gateway, so seeing this means a component was left running.
	ErrNotAccepting = errors.New("device is not accepting clients")
)

// transition is the pure lifecycle function. Given the current state, the
// event, and the number of sessions after the event is accounted for, it
// returns the next state and the effects to execute. No I/O happens here.
func transition(s State, e Event, sessions int) (State, []Effect, error) {
	if s == StateShutdown && e != EventCleanupComplete {
		return s, nil, fmt.Errorf("%w: %s in %s", ErrInvalidTransition, e, s)
	}

	switch e {
	case EventActivate:
		if s == StateDormant {
			return StateAdvertising, []Effect{
				EffectReconcileGrants,
				EffectUnlockStorage,
				EffectStartGateway,
				EffectStartAdvertising,
			}, nil
		}

	case EventClientAuthenticated:
		if s == StateAdvertising || s == StateActive {
			return StateActive, []Effect{EffectUpdateAdvertisement}, nil
		}
		return s, nil, fmt.Errorf("%w: authenticated client in %s", ErrNotAccepting, s)

	case EventClientDisconnected:
		if s == StateActive {
			if sessions == 0 {
				return StateAdvertising, []Effect{EffectUpdateAdvertisement}, nil
			}
			return StateActive, []Effect{EffectUpdateAdvertisement}, nil
		}

	case EventInactivityTimeout:
		if s == StateAdvertising {
			return StateDormant, []Effect{
				EffectStopAdvertising,
				EffectStopGateway,
				EffectLockStorage,
			}, nil
		}

	case EventShutdown:
		return StateShutdown, []Effect{
			EffectRevokeAllGrants,
			EffectStopAdvertising,
			EffectStopGateway,
			EffectLockStorage,
		}, nil

	case EventCleanupComplete:
		if s == StateShutdown {
			return StateDormant, nil, nil
		}
	}

	return s, nil, fmt.Errorf("%w: %s in %s", ErrInvalidTransition, e, s)
}
