package connection

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidTransition = errors.New("invalid connection state transition")
	ErrStickyError       = errors.New("connection is in an unrecoverable error state, reset required")
	ErrUnknownEvent      = errors.New("unknown connection event")
)

// Transition computes the state reached from cur when ev arrives. It never mutates cur; on
// error the caller keeps cur.
func Transition(cur State, ev Event, now time.Time) (State, error) {
	switch ev.Kind {
	case EventReset:
		return idle(now), nil
	case EventError:
		if cur.IsFrozen() && ev.Recoverable {
			return cur, ErrStickyError
		}
		return State{Kind: StateError, Message: ev.Message, Recoverable: ev.Recoverable, Since: now}, nil
	case EventInitialize, EventQRReceived, EventQRScanned, EventConnected, EventDisconnected:
	default:
		return cur, fmt.Errorf("%w: %s", ErrUnknownEvent, ev.Kind)
	}

	switch cur.Kind {
	case StateIdle, StateDisconnected:
		if ev.Kind == EventInitialize {
			return State{Kind: StateInitializing, Since: now}, nil
		}

	case StateInitializing:
		switch ev.Kind {
		case EventQRReceived:
			return State{Kind: StateQRAvailable, QRCode: ev.QRCode, QRAttempt: 1, Since: now}, nil
		case EventConnected:
			// A stored session logs in without pairing.
			return State{Kind: StateConnected, Account: ev.Account, Since: now}, nil
		case EventDisconnected:
			return State{Kind: StateDisconnected, Reason: ev.Reason, Since: now}, nil
		}

	case StateQRAvailable:
		switch ev.Kind {
		case EventQRReceived:
			return State{Kind: StateQRAvailable, QRCode: ev.QRCode, QRAttempt: cur.QRAttempt + 1, Since: now}, nil
		case EventQRScanned:
			return State{Kind: StateAuthenticating, Since: now}, nil
		case EventDisconnected:
			return State{Kind: StateDisconnected, Reason: ev.Reason, Since: now}, nil
		}

	case StateAuthenticating:
		switch ev.Kind {
		case EventConnected:
			return State{Kind: StateConnected, Account: ev.Account, Since: now}, nil
		case EventDisconnected:
			return State{Kind: StateDisconnected, Reason: ev.Reason, Since: now}, nil
		}

	case StateConnected:
		if ev.Kind == EventDisconnected {
			return State{Kind: StateDisconnected, Reason: ev.Reason, Since: now}, nil
		}

	case StateError:
		if ev.Kind == EventInitialize {
			if !cur.Recoverable {
				return cur, ErrStickyError
			}
			return State{Kind: StateInitializing, Since: now}, nil
		}
	}

	return cur, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, ev.Kind, cur.Kind)
}
