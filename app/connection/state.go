// Package connection models the lifecycle of the single WhatsApp transport session.
package connection

import "time"

// StateKind enumerates the connection states.
type StateKind string

const (
	StateIdle           StateKind = "idle"
	StateInitializing   StateKind = "initializing"
	StateQRAvailable    StateKind = "qr-available"
	StateAuthenticating StateKind = "authenticating"
	StateConnected      StateKind = "connected"
	StateDisconnected   StateKind = "disconnected"
	StateError          StateKind = "error"
)

// AllStateKinds lists every state, in lifecycle order.
var AllStateKinds = []StateKind{
	StateIdle,
	StateInitializing,
	StateQRAvailable,
	StateAuthenticating,
	StateConnected,
	StateDisconnected,
	StateError,
}

// AccountInfo describes the paired WhatsApp account.
type AccountInfo struct {
	JID      string `json:"jid"`
	PushName string `json:"push_name,omitempty"`
	Platform string `json:"platform,omitempty"`
}

// State is a snapshot of the connection. Payload fields are only set for the kinds they belong to:
// QRCode/QRAttempt for qr-available, Account for connected, Reason for disconnected and
// Message/Recoverable for error.
type State struct {
	Kind        StateKind    `json:"state"`
	QRCode      string       `json:"qr_code,omitempty"`
	QRAttempt   int          `json:"qr_attempt,omitempty"`
	Account     *AccountInfo `json:"account,omitempty"`
	Reason      string       `json:"reason,omitempty"`
	Message     string       `json:"message,omitempty"`
	Recoverable bool         `json:"recoverable,omitempty"`
	Since       time.Time    `json:"since"`
}

// IsConnected reports whether sends may be issued in this state.
func (s State) IsConnected() bool { return s.Kind == StateConnected }

// IsFrozen reports whether dispatch is blocked until an operator reconnects.
func (s State) IsFrozen() bool { return s.Kind == StateError && !s.Recoverable }

func idle(now time.Time) State { return State{Kind: StateIdle, Since: now} }
