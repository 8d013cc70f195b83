// Package session tracks authenticated client sessions.
package session

import (
	"time"

	"github.com/google/uuid"
)

// Session is one authenticated client connection.
//
// Sessions are immutable except for the activity timestamp, which the
// registry owns. Callers receive copies and cannot mutate registry state.
type Session struct {
	// ID uniquely identifies the session for its lifetime.
	ID string

	// Identity is the CommonName from the client certificate.
	Identity string

	// Address is the client IP the session is keyed on.
	Address string

	// Port is the client's source port at connect time.
	Port int

	// Serial is the decimal serial of the authenticating certificate.
	Serial string

	// ConnectedAt is when authentication completed.
	ConnectedAt time.Time

	// LastActivityAt advances on every observed client interaction.
	LastActivityAt time.Time
}

// NewSession creates a session with a fresh ID and both timestamps set to
// now.
func NewSession(identity, address string, port int, serial string) Session {
	now := time.Now()
	return Session{
		ID:             uuid.NewString(),
		Identity:       identity,
		Address:        address,
		Port:           port,
		Serial:         serial,
		ConnectedAt:    now,
		LastActivityAt: now,
	}
}
