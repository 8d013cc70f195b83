package logger

import "log/slog"

// Standard field keys for structured logging.
// Use these keys consistently across all log statements so the device
// lifecycle, session churn, and access-control actions can be correlated.
const (
	// ========================================================================
	// Device lifecycle
	// ========================================================================
	KeyState     = "state"      // Current device state: dormant, advertising, active, shutdown
	KeyFromState = "from_state" // Transition source state
	KeyToState   = "to_state"   // Transition target state
	KeyEvent     = "event"      // Transition-triggering event name
	KeyEffect    = "effect"     // Side effect executed during a transition

	// ========================================================================
	// Client identification
	// ========================================================================
	KeyClientIP   = "client_ip"   // Client IP address
	KeyClientPort = "client_port" // Client source port
	KeyIdentity   = "identity"    // Authenticated identity (certificate CN)
	KeySerial     = "serial"      // Certificate serial number
	KeyReason     = "reason"      // Rejection or failure reason

	// ========================================================================
	// Session & access grants
	// ========================================================================
	KeySessionID = "session_id" // Session identifier
	KeySessions  = "sessions"   // Live session count
	KeyRule      = "rule"       // Packet filter rule tag
	KeyExport    = "export"     // Export entry (path -> client)
	KeyPath      = "path"       // Filesystem path (storage, exports file)

	// ========================================================================
	// Operation metadata
	// ========================================================================
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"       // Error message
	KeyPort       = "port"        // Listener/service port
	KeyService    = "service"     // mDNS service type or instance
	KeyCount      = "count"       // Generic count
)

// ----------------------------------------------------------------------------
// Field constructors for type safety
// ----------------------------------------------------------------------------

// State returns a slog.Attr for the current device state
func State(s string) slog.Attr {
	return slog.String(KeyState, s)
}

// FromState returns a slog.Attr for a transition source state
func FromState(s string) slog.Attr {
	return slog.String(KeyFromState, s)
}

// ToState returns a slog.Attr for a transition target state
func ToState(s string) slog.Attr {
	return slog.String(KeyToState, s)
}

// Event returns a slog.Attr for a transition event
func Event(e string) slog.Attr {
	return slog.String(KeyEvent, e)
}

// ClientIP returns a slog.Attr for client IP address
func ClientIP(addr string) slog.Attr {
	return slog.String(KeyClientIP, addr)
}

// ClientPort returns a slog.Attr for client source port
func ClientPort(port int) slog.Attr {
	return slog.Int(KeyClientPort, port)
}

// Identity returns a slog.Attr for an authenticated identity
func Identity(id string) slog.Attr {
	return slog.String(KeyIdentity, id)
}

// SessionID returns a slog.Attr for a session identifier
func SessionID(id string) slog.Attr {
	return slog.String(KeySessionID, id)
}

// Sessions returns a slog.Attr for the live session count
func Sessions(n int) slog.Attr {
	return slog.Int(KeySessions, n)
}

// Rule returns a slog.Attr for a packet filter rule tag
func Rule(tag string) slog.Attr {
	return slog.String(KeyRule, tag)
}

// Export returns a slog.Attr for an export entry
func Export(entry string) slog.Attr {
	return slog.String(KeyExport, entry)
}

// Path returns a slog.Attr for a filesystem path
func Path(p string) slog.Attr {
	return slog.String(KeyPath, p)
}

// Reason returns a slog.Attr for a rejection or failure reason
func Reason(r string) slog.Attr {
	return slog.String(KeyReason, r)
}

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Port returns a slog.Attr for a listener or service port
func Port(p int) slog.Attr {
	return slog.Int(KeyPort, p)
}

// Service returns a slog.Attr for an mDNS service name
func Service(s string) slog.Attr {
	return slog.String(KeyService, s)
}
