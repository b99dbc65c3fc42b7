package logger

import (
	"log/slog"
)

// Standard field keys for structured logging. Use these keys consistently
// across all log statements so logs can be aggregated and queried per
// connection, login, or command.
const (
	// Protocol & operation
	KeyProtocol = "protocol" // Listener type: chat, discovery, api
	KeyCommand  = "command"  // Chat command mnemonic: LOGIN, SEND_TO_USER, ...
	KeyStatus   = "status"   // Wire status code sent in reply
	KeyRecord   = "record"   // TLV record type

	// Client identification
	KeyClientIP   = "client_ip"   // Client IP address
	KeyClientPort = "client_port" // Client source port
	KeyLogin      = "login"       // Authenticated login
	KeyDisplay    = "display"     // Display name

	// Session & connection
	KeyConnectionID = "conn_id" // Connection identifier

	// Chat entities
	KeyGroup  = "group"  // Group name
	KeyTarget = "target" // Direct-message target login
	KeyMcast  = "mcast"  // Multicast endpoint addr:port

	// Operation metadata
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"       // Error message
	KeyPath       = "path"        // Store file path
	KeyBytes      = "bytes"       // Payload size in bytes
)

// Field constructors for type safety.

// Protocol returns a slog.Attr for the listener type (chat, discovery, api).
func Protocol(proto string) slog.Attr {
	return slog.String(KeyProtocol, proto)
}

// Command returns a slog.Attr for a chat command mnemonic.
func Command(name string) slog.Attr {
	return slog.String(KeyCommand, name)
}

// Status returns a slog.Attr for a wire status code.
func Status(code string) slog.Attr {
	return slog.String(KeyStatus, code)
}

// ClientIP returns a slog.Attr for the client IP address.
func ClientIP(addr string) slog.Attr {
	return slog.String(KeyClientIP, addr)
}

// Login returns a slog.Attr for an authenticated login.
func Login(login string) slog.Attr {
	return slog.String(KeyLogin, login)
}

// ConnectionID returns a slog.Attr for a connection identifier.
func ConnectionID(id string) slog.Attr {
	return slog.String(KeyConnectionID, id)
}

// Group returns a slog.Attr for a group name.
func Group(name string) slog.Attr {
	return slog.String(KeyGroup, name)
}

// Target returns a slog.Attr for a direct-message target login.
func Target(login string) slog.Attr {
	return slog.String(KeyTarget, login)
}

// DurationMs returns a slog.Attr for duration in milliseconds.
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// Path returns a slog.Attr for a store file path.
func Path(p string) slog.Attr {
	return slog.String(KeyPath, p)
}

// Bytes returns a slog.Attr for a payload size.
func Bytes(n int) slog.Attr {
	return slog.Int(KeyBytes, n)
}
