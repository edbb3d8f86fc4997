package session

import "github.com/heraldbot/herald/transport"

// CloseClass buckets a disconnect into its recovery strategy.
type CloseClass string

const (
	// CloseTransient schedules a backoff reconnect.
	CloseTransient CloseClass = "transient"
	// CloseInvalidSession purges credentials and restarts fresh after a
	// short fixed delay, bypassing backoff growth.
	CloseInvalidSession CloseClass = "invalid_session"
	// CloseLoggedOut is terminal: no automatic reconnection, an operator
	// must clear credentials and restart.
	CloseLoggedOut CloseClass = "logged_out"
)

// Classify maps a platform disconnect code to its recovery class. Unknown
// codes are treated as transient; unbounded retries with a capped backoff
// are the safe default for anything the platform did not explicitly mark
// fatal.
func Classify(code transport.DisconnectCode) CloseClass {
	switch code {
	case transport.CodeLoggedOut:
		return CloseLoggedOut
	case transport.CodeUnauthorized, transport.CodeForbidden, transport.CodeSessionExpired:
		return CloseInvalidSession
	default:
		return CloseTransient
	}
}
