// Package transport defines the contract the bot consumes from the
// underlying messaging-protocol client: dialing, the session event stream,
// roster fetches, identity lookups and message sends. The concrete protocol
// implementation lives behind these interfaces and is intentionally out of
// the core's scope.
package transport

import (
	"context"
	"errors"
)

var (
	// ErrSessionClosed is returned by session calls after Close.
	ErrSessionClosed = errors.New("transport: session closed")
	// ErrPairingRateLimited marks a pairing-code request the platform
	// refused for being too frequent. Callers back off before retrying.
	ErrPairingRateLimited = errors.New("transport: pairing rate limited")
	// ErrPairingConflict marks a pairing attempt that collided with
	// another live session for the same account.
	ErrPairingConflict = errors.New("transport: pairing conflict")
)

// ConnectionState is the coarse connection phase reported by the session.
type ConnectionState string

const (
	StateConnecting ConnectionState = "connecting"
	StateOpen       ConnectionState = "open"
	StateClosed     ConnectionState = "close"
)

// DisconnectCode is the platform status code attached to a close event.
// Zero means the platform supplied none.
type DisconnectCode int

const (
	CodeNone DisconnectCode = 0
	// CodeLoggedOut is the platform's explicit device-unlink signal,
	// distinct from a plain unauthorized close.
	CodeLoggedOut       DisconnectCode = 1
	CodeUnauthorized    DisconnectCode = 401
	CodeForbidden       DisconnectCode = 403
	CodeSessionExpired  DisconnectCode = 440
	CodeRestartRequired DisconnectCode = 515
)

// Event is one entry of the session's sequential event stream. Exactly the
// three concrete event types below implement it.
type Event interface{ isEvent() }

// ConnectionEvent reports a connection phase change. Code is meaningful only
// for StateClosed.
type ConnectionEvent struct {
	State ConnectionState
	Code  DisconnectCode
}

// CredentialsEvent reports that the collaborator persisted updated session
// credentials. Informational; the core never edits credentials outside the
// corruption purge path.
type CredentialsEvent struct{}

// MessageEvent carries one inbound conversation message.
type MessageEvent struct {
	Message Message
}

func (ConnectionEvent) isEvent()  {}
func (CredentialsEvent) isEvent() {}
func (MessageEvent) isEvent()     {}

// MessageRef identifies a platform message so a send can quote it.
type MessageRef struct {
	ID           string
	Conversation string
	Participant  string
}

// Message is an inbound conversation message, already flattened out of the
// platform's nested content envelope.
type Message struct {
	Conversation string     // conversation id (group or direct chat)
	Sender       string     // address of the author (direct or aliased form)
	Text         string     // body or media caption
	Mentions     []string   // structured mention list attached by the author
	ReplyTo      string     // address of the quoted message's author, if a reply
	Quoted       *MessageRef
	Ref          MessageRef // this message's own reference
}

// Role is a participant's standing inside a group conversation.
type Role string

const (
	RoleMember     Role = "member"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "superadmin"
)

// Participant is one roster entry. Address is the form the roster prefers
// for mentioning; PhoneAddress carries the phone-based form when the roster
// knows both (aliased groups), and is preferred for identity comparison.
type Participant struct {
	Address      string
	PhoneAddress string
	Role         Role
}

// IsAdmin reports whether the participant may issue commands in a group.
func (p Participant) IsAdmin() bool {
	return p.Role == RoleAdmin || p.Role == RoleSuperAdmin
}

// Roster is the live membership of one conversation. It is fetched fresh
// per operation and never cached across commands.
type Roster struct {
	Conversation string
	Participants []Participant
}

// SendRequest is one outbound message: text plus an optional structured
// mention list and an optional quoted-message anchor.
type SendRequest struct {
	Text     string
	Mentions []string
	Quote    *MessageRef
}

// Session is one live connection to the platform. Events are delivered on a
// single channel and drained sequentially; the channel closes when the
// session ends.
type Session interface {
	Events() <-chan Event

	// RequestPairingCode asks the platform for a device-link code bound
	// to the given phone hint.
	RequestPairingCode(ctx context.Context, phone string) (string, error)

	// FetchRoster returns the live membership of a group conversation.
	FetchRoster(ctx context.Context, conversationID string) (Roster, error)

	// LookupIdentity resolves a raw number to its direct address, with
	// ok=false when the number is not registered on the platform.
	LookupIdentity(ctx context.Context, number string) (string, bool, error)

	// Send delivers one message to a conversation.
	Send(ctx context.Context, conversationID string, req SendRequest) error

	// SelfAddress is the address the session is bound to.
	SelfAddress() string

	Close()
}

// Dialer establishes sessions. Dial returns once the underlying client is
// constructed; connection progress arrives as ConnectionEvents.
type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}
