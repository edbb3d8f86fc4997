// Package identity holds the canonical participant-identity model: every
// address form the platform produces is reduced to a digit string before any
// comparison, so direct and aliased forms of the same person stay comparable.
package identity

import (
	"regexp"
	"strings"
)

const (
	// DirectSuffix marks an address that can be sent to or mentioned as-is.
	DirectSuffix = "@s.whatsapp.net"
	// AliasSuffix marks an opaque linked-identity reference that must be
	// resolved to a direct address first.
	AliasSuffix = "@lid"
	// GroupSuffix marks a group conversation id.
	GroupSuffix = "@g.us"
)

// Kind classifies an address form.
type Kind string

const (
	KindDirect  Kind = "direct"
	KindAliased Kind = "aliased"
	KindUnknown Kind = "unknown"
)

var digitRun = regexp.MustCompile(`\d{6,15}`)

// Normalize extracts the canonical digit identity from any address form: the
// first run of 6-15 digits, or "" when the address carries none. It is total
// and idempotent over its own output.
func Normalize(address string) string {
	return digitRun.FindString(address)
}

// KindOf reports whether an address is directly addressable or an opaque
// alias. Group ids and free-form text report KindUnknown.
func KindOf(address string) Kind {
	switch {
	case strings.HasSuffix(address, DirectSuffix):
		return KindDirect
	case strings.HasSuffix(address, AliasSuffix):
		return KindAliased
	default:
		return KindUnknown
	}
}

// DirectAddress wraps canonical digits into a sendable direct address.
// Returns "" when the input holds no canonical digits.
func DirectAddress(digits string) string {
	d := Normalize(digits)
	if d == "" {
		return ""
	}
	return d + DirectSuffix
}

// IsGroup reports whether a conversation id names a group chat.
func IsGroup(conversationID string) bool {
	return strings.HasSuffix(conversationID, GroupSuffix)
}

// MentionToken renders the inline mention marker for an address, e.g.
// "12345@s.whatsapp.net" -> "@12345".
func MentionToken(address string) string {
	user, _, found := strings.Cut(address, "@")
	if !found {
		return "@" + address
	}
	return "@" + user
}

// SameIdentity compares two address forms by canonical digits. Either side
// may be a raw number, a direct address or an alias; empty digit extraction
// never matches anything.
func SameIdentity(a, b string) bool {
	da := Normalize(a)
	return da != "" && da == Normalize(b)
}
