// Package registry is the durable named-subgroup store: per-scope sets of
// canonical member addresses, persisted as a single whole-document JSON file
// that is reloaded and rewritten on every mutating command.
package registry

import (
	"context"
	"strings"
)

// GlobalScope is the catch-all scope key used for direct-context subgroup
// management. Subgroups created there are usable inside any group via the
// global fallback lookup.
const GlobalScope = "global"

// Entry is one subgroup name with its current size, for listings.
type Entry struct {
	Name string
	Size int
}

// Store is the subgroup registry contract. Names are case-insensitive; every
// implementation compares them after lowercasing. Member lists hold
// canonical addresses with no duplicates, in insertion order.
type Store interface {
	// Add unions members into (scopeKey, name), creating the name if
	// absent, and returns the final size.
	Add(ctx context.Context, scopeKey, name string, members []string) (int, error)

	// Remove differences members out of (scopeKey, name). A missing name
	// is a no-op. An emptied set is retained under its name; only Delete
	// removes the name itself. Returns the final size.
	Remove(ctx context.Context, scopeKey, name string, members []string) (int, error)

	// Show returns the ordered member list, empty when the name is absent.
	Show(ctx context.Context, scopeKey, name string) ([]string, error)

	// List returns every name in the scope with its size.
	List(ctx context.Context, scopeKey string) ([]Entry, error)

	// Delete removes the name entirely and reports whether it existed.
	Delete(ctx context.Context, scopeKey, name string) (bool, error)

	// Lookup fetches the member list for a broadcast: the conversation
	// scope first, falling back to the global scope when absent there.
	Lookup(ctx context.Context, conversationKey, name string) ([]string, error)
}

// CanonicalName lowercases and trims a subgroup name for comparison.
func CanonicalName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
