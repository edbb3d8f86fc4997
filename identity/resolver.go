package identity

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/heraldbot/herald/transport"
)

// Lookup is the live identity-lookup call the resolver falls back to when
// the local alias map has no entry.
type Lookup interface {
	LookupIdentity(ctx context.Context, number string) (string, bool, error)
}

// Resolver turns ambiguous participant references into direct addresses.
// Each strategy in the chain returns an optional result; the first success
// wins per reference.
type Resolver struct {
	aliases AliasStore
	logger  *slog.Logger
}

func NewResolver(aliases AliasStore, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{aliases: aliases, logger: logger}
}

// ResolveAliased maps an aliased address to its phone-based direct address
// via the local reverse alias map. Absence is expected; callers fall back.
func (r *Resolver) ResolveAliased(ctx context.Context, aliasedAddress string) (string, bool) {
	phone, found, err := r.aliases.PhoneForAlias(ctx, Normalize(aliasedAddress))
	if err != nil {
		r.logger.Warn("alias_resolve_failed", "alias", aliasedAddress, "error", err.Error())
		return "", false
	}
	if !found {
		return "", false
	}
	return DirectAddress(phone), true
}

// ResolveSender returns the best-effort direct form of a message sender for
// permission comparisons. Aliased senders resolve through the alias map;
// anything unresolvable passes through unchanged.
func (r *Resolver) ResolveSender(ctx context.Context, sender string) string {
	if KindOf(sender) != KindAliased {
		return sender
	}
	if direct, ok := r.ResolveAliased(ctx, sender); ok {
		return direct
	}
	return sender
}

var freeTextNumber = regexp.MustCompile(`\b\d{8,15}\b`)

// NumbersFromText extracts free-text digit runs as direct addresses,
// deduplicated in order of first appearance. Used in direct-context
// subgroup management where no roster exists to mention against.
func NumbersFromText(text string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, num := range freeTextNumber.FindAllString(text, -1) {
		if _, dup := seen[num]; dup {
			continue
		}
		seen[num] = struct{}{}
		out = append(out, DirectAddress(num))
	}
	return out
}

// ResolveMentions builds the target member list for a command message.
// Resolution order, first non-empty stage wins:
//  1. the structured mention list, with aliased entries resolved via the
//     alias map, then live lookup, then a digit-substring match against
//     roster addresses;
//  2. the author of the quoted message, when the command is a reply to a
//     roster participant;
//  3. free-text digit runs from the body, each validated by live lookup.
//
// The result is deduplicated and restricted to members present in the
// supplied roster, in roster-preferred address form.
func (r *Resolver) ResolveMentions(ctx context.Context, msg transport.Message, roster transport.Roster, lookup Lookup) []string {
	index := newRosterIndex(roster)

	var resolved []string
	for _, mention := range msg.Mentions {
		if KindOf(mention) != KindAliased {
			resolved = append(resolved, mention)
			continue
		}
		if direct, ok := r.ResolveAliased(ctx, mention); ok {
			resolved = append(resolved, direct)
			continue
		}
		if direct, ok := r.liveLookup(ctx, lookup, Normalize(mention)); ok {
			resolved = append(resolved, direct)
			continue
		}
		if member, ok := index.substringMatch(Normalize(mention)); ok {
			resolved = append(resolved, member)
			continue
		}
		r.logger.Warn("mention_unresolved", "alias", mention)
	}

	if len(resolved) == 0 && msg.ReplyTo != "" {
		if _, ok := index.lookup(msg.ReplyTo); ok {
			resolved = append(resolved, msg.ReplyTo)
		}
	}

	if len(resolved) == 0 {
		for _, num := range freeTextNumber.FindAllString(msg.Text, -1) {
			if direct, ok := r.liveLookup(ctx, lookup, num); ok {
				resolved = append(resolved, direct)
			}
		}
	}

	var out []string
	seen := make(map[string]struct{})
	for _, candidate := range resolved {
		member, ok := index.lookup(candidate)
		if !ok {
			continue
		}
		if _, dup := seen[member]; dup {
			continue
		}
		seen[member] = struct{}{}
		out = append(out, member)
	}
	return out
}

func (r *Resolver) liveLookup(ctx context.Context, lookup Lookup, number string) (string, bool) {
	if lookup == nil || number == "" {
		return "", false
	}
	address, found, err := lookup.LookupIdentity(ctx, number)
	if err != nil {
		r.logger.Warn("identity_lookup_failed", "number", number, "error", err.Error())
		return "", false
	}
	if !found {
		return "", false
	}
	return address, true
}

// rosterIndex maps canonical digits of every known address form of each
// participant to the roster's preferred mention address.
type rosterIndex struct {
	byDigits map[string]string
	ordered  []transport.Participant
}

func newRosterIndex(roster transport.Roster) *rosterIndex {
	idx := &rosterIndex{byDigits: make(map[string]string), ordered: roster.Participants}
	for _, p := range roster.Participants {
		for _, form := range []string{p.PhoneAddress, p.Address} {
			if d := Normalize(form); d != "" {
				if _, exists := idx.byDigits[d]; !exists {
					idx.byDigits[d] = p.Address
				}
			}
		}
	}
	return idx
}

func (idx *rosterIndex) lookup(address string) (string, bool) {
	member, ok := idx.byDigits[Normalize(address)]
	return member, ok
}

func (idx *rosterIndex) substringMatch(digits string) (string, bool) {
	if digits == "" {
		return "", false
	}
	for _, p := range idx.ordered {
		if strings.Contains(p.Address, digits) || strings.Contains(p.PhoneAddress, digits) {
			return p.Address, true
		}
	}
	return "", false
}
