package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/heraldbot/herald/identity"
	"github.com/heraldbot/herald/registry"
	"github.com/heraldbot/herald/transport"
)

const helpText = `*Commands*
- !tagall - mention everyone in this group
- !tag<name> - mention a subgroup (e.g. !tagdesign)
- !group add <name> <@mentions or numbers>
- !group remove <name> <@mentions or numbers>
- !group show <name>
- !group list
- !group delete <name>`

const groupUsageText = `*Subgroup commands*
- !group add <name> <@mentions or numbers>
- !group remove <name> <@mentions or numbers>
- !group show <name>
- !group list
- !group delete <name>`

func permissionDeniedText(isGroup bool) string {
	if isGroup {
		return "Only *group admins* can use these commands."
	}
	return "You don't have permission to use this bot in direct chat."
}

func (r *Router) handleBroadcastAll(ctx context.Context, sess transport.Session, msg transport.Message, roster transport.Roster, isGroup bool, logger *slog.Logger) error {
	if !isGroup {
		return r.reply(ctx, sess, msg, "*!tagall* works only inside a group.")
	}

	candidates := make([]string, 0, len(roster.Participants))
	for _, p := range roster.Participants {
		candidates = append(candidates, p.Address)
	}

	res, err := r.engine.Dispatch(ctx, sess, msg.Conversation, sess.SelfAddress(), candidates, quoteFor(msg))
	if err != nil {
		return err
	}
	if res.NobodyPresent {
		return r.reply(ctx, sess, msg, "No members found to tag.")
	}
	logger.Info("broadcast_all_done", "batches", res.Batches, "mentioned", res.Mentioned)
	return nil
}

func (r *Router) handleBroadcastNamed(ctx context.Context, sess transport.Session, msg transport.Message, isGroup bool, name string, logger *slog.Logger) error {
	if !isGroup {
		return r.reply(ctx, sess, msg, "Subgroup tagging works only inside a group.")
	}
	name = registry.CanonicalName(name)

	members, err := r.store.Lookup(ctx, msg.Conversation, name)
	if err != nil {
		return err
	}
	if len(members) == 0 {
		return r.reply(ctx, sess, msg, fmt.Sprintf("No members in subgroup *%s*. Add with *!group add %s @members*", name, name))
	}

	res, err := r.engine.Dispatch(ctx, sess, msg.Conversation, sess.SelfAddress(), members, quoteFor(msg))
	if err != nil {
		return err
	}
	if res.NobodyPresent {
		return r.reply(ctx, sess, msg, fmt.Sprintf("No members of subgroup *%s* are present in this group.", name))
	}
	logger.Info("broadcast_named_done", "subgroup", name, "batches", res.Batches, "mentioned", res.Mentioned)
	return nil
}

func (r *Router) handleGroup(ctx context.Context, sess transport.Session, msg transport.Message, roster transport.Roster, isGroup bool, args []string, logger *slog.Logger) error {
	if len(args) == 0 {
		return r.reply(ctx, sess, msg, groupUsageText)
	}
	subcmd := strings.ToLower(args[0])
	args = args[1:]
	scope := r.scopeKey(msg, isGroup)

	switch subcmd {
	case "list":
		entries, err := r.store.List(ctx, scope)
		if err != nil {
			return err
		}
		return r.reply(ctx, sess, msg, listText(scope, entries))

	case "show":
		if len(args) == 0 {
			return r.reply(ctx, sess, msg, "Usage: *!group show <name>*")
		}
		name := registry.CanonicalName(args[0])
		members, err := r.store.Show(ctx, scope, name)
		if err != nil {
			return err
		}
		if len(members) == 0 {
			return r.reply(ctx, sess, msg, fmt.Sprintf("No members in *%s*.", name))
		}
		tokens := make([]string, len(members))
		for i, member := range members {
			tokens[i] = identity.MentionToken(member)
		}
		ref := msg.Ref
		return sess.Send(ctx, msg.Conversation, transport.SendRequest{
			Text:     fmt.Sprintf("*%s* (%d)\n%s", name, len(members), strings.Join(tokens, " ")),
			Mentions: members,
			Quote:    &ref,
		})

	case "delete":
		if len(args) == 0 {
			return r.reply(ctx, sess, msg, "Usage: *!group delete <name>*")
		}
		name := registry.CanonicalName(args[0])
		found, err := r.store.Delete(ctx, scope, name)
		if err != nil {
			return err
		}
		if !found {
			return r.reply(ctx, sess, msg, fmt.Sprintf("No subgroup named *%s*.", name))
		}
		logger.Info("subgroup_deleted", "scope", scope, "subgroup", name)
		return r.reply(ctx, sess, msg, fmt.Sprintf("Deleted subgroup *%s*.", name))

	case "add", "remove":
		if len(args) == 0 {
			return r.reply(ctx, sess, msg, fmt.Sprintf("Usage: *!group %s <name> <@mentions or numbers>*", subcmd))
		}
		name := registry.CanonicalName(args[0])

		var members []string
		if isGroup {
			members = r.resolver.ResolveMentions(ctx, msg, roster, sess)
		} else {
			members = identity.NumbersFromText(msg.Text)
		}
		if len(members) == 0 {
			return r.reply(ctx, sess, msg, "No valid members found. Mention members, reply to one, or use numbers in direct chat.")
		}

		var size int
		var err error
		if subcmd == "add" {
			size, err = r.store.Add(ctx, scope, name, members)
		} else {
			size, err = r.store.Remove(ctx, scope, name, members)
		}
		if err != nil {
			return err
		}
		logger.Info("subgroup_updated", "scope", scope, "subgroup", name, "op", subcmd, "size", size)
		return r.reply(ctx, sess, msg, fmt.Sprintf("Updated *%s* (%d members).", name, size))

	default:
		return r.reply(ctx, sess, msg, "Unknown subcommand. Try *!group list*.")
	}
}

func listText(scope string, entries []registry.Entry) string {
	title := "*Subgroups*"
	if scope == registry.GlobalScope {
		title = "*Global subgroups*"
	}
	if len(entries) == 0 {
		return title + "\n_No subgroups yet. Use_ *!group add <name> @members*"
	}
	lines := make([]string, len(entries))
	for i, entry := range entries {
		lines[i] = fmt.Sprintf("- *%s* (%d)", entry.Name, entry.Size)
	}
	return title + "\n" + strings.Join(lines, "\n")
}
