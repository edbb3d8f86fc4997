// Package router parses prefixed commands out of inbound messages, enforces
// the per-context permission policy and dispatches to the command handlers.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/heraldbot/herald/dispatch"
	"github.com/heraldbot/herald/identity"
	"github.com/heraldbot/herald/registry"
	"github.com/heraldbot/herald/transport"
)

const (
	cmdBroadcastAll = "tagall"
	cmdGroup        = "group"
	cmdHelp         = "help"
	tagPrefix       = "tag"
)

type Config struct {
	// Prefix is the single command-prefix character.
	Prefix string
	// Owners is the allow-list of canonical digit identities permitted to
	// issue commands in direct chats.
	Owners []string
}

type Router struct {
	cfg      Config
	store    registry.Store
	resolver *identity.Resolver
	engine   *dispatch.Engine
	logger   *slog.Logger
	owners   map[string]struct{}
}

func New(cfg Config, store registry.Store, resolver *identity.Resolver, engine *dispatch.Engine, logger *slog.Logger) *Router {
	if cfg.Prefix == "" {
		cfg.Prefix = "!"
	}
	if logger == nil {
		logger = slog.Default()
	}
	owners := make(map[string]struct{}, len(cfg.Owners))
	for _, owner := range cfg.Owners {
		if d := identity.Normalize(owner); d != "" {
			owners[d] = struct{}{}
		}
	}
	return &Router{
		cfg:      cfg,
		store:    store,
		resolver: resolver,
		engine:   engine,
		logger:   logger,
		owners:   owners,
	}
}

// Handle processes one inbound message. Text without the command prefix is
// ignored entirely: no error, no reply.
func (r *Router) Handle(ctx context.Context, sess transport.Session, msg transport.Message) error {
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, r.cfg.Prefix) {
		return nil
	}

	fields := strings.Fields(strings.TrimSpace(text[len(r.cfg.Prefix):]))
	if len(fields) == 0 {
		return nil
	}
	cmd := strings.ToLower(fields[0])
	args := fields[1:]

	isGroup := identity.IsGroup(msg.Conversation)
	logger := r.logger.With("correlation", "cmd_"+uuid.NewString(), "conversation", msg.Conversation, "command", cmd)

	var roster transport.Roster
	if isGroup {
		var err error
		roster, err = sess.FetchRoster(ctx, msg.Conversation)
		if err != nil {
			return fmt.Errorf("fetch roster: %w", err)
		}
	}

	if !r.permitted(ctx, msg, roster, isGroup) {
		logger.Info("command_denied", "sender", msg.Sender)
		return r.reply(ctx, sess, msg, permissionDeniedText(isGroup))
	}

	switch {
	case cmd == cmdBroadcastAll:
		return r.handleBroadcastAll(ctx, sess, msg, roster, isGroup, logger)
	case cmd == cmdGroup:
		return r.handleGroup(ctx, sess, msg, roster, isGroup, args, logger)
	case strings.HasPrefix(cmd, tagPrefix) && len(cmd) > len(tagPrefix):
		return r.handleBroadcastNamed(ctx, sess, msg, isGroup, cmd[len(tagPrefix):], logger)
	case cmd == cmdHelp:
		return r.reply(ctx, sess, msg, helpText)
	default:
		// Unknown prefixed commands are ignored like unprefixed text.
		return nil
	}
}

// permitted applies the context policy: owner allow-list in direct chats,
// live-roster admin role in groups. The sender is compared by canonical
// digits after best-effort alias resolution.
func (r *Router) permitted(ctx context.Context, msg transport.Message, roster transport.Roster, isGroup bool) bool {
	if !isGroup {
		sender := r.resolver.ResolveSender(ctx, msg.Sender)
		_, ok := r.owners[identity.Normalize(sender)]
		return ok
	}
	for _, p := range roster.Participants {
		if identity.SameIdentity(p.Address, msg.Sender) || identity.SameIdentity(p.PhoneAddress, msg.Sender) {
			return p.IsAdmin()
		}
	}
	return false
}

func (r *Router) reply(ctx context.Context, sess transport.Session, msg transport.Message, text string) error {
	ref := msg.Ref
	return sess.Send(ctx, msg.Conversation, transport.SendRequest{Text: text, Quote: &ref})
}

// quoteFor picks the thread anchor for a broadcast: the message the command
// replied to when there is one, otherwise the command message itself.
func quoteFor(msg transport.Message) *transport.MessageRef {
	if msg.Quoted != nil {
		quoted := *msg.Quoted
		return &quoted
	}
	ref := msg.Ref
	return &ref
}

func (r *Router) scopeKey(msg transport.Message, isGroup bool) string {
	if isGroup {
		return msg.Conversation
	}
	return registry.GlobalScope
}
