package router

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/heraldbot/herald/dispatch"
	"github.com/heraldbot/herald/identity"
	"github.com/heraldbot/herald/registry"
	"github.com/heraldbot/herald/transport"
)

const (
	groupConv  = "12036304@g.us"
	directConv = "918929676776@s.whatsapp.net"
	ownerAddr  = "918929676776@s.whatsapp.net"
	memberA    = "15550000001@s.whatsapp.net"
	memberB    = "15550000002@s.whatsapp.net"
	memberC    = "15550000003@s.whatsapp.net"
	botAddr    = "990000000000@s.whatsapp.net"
)

type fakeSession struct {
	roster transport.Roster
	sent   []sentMessage
	known  map[string]string
}

type sentMessage struct {
	conversation string
	req          transport.SendRequest
}

func (s *fakeSession) Events() <-chan transport.Event { return nil }

func (s *fakeSession) RequestPairingCode(context.Context, string) (string, error) {
	return "", nil
}

func (s *fakeSession) FetchRoster(_ context.Context, conversationID string) (transport.Roster, error) {
	roster := s.roster
	roster.Conversation = conversationID
	return roster, nil
}

func (s *fakeSession) LookupIdentity(_ context.Context, number string) (string, bool, error) {
	addr, ok := s.known[number]
	return addr, ok, nil
}

func (s *fakeSession) Send(_ context.Context, conversationID string, req transport.SendRequest) error {
	s.sent = append(s.sent, sentMessage{conversation: conversationID, req: req})
	return nil
}

func (s *fakeSession) SelfAddress() string { return botAddr }

func (s *fakeSession) Close() {}

func groupRoster() transport.Roster {
	return transport.Roster{Participants: []transport.Participant{
		{Address: ownerAddr, Role: transport.RoleAdmin},
		{Address: memberA},
		{Address: memberB},
		{Address: memberC},
		{Address: botAddr},
	}}
}

type fixture struct {
	router *Router
	store  *registry.FileStore
	sess   *fakeSession
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := registry.NewFileStore(filepath.Join(t.TempDir(), "subgroups.json"))
	resolver := identity.NewResolver(identity.NewFileAliasStore(t.TempDir()), nil)
	engine := dispatch.NewEngine(dispatch.Options{
		BatchSize:  20,
		BatchDelay: time.Millisecond,
		Sleep:      func(context.Context, time.Duration) error { return nil },
	})
	sess := &fakeSession{roster: groupRoster()}
	return &fixture{
		router: New(Config{Prefix: "!", Owners: []string{"918929676776"}}, store, resolver, engine, nil),
		store:  store,
		sess:   sess,
	}
}

func groupMsg(sender, text string, mentions ...string) transport.Message {
	return transport.Message{
		Conversation: groupConv,
		Sender:       sender,
		Text:         text,
		Mentions:     mentions,
		Ref:          transport.MessageRef{ID: "MSG1", Conversation: groupConv, Participant: sender},
	}
}

func directMsg(sender, text string) transport.Message {
	return transport.Message{
		Conversation: directConv,
		Sender:       sender,
		Text:         text,
		Ref:          transport.MessageRef{ID: "MSG1", Conversation: directConv, Participant: sender},
	}
}

func (f *fixture) handle(t *testing.T, msg transport.Message) {
	t.Helper()
	if err := f.router.Handle(context.Background(), f.sess, msg); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
}

func TestUnprefixedTextIgnored(t *testing.T) {
	f := newFixture(t)
	f.handle(t, groupMsg(ownerAddr, "good morning all"))
	if len(f.sess.sent) != 0 {
		t.Fatalf("sends = %d, want 0", len(f.sess.sent))
	}
}

func TestUnknownPrefixedCommandIgnored(t *testing.T) {
	f := newFixture(t)
	f.handle(t, groupMsg(ownerAddr, "!weather"))
	if len(f.sess.sent) != 0 {
		t.Fatalf("sends = %d, want 0", len(f.sess.sent))
	}
}

func TestGroupNonAdminDenied(t *testing.T) {
	f := newFixture(t)
	f.handle(t, groupMsg(memberA, "!tagall"))
	if len(f.sess.sent) != 1 {
		t.Fatalf("sends = %d, want single denial reply", len(f.sess.sent))
	}
	if !strings.Contains(f.sess.sent[0].req.Text, "group admins") {
		t.Fatalf("reply = %q", f.sess.sent[0].req.Text)
	}
}

func TestDirectNonOwnerDeniedWithoutMutation(t *testing.T) {
	f := newFixture(t)
	f.handle(t, directMsg("440000000000@s.whatsapp.net", "!group add core 15550000001"))

	if len(f.sess.sent) != 1 {
		t.Fatalf("sends = %d, want single denial reply", len(f.sess.sent))
	}
	if !strings.Contains(f.sess.sent[0].req.Text, "permission") {
		t.Fatalf("reply = %q", f.sess.sent[0].req.Text)
	}
	entries, err := f.store.List(context.Background(), registry.GlobalScope)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("registry mutated by denied command: %v", entries)
	}
}

func TestTagAllMentionsEveryoneButBot(t *testing.T) {
	f := newFixture(t)
	f.handle(t, groupMsg(ownerAddr, "!tagall"))

	if len(f.sess.sent) != 1 {
		t.Fatalf("sends = %d, want 1 batch", len(f.sess.sent))
	}
	mentions := f.sess.sent[0].req.Mentions
	if len(mentions) != 4 {
		t.Fatalf("mentions = %v, want the 4 non-bot members", mentions)
	}
	for _, m := range mentions {
		if identity.SameIdentity(m, botAddr) {
			t.Fatalf("bot mentioned: %v", mentions)
		}
	}
	if f.sess.sent[0].req.Quote == nil {
		t.Fatalf("first batch carries no thread anchor")
	}
}

func TestTagAllInDirectChatReplies(t *testing.T) {
	f := newFixture(t)
	f.handle(t, directMsg(ownerAddr, "!tagall"))
	if len(f.sess.sent) != 1 || !strings.Contains(f.sess.sent[0].req.Text, "group") {
		t.Fatalf("sent = %+v", f.sess.sent)
	}
}

func TestGroupAddViaMentions(t *testing.T) {
	f := newFixture(t)
	f.handle(t, groupMsg(ownerAddr, "!group add design @a @c", memberA, memberC))

	members, err := f.store.Show(context.Background(), groupConv, "design")
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 2 {
		t.Fatalf("stored members = %v", members)
	}
	last := f.sess.sent[len(f.sess.sent)-1]
	if !strings.Contains(last.req.Text, "design") || !strings.Contains(last.req.Text, "2") {
		t.Fatalf("reply = %q", last.req.Text)
	}
}

func TestGroupAddNoResolvableMembers(t *testing.T) {
	f := newFixture(t)
	f.handle(t, groupMsg(ownerAddr, "!group add design"))

	if len(f.sess.sent) != 1 || !strings.Contains(f.sess.sent[0].req.Text, "No valid members") {
		t.Fatalf("sent = %+v", f.sess.sent)
	}
	entries, err := f.store.List(context.Background(), groupConv)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("registry mutated: %v", entries)
	}
}

func TestGroupWithoutSubcommandPrintsUsage(t *testing.T) {
	f := newFixture(t)
	f.handle(t, groupMsg(ownerAddr, "!group"))
	if len(f.sess.sent) != 1 || !strings.Contains(f.sess.sent[0].req.Text, "Subgroup commands") {
		t.Fatalf("sent = %+v", f.sess.sent)
	}
}

func TestGroupUnknownSubcommand(t *testing.T) {
	f := newFixture(t)
	f.handle(t, groupMsg(ownerAddr, "!group rename design"))
	if len(f.sess.sent) != 1 || !strings.Contains(f.sess.sent[0].req.Text, "Unknown subcommand") {
		t.Fatalf("sent = %+v", f.sess.sent)
	}
}

func TestTagNamedSubgroupScenario(t *testing.T) {
	// Roster {owner, A, B, C, bot}; design = {A, C}; !tagdesign must yield
	// exactly one batch mentioning A and C, bot excluded, registry intact.
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.store.Add(ctx, groupConv, "design", []string{memberA, memberC}); err != nil {
		t.Fatal(err)
	}

	f.handle(t, groupMsg(ownerAddr, "!tagdesign"))

	if len(f.sess.sent) != 1 {
		t.Fatalf("sends = %d, want 1", len(f.sess.sent))
	}
	mentions := f.sess.sent[0].req.Mentions
	if len(mentions) != 2 || mentions[0] != memberA || mentions[1] != memberC {
		t.Fatalf("mentions = %v, want {A, C}", mentions)
	}
	members, err := f.store.Show(ctx, groupConv, "design")
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 2 {
		t.Fatalf("registry changed by broadcast: %v", members)
	}
}

func TestTagNamedEmptySubgroup(t *testing.T) {
	f := newFixture(t)
	f.handle(t, groupMsg(ownerAddr, "!tagghosts"))
	if len(f.sess.sent) != 1 || !strings.Contains(f.sess.sent[0].req.Text, "No members in subgroup *ghosts*") {
		t.Fatalf("sent = %+v", f.sess.sent)
	}
}

func TestTagNamedNobodyPresent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.store.Add(ctx, groupConv, "alumni", []string{"440000000000@s.whatsapp.net"}); err != nil {
		t.Fatal(err)
	}
	f.handle(t, groupMsg(ownerAddr, "!tagalumni"))
	if len(f.sess.sent) != 1 || !strings.Contains(f.sess.sent[0].req.Text, "present in this group") {
		t.Fatalf("sent = %+v", f.sess.sent)
	}
}

func TestGlobalSubgroupUsableInsideGroup(t *testing.T) {
	// Owner manages a subgroup from direct chat; members land in the
	// global scope and the name resolves inside any group.
	f := newFixture(t)
	f.handle(t, directMsg(ownerAddr, "!group add oncall 15550000001 15550000002"))

	members, err := f.store.Show(context.Background(), registry.GlobalScope, "oncall")
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 2 {
		t.Fatalf("global members = %v", members)
	}

	f.sess.sent = nil
	f.handle(t, groupMsg(ownerAddr, "!tagoncall"))
	if len(f.sess.sent) != 1 {
		t.Fatalf("sends = %d", len(f.sess.sent))
	}
	if got := f.sess.sent[0].req.Mentions; len(got) != 2 {
		t.Fatalf("mentions = %v", got)
	}
}

func TestHelp(t *testing.T) {
	f := newFixture(t)
	f.handle(t, groupMsg(ownerAddr, "!help"))
	if len(f.sess.sent) != 1 || !strings.Contains(f.sess.sent[0].req.Text, "!tagall") {
		t.Fatalf("sent = %+v", f.sess.sent)
	}
}

func TestGroupShowMentionsMembers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.store.Add(ctx, groupConv, "design", []string{memberA, memberC}); err != nil {
		t.Fatal(err)
	}
	f.handle(t, groupMsg(ownerAddr, "!group show design"))

	if len(f.sess.sent) != 1 {
		t.Fatalf("sends = %d", len(f.sess.sent))
	}
	req := f.sess.sent[0].req
	if len(req.Mentions) != 2 || !strings.Contains(req.Text, "*design* (2)") {
		t.Fatalf("show reply = %+v", req)
	}
}

func TestGroupDeleteDistinctFromEmptying(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.store.Add(ctx, groupConv, "design", []string{memberA}); err != nil {
		t.Fatal(err)
	}

	// Emptying keeps the name listed.
	f.handle(t, groupMsg(ownerAddr, "!group remove design @a", memberA))
	entries, err := f.store.List(ctx, groupConv)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Size != 0 {
		t.Fatalf("entries after emptying = %v", entries)
	}

	f.handle(t, groupMsg(ownerAddr, "!group delete design"))
	entries, err = f.store.List(ctx, groupConv)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("entries after delete = %v", entries)
	}
}
