// Package whatsapp adapts the whatsmeow client to the transport contract.
// All protocol, crypto and persistence details stay here; the core only
// sees transport events.
package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
	_ "modernc.org/sqlite"

	"github.com/heraldbot/herald/identity"
	"github.com/heraldbot/herald/internal/fsstore"
	"github.com/heraldbot/herald/transport"
)

// Dialer builds whatsmeow sessions with their device store on a sqlite file
// inside the auth state directory. The same directory carries the
// credential summary and the reverse alias map, so a credential purge wipes
// everything in one stroke.
type Dialer struct {
	authDir string
	logger  *slog.Logger
	creds   *transport.FileCredentialStore
	aliases *identity.FileAliasStore
}

func NewDialer(authDir string, logger *slog.Logger) *Dialer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dialer{
		authDir: authDir,
		logger:  logger,
		creds:   transport.NewFileCredentialStore(authDir),
		aliases: identity.NewFileAliasStore(authDir),
	}
}

func (d *Dialer) CredentialStore() transport.CredentialStore { return d.creds }

func (d *Dialer) AliasStore() *identity.FileAliasStore { return d.aliases }

func (d *Dialer) Dial(ctx context.Context) (transport.Session, error) {
	if err := fsstore.EnsureDir(d.authDir); err != nil {
		return nil, err
	}

	dbPath := filepath.Join(d.authDir, "session.db")
	container, err := sqlstore.New(ctx, "sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)", waLog.Noop)
	if err != nil {
		return nil, fmt.Errorf("open device store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("load device: %w", err)
	}

	client := whatsmeow.NewClient(device, waLog.Noop)
	client.EnableAutoReconnect = false // reconnection policy belongs to the session manager

	sess := &Session{
		client:  client,
		creds:   d.creds,
		aliases: d.aliases,
		logger:  d.logger,
		events:  make(chan transport.Event, 128),
	}
	client.AddEventHandler(sess.handleEvent)

	if err := client.Connect(); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	sess.emit(transport.ConnectionEvent{State: transport.StateConnecting})
	return sess, nil
}

// Session is one live whatsmeow connection exposed through the transport
// contract.
type Session struct {
	client  *whatsmeow.Client
	creds   *transport.FileCredentialStore
	aliases *identity.FileAliasStore
	logger  *slog.Logger

	mu     sync.Mutex
	closed bool
	events chan transport.Event
}

func (s *Session) Events() <-chan transport.Event { return s.events }

func (s *Session) emit(ev transport.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	default:
		s.logger.Warn("event_dropped", "event", fmt.Sprintf("%T", ev))
	}
}

func (s *Session) handleEvent(evt any) {
	switch evt := evt.(type) {
	case *events.Connected:
		s.persistCredentials()
		s.emit(transport.ConnectionEvent{State: transport.StateOpen})
	case *events.PairSuccess:
		s.persistCredentials()
	case *events.Disconnected:
		s.emit(transport.ConnectionEvent{State: transport.StateClosed, Code: transport.CodeNone})
	case *events.StreamReplaced:
		s.emit(transport.ConnectionEvent{State: transport.StateClosed, Code: transport.CodeSessionExpired})
	case *events.LoggedOut:
		s.emit(transport.ConnectionEvent{State: transport.StateClosed, Code: transport.CodeLoggedOut})
	case *events.ConnectFailure:
		s.emit(transport.ConnectionEvent{State: transport.StateClosed, Code: disconnectCode(int(evt.Reason))})
	case *events.Message:
		s.handleMessage(evt)
	}
}

func disconnectCode(reason int) transport.DisconnectCode {
	switch transport.DisconnectCode(reason) {
	case transport.CodeUnauthorized, transport.CodeForbidden, transport.CodeSessionExpired, transport.CodeRestartRequired:
		return transport.DisconnectCode(reason)
	default:
		return transport.CodeNone
	}
}

// persistCredentials mirrors the registration summary next to the device
// store so the resilience manager can inspect it without touching sqlite.
func (s *Session) persistCredentials() {
	selfID := ""
	if s.client.Store.ID != nil {
		selfID = s.client.Store.ID.String()
	}
	err := s.creds.Save(transport.Credentials{Registered: selfID != "", SelfID: selfID})
	if err != nil {
		s.logger.Error("credentials_save_failed", "error", err.Error())
		return
	}
	s.emit(transport.CredentialsEvent{})
}

func (s *Session) handleMessage(evt *events.Message) {
	info := evt.Info
	if info.IsFromMe {
		return
	}

	// Side effect of session activity: record the alias's phone mapping
	// whenever the platform hands us both forms of the sender.
	if info.Sender.Server == types.HiddenUserServer && !info.SenderAlt.IsEmpty() {
		if err := s.aliases.WriteAlias(info.Sender.User, info.SenderAlt.User); err != nil {
			s.logger.Warn("alias_record_failed", "error", err.Error())
		}
	}

	conversation := info.Chat.String()
	sender := info.Sender.String()

	text := evt.Message.GetConversation()
	var contextInfo *waE2E.ContextInfo
	switch {
	case evt.Message.GetExtendedTextMessage() != nil:
		text = evt.Message.GetExtendedTextMessage().GetText()
		contextInfo = evt.Message.GetExtendedTextMessage().GetContextInfo()
	case evt.Message.GetImageMessage() != nil:
		text = evt.Message.GetImageMessage().GetCaption()
		contextInfo = evt.Message.GetImageMessage().GetContextInfo()
	case evt.Message.GetVideoMessage() != nil:
		text = evt.Message.GetVideoMessage().GetCaption()
		contextInfo = evt.Message.GetVideoMessage().GetContextInfo()
	}
	if strings.TrimSpace(text) == "" {
		return
	}

	msg := transport.Message{
		Conversation: conversation,
		Sender:       sender,
		Text:         text,
		Mentions:     contextInfo.GetMentionedJID(),
		ReplyTo:      contextInfo.GetParticipant(),
		Ref: transport.MessageRef{
			ID:           info.ID,
			Conversation: conversation,
			Participant:  sender,
		},
	}
	if contextInfo.GetQuotedMessage() != nil {
		msg.Quoted = &transport.MessageRef{
			ID:           contextInfo.GetStanzaID(),
			Conversation: conversation,
			Participant:  contextInfo.GetParticipant(),
		}
	}
	s.emit(transport.MessageEvent{Message: msg})
}

func (s *Session) RequestPairingCode(ctx context.Context, phone string) (string, error) {
	code, err := s.client.PairPhone(ctx, phone, true, whatsmeow.PairClientChrome, "Chrome (Linux)")
	if err != nil {
		return "", classifyPairingError(err)
	}
	return code, nil
}

// classifyPairingError surfaces the transient pairing failures the manager
// waits out before re-arming its request latch.
func classifyPairingError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate"):
		return fmt.Errorf("%w: %v", transport.ErrPairingRateLimited, err)
	case strings.Contains(msg, "conflict"):
		return fmt.Errorf("%w: %v", transport.ErrPairingConflict, err)
	default:
		return err
	}
}

func (s *Session) FetchRoster(_ context.Context, conversationID string) (transport.Roster, error) {
	jid, err := types.ParseJID(conversationID)
	if err != nil {
		return transport.Roster{}, fmt.Errorf("parse conversation id %q: %w", conversationID, err)
	}
	info, err := s.client.GetGroupInfo(jid)
	if err != nil {
		return transport.Roster{}, fmt.Errorf("group info for %s: %w", conversationID, err)
	}

	roster := transport.Roster{Conversation: conversationID}
	for _, p := range info.Participants {
		participant := transport.Participant{
			Address: p.JID.String(),
			Role:    transport.RoleMember,
		}
		if !p.PhoneNumber.IsEmpty() {
			participant.PhoneAddress = p.PhoneNumber.String()
		}
		switch {
		case p.IsSuperAdmin:
			participant.Role = transport.RoleSuperAdmin
		case p.IsAdmin:
			participant.Role = transport.RoleAdmin
		}
		roster.Participants = append(roster.Participants, participant)
	}
	return roster, nil
}

func (s *Session) LookupIdentity(_ context.Context, number string) (string, bool, error) {
	resp, err := s.client.IsOnWhatsApp([]string{"+" + identity.Normalize(number)})
	if err != nil {
		return "", false, fmt.Errorf("lookup %s: %w", number, err)
	}
	if len(resp) == 0 || !resp[0].IsIn {
		return "", false, nil
	}
	return resp[0].JID.String(), true, nil
}

func (s *Session) Send(ctx context.Context, conversationID string, req transport.SendRequest) error {
	jid, err := types.ParseJID(conversationID)
	if err != nil {
		return fmt.Errorf("parse conversation id %q: %w", conversationID, err)
	}

	var msg *waE2E.Message
	if len(req.Mentions) > 0 || req.Quote != nil {
		ext := &waE2E.ExtendedTextMessage{Text: proto.String(req.Text)}
		contextInfo := &waE2E.ContextInfo{}
		if len(req.Mentions) > 0 {
			contextInfo.MentionedJID = req.Mentions
		}
		if req.Quote != nil {
			contextInfo.StanzaID = proto.String(req.Quote.ID)
			contextInfo.Participant = proto.String(req.Quote.Participant)
			contextInfo.QuotedMessage = &waE2E.Message{Conversation: proto.String("")}
		}
		ext.ContextInfo = contextInfo
		msg = &waE2E.Message{ExtendedTextMessage: ext}
	} else {
		msg = &waE2E.Message{Conversation: proto.String(req.Text)}
	}

	if _, err := s.client.SendMessage(ctx, jid, msg); err != nil {
		return fmt.Errorf("send to %s: %w", conversationID, err)
	}
	return nil
}

func (s *Session) SelfAddress() string {
	if s.client.Store.ID == nil {
		return ""
	}
	return s.client.Store.ID.String()
}

func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.client.Disconnect()
	close(s.events)
}
