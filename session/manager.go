// Package session owns the connection lifecycle: credential preflight,
// pairing, disconnect classification and backoff-scheduled reconnection.
// Exactly one live session exists per manager; a second Start while active
// is refused.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/heraldbot/herald/identity"
	"github.com/heraldbot/herald/transport"
)

var ErrAlreadyStarted = errors.New("session: manager already started")

// State is the manager's connection phase.
type State string

const (
	StateIdle            State = "idle"
	StateConnecting      State = "connecting"
	StateAwaitingPairing State = "awaiting_pairing"
	StateOpen            State = "open"
	StateClosed          State = "closed"
)

// Config carries the resilience constants. Zero values fall back to the
// defaults observed in production.
type Config struct {
	PhoneHint string // phone number the pairing code is bound to

	SettleDelay       time.Duration // wait before requesting a pairing code
	PairingRetryDelay time.Duration // wait after a rate-limited/conflicting pairing failure
	RestartDelay      time.Duration // fixed delay after an invalid-session purge
	BackoffFloor      time.Duration
	BackoffCeiling    time.Duration
	BackoffGrowth     float64
}

func (c Config) withDefaults() Config {
	if c.SettleDelay <= 0 {
		c.SettleDelay = 3 * time.Second
	}
	if c.PairingRetryDelay <= 0 {
		c.PairingRetryDelay = 10 * time.Second
	}
	if c.RestartDelay <= 0 {
		c.RestartDelay = 2 * time.Second
	}
	if c.BackoffFloor <= 0 {
		c.BackoffFloor = time.Second
	}
	if c.BackoffCeiling <= 0 {
		c.BackoffCeiling = 30 * time.Second
	}
	if c.BackoffGrowth <= 1 {
		c.BackoffGrowth = 2
	}
	return c
}

// Handler processes one inbound message. Handlers run synchronously on the
// event loop, so one message completes (including all its dispatch sends)
// before the next is looked at.
type Handler func(ctx context.Context, sess transport.Session, msg transport.Message) error

type Options struct {
	Config  Config
	Dialer  transport.Dialer
	Creds   transport.CredentialStore
	Handler Handler
	Logger  *slog.Logger

	// Test seams. AfterFunc schedules reconnects, Sleep implements the
	// settle and pairing-retry waits.
	AfterFunc func(d time.Duration, f func()) *time.Timer
	Sleep     func(ctx context.Context, d time.Duration) error
}

// Manager is the connection resilience state machine.
type Manager struct {
	cfg     Config
	dialer  transport.Dialer
	creds   transport.CredentialStore
	handler Handler
	logger  *slog.Logger

	afterFn func(d time.Duration, f func()) *time.Timer
	sleep   func(ctx context.Context, d time.Duration) error

	ctx    context.Context
	cancel context.CancelFunc

	mu               sync.Mutex
	state            State
	sess             transport.Session
	active           bool
	pairingRequested bool
	reconnectPending bool
	reconnectTimer   *time.Timer
	backoff          time.Duration
	done             chan struct{}
}

func NewManager(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	m := &Manager{
		cfg:     opts.Config.withDefaults(),
		dialer:  opts.Dialer,
		creds:   opts.Creds,
		handler: opts.Handler,
		logger:  opts.Logger,
		afterFn: opts.AfterFunc,
		sleep:   opts.Sleep,
		state:   StateIdle,
	}
	if m.afterFn == nil {
		m.afterFn = time.AfterFunc
	}
	if m.sleep == nil {
		m.sleep = sleepContext
	}
	return m
}

// State reports the current connection phase.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start begins the connection lifecycle. It returns immediately; connection
// progress is driven by session events. A second Start while active returns
// ErrAlreadyStarted.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active {
		return ErrAlreadyStarted
	}
	m.active = true
	m.backoff = m.cfg.BackoffFloor
	m.done = make(chan struct{})
	m.ctx, m.cancel = context.WithCancel(ctx)
	go m.attempt()
	return nil
}

// Stop tears the lifecycle down: cancels pending reconnects, closes any live
// session and releases the start guard.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		return
	}
	m.active = false
	m.state = StateClosed
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	sess := m.sess
	m.sess = nil
	cancel := m.cancel
	m.mu.Unlock()

	cancel()
	if sess != nil {
		sess.Close()
	}
}

// Done closes when the manager reaches a terminal state (logged out).
func (m *Manager) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

// attempt runs one full connection attempt: credential preflight, dial, and
// sequential event drain until the session ends.
func (m *Manager) attempt() {
	m.mu.Lock()
	if !m.active || m.sess != nil {
		m.mu.Unlock()
		return
	}
	m.state = StateConnecting
	ctx := m.ctx
	m.mu.Unlock()

	m.preflightCredentials(ctx)

	sess, err := m.dialer.Dial(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		m.logger.Error("connect_failed", "error", err.Error())
		m.scheduleReconnect()
		return
	}

	m.mu.Lock()
	if !m.active {
		m.mu.Unlock()
		sess.Close()
		return
	}
	m.sess = sess
	m.pairingRequested = false
	m.mu.Unlock()

	for ev := range sess.Events() {
		switch ev := ev.(type) {
		case transport.ConnectionEvent:
			if done := m.onConnection(ctx, sess, ev); done {
				sess.Close()
				return
			}
		case transport.MessageEvent:
			if m.handler == nil {
				continue
			}
			if err := m.handler(ctx, sess, ev.Message); err != nil {
				m.logger.Error("message_handler_failed", "error", err.Error())
			}
		case transport.CredentialsEvent:
			m.logger.Debug("credentials_saved")
		}
	}
}

// preflightCredentials purges credential state that claims a completed
// registration but carries no resolvable self-identity, or fails to parse
// at all. Recovery is local; the next attempt simply pairs fresh.
func (m *Manager) preflightCredentials(ctx context.Context) {
	creds, found, err := m.creds.Inspect(ctx)
	switch {
	case err != nil && ctx.Err() == nil:
		m.logger.Warn("credentials_corrupt", "error", err.Error())
		m.purgeCredentials(ctx)
	case found && creds.Registered && identity.Normalize(creds.SelfID) == "":
		m.logger.Warn("credentials_incomplete_registration", "self_id", creds.SelfID)
		m.purgeCredentials(ctx)
	case found && creds.Registered:
		m.logger.Info("credentials_found", "self_id", creds.SelfID)
	}
}

func (m *Manager) purgeCredentials(ctx context.Context) {
	if err := m.creds.Purge(ctx); err != nil {
		m.logger.Error("credentials_purge_failed", "error", err.Error())
		return
	}
	m.logger.Info("credentials_purged")
}

// onConnection advances the state machine. It reports true when the event
// loop for the current session should stop.
func (m *Manager) onConnection(ctx context.Context, sess transport.Session, ev transport.ConnectionEvent) bool {
	switch ev.State {
	case transport.StateConnecting:
		m.maybeRequestPairing(ctx, sess)
		return false
	case transport.StateOpen:
		m.mu.Lock()
		m.state = StateOpen
		m.pairingRequested = false
		m.backoff = m.cfg.BackoffFloor
		m.mu.Unlock()
		m.logger.Info("connected", "self", sess.SelfAddress())
		return false
	case transport.StateClosed:
		return m.onClose(ctx, ev.Code)
	default:
		return false
	}
}

func (m *Manager) onClose(ctx context.Context, code transport.DisconnectCode) bool {
	class := Classify(code)
	m.logger.Warn("disconnected", "code", int(code), "class", string(class))

	switch class {
	case CloseLoggedOut:
		m.mu.Lock()
		m.state = StateClosed
		m.sess = nil
		done := m.done
		m.mu.Unlock()
		m.logger.Error("logged_out_terminal", "hint", "clear the auth directory and restart to re-pair")
		close(done)
		return true

	case CloseInvalidSession:
		m.purgeCredentials(ctx)
		m.mu.Lock()
		m.state = StateClosed
		m.sess = nil
		m.pairingRequested = false
		m.backoff = m.cfg.BackoffFloor
		delay := m.cfg.RestartDelay
		m.reconnectTimer = m.afterFn(delay, m.attempt)
		m.mu.Unlock()
		m.logger.Info("restart_scheduled", "delay", delay.String())
		return true

	default:
		m.mu.Lock()
		m.state = StateClosed
		m.sess = nil
		m.pairingRequested = false
		m.mu.Unlock()
		m.scheduleReconnect()
		return true
	}
}

// scheduleReconnect arms at most one backoff timer; close events arriving
// while a reconnect is already pending are ignored.
func (m *Manager) scheduleReconnect() {
	m.mu.Lock()
	if !m.active || m.reconnectPending {
		m.mu.Unlock()
		return
	}
	m.reconnectPending = true
	delay := m.backoff
	m.backoff = nextBackoff(m.backoff, m.cfg.BackoffGrowth, m.cfg.BackoffCeiling)
	m.reconnectTimer = m.afterFn(delay, func() {
		m.mu.Lock()
		m.reconnectPending = false
		m.reconnectTimer = nil
		m.mu.Unlock()
		m.attempt()
	})
	m.mu.Unlock()
	m.logger.Info("reconnect_scheduled", "delay", delay.String())
}

// maybeRequestPairing fires the pairing flow once per connection attempt.
// Already-registered credentials latch without requesting, so a registered
// session proceeds straight to awaiting open.
func (m *Manager) maybeRequestPairing(ctx context.Context, sess transport.Session) {
	m.mu.Lock()
	if m.pairingRequested {
		m.mu.Unlock()
		return
	}
	m.pairingRequested = true
	m.mu.Unlock()

	creds, found, err := m.creds.Inspect(ctx)
	if err == nil && found && creds.Registered {
		return
	}

	m.mu.Lock()
	m.state = StateAwaitingPairing
	m.mu.Unlock()

	go m.requestPairing(ctx, sess)
}

func (m *Manager) requestPairing(ctx context.Context, sess transport.Session) {
	// Let the transport settle before binding a pairing code to it.
	if err := m.sleep(ctx, m.cfg.SettleDelay); err != nil {
		return
	}

	code, err := sess.RequestPairingCode(ctx, m.cfg.PhoneHint)
	if err != nil {
		m.logger.Error("pairing_failed", "error", err.Error())
		if errors.Is(err, transport.ErrPairingRateLimited) || errors.Is(err, transport.ErrPairingConflict) {
			if serr := m.sleep(ctx, m.cfg.PairingRetryDelay); serr != nil {
				return
			}
		}
		// Re-arm so the next connecting event can request again.
		m.mu.Lock()
		m.pairingRequested = false
		m.mu.Unlock()
		return
	}

	m.logger.Info("pairing_code", "code", code, "phone", m.cfg.PhoneHint)
}

func nextBackoff(current time.Duration, growth float64, ceiling time.Duration) time.Duration {
	next := time.Duration(float64(current) * growth)
	if next > ceiling {
		next = ceiling
	}
	return next
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
