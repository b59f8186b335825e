// Package manager owns the engine transport, encodes and decodes the
// packet framing riding on top of it, and drives the reconnection state
// machine that everything above it (the namespace sockets) observes
// passively.
//
// Ownership boundary:
// - the one live Transport and its open/opening/closed lifecycle
// - packet encode/decode, dispatched as Manager-level events
// - reconnection: backoff scheduling, attempt counting, give-up
// - the nsp → NamespaceSocket registry (identity reuse across reconnects)
//
// It knows nothing about ack correlation, send/receive buffering, or
// auth handshakes; those are the namespace socket's concerns, wired up
// by subscribing to the events this package emits.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/flowsock/flowsock/internal/backoff"
	"github.com/flowsock/flowsock/internal/emitter"
	"github.com/flowsock/flowsock/internal/logging"
	"github.com/flowsock/flowsock/internal/observability"
	"github.com/flowsock/flowsock/internal/transport"
	"github.com/flowsock/flowsock/internal/wire"
)

// Manager-level events, mirrored on the embedded Emitter.
const (
	EventOpen             = "open"
	EventClose            = "close"
	EventError            = "error"
	EventPing             = "ping"
	EventPacket           = "packet"
	EventConnectError     = "connect_error"
	EventReconnectAttempt = "reconnect_attempt"
	EventReconnecting     = "reconnecting"
	EventReconnect        = "reconnect"
	EventReconnectError   = "reconnect_error"
	EventReconnectFailed  = "reconnect_failed"
)

// ErrTimeout is the synthetic error injected when the connect-phase
// timer expires before the engine reports open.
var ErrTimeout = errors.New("manager: timeout")

// State is one of the three values the state machine may occupy.
type State int32

const (
	StateClosed State = iota
	StateOpening
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// NamespaceSocket is the minimal shape the Manager needs from anything
// it registers under a namespace path: enough to support by-identity
// reuse across reconnects. Everything else (open/close/packet
// dispatch) a namespace socket learns by subscribing directly to the
// Manager's Emitter, the same way socket.io-client's own Socket does.
type NamespaceSocket interface {
	Namespace() string
}

// Manager is the connection manager: one engine transport, one codec,
// one reconnection state machine, shared by every namespace socket
// constructed against it.
type Manager struct {
	*emitter.Emitter

	uri    string
	cfg    Config
	codec  wire.Codec
	newEng func(uri string) transport.Transport

	mu            sync.Mutex
	readyState    State
	reconnecting  bool
	skipReconnect bool
	engine        transport.Transport
	decoder       wire.Decoder
	subs          []emitter.Subscription
	backoff       *backoff.Backoff
	nsps          map[string]NamespaceSocket
	connecting    map[NamespaceSocket]struct{}
}

// New constructs a Manager for uri with cfg applied on top of
// DefaultConfig. If cfg.AutoConnect is true, Open is invoked
// immediately, before New returns, matching the constructor-triggers-open
// behavior of the public contract.
func New(uri string, opts ...Option) *Manager {
	cfg := DefaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	newEng := cfg.NewTransport
	if newEng == nil {
		newEng = defaultTransportFactory(cfg.Path)
	}
	codec := cfg.Codec
	if codec == nil {
		codec = wire.DefaultCodec()
	}

	m := &Manager{
		Emitter:    emitter.New(),
		uri:        uri,
		cfg:        cfg,
		codec:      codec,
		newEng:     newEng,
		backoff:    backoff.New(cfg.ReconnectionDelay, cfg.ReconnectionDelayMax),
		nsps:       make(map[string]NamespaceSocket),
		connecting: make(map[NamespaceSocket]struct{}),
	}
	m.backoff.SetJitter(cfg.RandomizationFactor)

	if cfg.AutoConnect {
		m.Open(context.Background(), nil)
	}
	return m
}

// ReadyState reports the current state machine state.
func (m *Manager) ReadyState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readyState
}

// AutoConnect reports the constructor-surface autoConnect setting a
// namespace socket consults to decide whether its own construction
// should trigger an open.
func (m *Manager) AutoConnect() bool {
	return m.cfg.AutoConnect
}

// Reconnecting reports whether the reconnect loop currently has a
// delay timer or open attempt outstanding.
func (m *Manager) Reconnecting() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reconnecting
}

// EngineID passes through the underlying transport's session id, or ""
// if no transport is open.
func (m *Manager) EngineID() string {
	m.mu.Lock()
	eng := m.engine
	m.mu.Unlock()
	if eng == nil {
		return ""
	}
	return eng.ID()
}

// Open transitions closed → opening and dials a fresh engine transport.
// cb, if non-nil, is invoked once with the outcome; a nil error means
// the engine reported open. A callback-less open falls through to the
// reconnect loop on failure instead of reporting back to a caller. If
// the Manager is already opening or open, Open returns without side
// effects and cb is never invoked.
func (m *Manager) Open(ctx context.Context, cb func(error)) {
	m.mu.Lock()
	if m.readyState == StateOpening || m.readyState == StateOpen {
		m.mu.Unlock()
		return
	}
	m.readyState = StateOpening
	m.skipReconnect = false
	eng := m.newEng(m.uri)
	m.engine = eng
	m.decoder = m.codec.NewDecoder()
	m.mu.Unlock()

	logging.L().Debug().Str("uri", m.uri).Msg("manager: opening")

	var subs []emitter.Subscription
	var openSub emitter.Subscription
	openSub = eng.On(transport.EventOpen, func(args ...any) {
		m.onEngineOpen(eng)
		if cb != nil {
			cb(nil)
		}
	})
	subs = append(subs, openSub)

	subs = append(subs, eng.On(transport.EventError, func(args ...any) {
		err := toError(args)
		m.mu.Lock()
		m.cleanupLocked()
		m.readyState = StateClosed
		m.mu.Unlock()

		logging.L().Warn().Err(err).Msg("manager: connect_error")
		m.Emit(EventConnectError, err)
		if cb != nil {
			cb(err)
		} else {
			m.maybeReconnectOnOpen()
		}
	}))

	if m.cfg.Timeout != nil {
		timeout := *m.cfg.Timeout
		if timeout == 0 {
			openSub.Release()
		}
		timer := time.AfterFunc(timeout, func() {
			openSub.Release()
			_ = eng.Close()
			eng.Emit(transport.EventError, ErrTimeout)
		})
		subs = append(subs, emitter.NewSubscription(func() { timer.Stop() }))
	}

	m.mu.Lock()
	m.subs = append(m.subs, subs...)
	m.mu.Unlock()

	if err := eng.Open(ctx); err != nil {
		eng.Emit(transport.EventError, err)
	}
}

// Connect is a semantic alias of Open, matching the public contract's
// two names for the same operation.
func (m *Manager) Connect(ctx context.Context, cb func(error)) { m.Open(ctx, cb) }

func (m *Manager) onEngineOpen(eng transport.Transport) {
	m.mu.Lock()
	m.cleanupLocked()
	m.readyState = StateOpen
	m.backoff.Reset()
	m.mu.Unlock()

	observability.RecordManagerOpen()
	logging.L().Info().Str("engine_id", eng.ID()).Msg("manager: open")
	m.Emit(EventOpen)

	m.mu.Lock()
	dec := m.decoder
	m.mu.Unlock()
	if dec != nil {
		dec.OnDecoded(func(p *wire.Packet) { m.Emit(EventPacket, p) })
	}

	var subs []emitter.Subscription
	subs = append(subs, eng.On(transport.EventData, func(args ...any) {
		f, ok := args[0].(wire.Frame)
		if !ok {
			return
		}
		m.mu.Lock()
		dec := m.decoder
		m.mu.Unlock()
		if dec == nil {
			return
		}
		if err := dec.Add(f); err != nil {
			logging.L().Debug().Err(err).Msg("manager: decode error")
		}
	}))
	subs = append(subs, eng.On(transport.EventPing, func(args ...any) {
		m.Emit(EventPing)
	}))
	subs = append(subs, eng.On(transport.EventError, func(args ...any) {
		m.Emit(EventError, toError(args))
	}))
	subs = append(subs, eng.On(transport.EventClose, func(args ...any) {
		reason := ""
		if len(args) > 0 {
			if s, ok := args[0].(string); ok {
				reason = s
			}
		}
		m.onEngineClose(reason)
	}))

	m.mu.Lock()
	m.subs = append(m.subs, subs...)
	m.mu.Unlock()
}

func (m *Manager) onEngineClose(reason string) {
	m.mu.Lock()
	m.cleanupLocked()
	m.backoff.Reset()
	m.readyState = StateClosed
	reconnection := m.cfg.Reconnection
	skip := m.skipReconnect
	m.mu.Unlock()

	observability.RecordManagerClose(reason)
	logging.L().Info().Str("reason", reason).Msg("manager: closed")
	m.Emit(EventClose, reason)

	if reconnection && !skip {
		m.reconnect()
	}
}

// maybeReconnectOnOpen is invoked after a callback-less Open fails; it
// is the only path into the reconnect loop from a fresh (never-opened)
// Manager, mirroring the distinction the public contract draws between
// callback-bearing and callback-less opens.
func (m *Manager) maybeReconnectOnOpen() {
	m.mu.Lock()
	reconnection := m.cfg.Reconnection
	skip := m.skipReconnect
	m.mu.Unlock()
	if reconnection && !skip {
		m.reconnect()
	}
}

func (m *Manager) reconnect() {
	m.mu.Lock()
	if m.reconnecting || m.skipReconnect {
		m.mu.Unlock()
		return
	}
	attempts := m.backoff.Attempts()
	max := m.cfg.ReconnectionAttempts
	if max > 0 && attempts >= max {
		m.backoff.Reset()
		m.mu.Unlock()
		logging.L().Warn().Int("attempts", attempts).Msg("manager: reconnect_failed")
		observability.RecordManagerReconnectFailed()
		m.Emit(EventReconnectFailed)
		return
	}
	delay := m.backoff.Duration()
	m.reconnecting = true
	m.mu.Unlock()

	timer := time.AfterFunc(delay, func() { m.runReconnectAttempt() })
	m.mu.Lock()
	m.subs = append(m.subs, emitter.NewSubscription(func() { timer.Stop() }))
	m.mu.Unlock()
}

func (m *Manager) runReconnectAttempt() {
	m.mu.Lock()
	if m.skipReconnect {
		m.mu.Unlock()
		return
	}
	attempt := m.backoff.Attempts()
	m.mu.Unlock()

	observability.RecordManagerReconnectAttempt()
	logging.L().Debug().Int("attempt", attempt).Msg("manager: reconnect_attempt")
	m.Emit(EventReconnectAttempt, attempt)
	m.Emit(EventReconnecting, attempt)

	m.mu.Lock()
	if m.skipReconnect {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.Open(context.Background(), func(err error) {
		if err != nil {
			m.mu.Lock()
			m.reconnecting = false
			m.mu.Unlock()
			m.Emit(EventReconnectError, err)
			m.reconnect()
			return
		}
		m.mu.Lock()
		m.reconnecting = false
		m.mu.Unlock()
		m.backoff.Reset()
		logging.L().Info().Int("attempt", attempt).Msg("manager: reconnect")
		m.Emit(EventReconnect, attempt)
	})
}

// cleanupLocked releases every accumulated subscription and discards
// any partially decoded packet. Callers must hold m.mu.
func (m *Manager) cleanupLocked() {
	emitter.ReleaseAll(m.subs)
	m.subs = m.subs[:0]
	if m.decoder != nil {
		m.decoder.Destroy()
	}
}

// Packet encodes p and writes every resulting frame to the live engine.
// A CONNECT packet carrying a non-empty Query has it appended to Nsp
// as "?"+query before encoding; this is the only channel namespace
// sockets have to send per-connection query parameters.
func (m *Manager) Packet(p *wire.Packet) error {
	if p.Type == wire.Connect && p.Query != "" {
		p.Nsp = p.Nsp + "?" + p.Query
	}
	frames, err := m.codec.Encoder().Encode(p)
	if err != nil {
		return fmt.Errorf("manager: encode packet: %w", err)
	}
	m.mu.Lock()
	eng := m.engine
	m.mu.Unlock()
	if eng == nil {
		return errors.New("manager: write before open")
	}
	for _, f := range frames {
		if err := eng.Write(f, p.Options); err != nil {
			return fmt.Errorf("manager: write frame: %w", err)
		}
	}
	return nil
}

// Close tears the Manager down explicitly and disables reconnection.
// Disconnect is a semantic alias; the public contract keeps both names
// for historical reasons but treats them as one operation.
func (m *Manager) Close() {
	m.mu.Lock()
	m.skipReconnect = true
	m.reconnecting = false
	wasOpening := m.readyState == StateOpening
	m.mu.Unlock()

	if wasOpening {
		m.mu.Lock()
		m.cleanupLocked()
		m.mu.Unlock()
	}
	m.backoff.Reset()

	m.mu.Lock()
	m.readyState = StateClosed
	eng := m.engine
	m.mu.Unlock()

	if eng != nil {
		_ = eng.Close()
	}
}

// Disconnect is an alias of Close.
func (m *Manager) Disconnect() { m.Close() }

// Attach registers candidate under nsp if nothing is registered there
// yet, otherwise returns the socket already registered so callers reuse
// it by identity across reconnects (nsps is monotonically growing and
// never shrinks during the Manager's lifetime).
func (m *Manager) Attach(nsp string, candidate NamespaceSocket) (NamespaceSocket, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.nsps[nsp]; ok {
		return existing, true
	}
	m.nsps[nsp] = candidate
	return candidate, false
}

// Lookup returns the socket registered under nsp, if any.
func (m *Manager) Lookup(nsp string) (NamespaceSocket, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.nsps[nsp]
	return s, ok
}

// MarkConnecting adds s to the set of sockets considering themselves
// live on this Manager.
func (m *Manager) MarkConnecting(s NamespaceSocket) {
	m.mu.Lock()
	m.connecting[s] = struct{}{}
	m.mu.Unlock()
}

// Destroy removes s from the connecting set; once it empties, the
// Manager is torn down via Close, the same path an explicit user-level
// close takes, so the last socket detaching stops reconnection and
// releases the connect-timeout timer instead of leaving them armed
// against a connection nothing is using anymore.
func (m *Manager) Destroy(s NamespaceSocket) {
	m.mu.Lock()
	delete(m.connecting, s)
	empty := len(m.connecting) == 0
	m.mu.Unlock()
	if empty {
		m.Close()
	}
}

func toError(args []any) error {
	if len(args) == 0 {
		return errors.New("manager: engine error")
	}
	if err, ok := args[0].(error); ok {
		return err
	}
	return fmt.Errorf("manager: %v", args[0])
}
