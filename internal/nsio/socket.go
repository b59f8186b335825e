// Package nsio implements the namespace socket: the per-namespace
// channel a caller actually emits and listens on, layered over one
// shared manager.Manager.
//
// Ownership boundary:
// - ack correlation, send/receive buffering across disconnects
// - the auth handshake and reserved-event enforcement
// - translating manager-level lifecycle events into socket-level ones
//
// It knows nothing about the engine transport, packet encoding, or
// reconnection scheduling; those stay entirely inside manager.Manager.
package nsio

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flowsock/flowsock/internal/emitter"
	"github.com/flowsock/flowsock/internal/logging"
	"github.com/flowsock/flowsock/internal/manager"
	"github.com/flowsock/flowsock/internal/observability"
	"github.com/flowsock/flowsock/internal/wire"
)

// AckFunc is the shape a variadic emit's trailing argument must have to
// be recognized as an ack handler. Go has no notion of "the last
// argument happens to be callable"; callers opt in by passing a value
// of this type.
type AckFunc func(args ...any)

var reservedEvents = map[string]struct{}{
	"connect":        {},
	"disconnect":     {},
	"disconnecting":  {},
	"error":          {},
	"newListener":    {},
	"removeListener": {},
}

// IsReserved reports whether event is one of the names a caller may
// not use as an outbound emit's event name.
func IsReserved(event string) bool {
	_, ok := reservedEvents[event]
	return ok
}

// Options configures a Socket at construction. Auth is sent as-is on
// every CONNECT; AuthProvider, if set, takes precedence and is invoked
// with a callback that supplies the payload once ready. Query is
// appended to the namespace path of every outbound CONNECT, and of no
// other packet.
type Options struct {
	Auth         any
	AuthProvider func(deliver func(payload any))
	Query        string
}

type flags struct {
	compressSet bool
	compress    bool
	binarySet   bool
	binary      bool
}

// Socket is one namespace's view of a shared manager.Manager: emit,
// receive, ack correlation, and buffering across (re)connects.
type Socket struct {
	events *emitter.Emitter

	m    *manager.Manager
	nsp  string
	opts Options

	mu            sync.Mutex
	id            string
	connected     bool
	disconnected  bool
	ids           int64
	acks          map[int64]ackEntry
	sendBuffer    []*wire.Packet
	receiveBuffer [][]any
	flags         flags
	subs          []emitter.Subscription
}

type ackEntry struct {
	fn       AckFunc
	issuedAt time.Time
}

// New returns the Socket registered for nsp on m, constructing one on
// first request and reusing the existing instance by identity on every
// subsequent call — the same reuse-across-reconnects guarantee the
// manager's nsps registry provides. If m's autoConnect is enabled and
// this call created the socket, it also opens it.
func New(m *manager.Manager, nsp string, opts Options) *Socket {
	if nsp == "" {
		nsp = "/"
	}
	candidate := &Socket{
		events: emitter.New(),
		m:      m,
		nsp:    nsp,
		opts:   opts,
		acks:   make(map[int64]ackEntry),
	}
	registered, existed := m.Attach(nsp, candidate)
	s := registered.(*Socket)
	if !existed && m.AutoConnect() {
		s.Connect()
	}
	return s
}

// Namespace implements manager.NamespaceSocket.
func (s *Socket) Namespace() string { return s.nsp }

// ID returns the server-assigned session id, empty while disconnected.
func (s *Socket) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Connected reports whether the socket currently considers itself
// attached to an open namespace session.
func (s *Socket) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Disconnected is the complement of Connected; exactly one is true.
func (s *Socket) Disconnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnected
}

// On registers a listener for a local event: "connect", "disconnect",
// "error", or any user-defined event name delivered from the server.
func (s *Socket) On(event string, fn emitter.HandlerFunc) emitter.Subscription {
	return s.events.On(event, fn)
}

// Connect attaches to the manager's lifecycle events (idempotent) and
// ensures the engine is opening, unless the manager is already
// reconnecting on this socket's behalf. If the engine is already open,
// the CONNECT handshake runs immediately rather than waiting for an
// "open" event this socket subscribed to too late to observe.
func (s *Socket) Connect() *Socket {
	s.attach()
	s.m.MarkConnecting(s)
	switch {
	case s.m.ReadyState() == manager.StateOpen:
		s.onOpen()
	case !s.m.Reconnecting():
		s.m.Open(context.Background(), nil)
	}
	return s
}

// Open is an alias of Connect.
func (s *Socket) Open() *Socket { return s.Connect() }

func (s *Socket) attach() {
	s.mu.Lock()
	if s.subs != nil {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	subs := []emitter.Subscription{
		s.m.On(manager.EventOpen, func(args ...any) { s.onOpen() }),
		s.m.On(manager.EventPacket, func(args ...any) {
			p, ok := args[0].(*wire.Packet)
			if !ok {
				return
			}
			s.onPacket(p)
		}),
		s.m.On(manager.EventClose, func(args ...any) {
			reason, _ := args[0].(string)
			s.onClose(reason)
		}),
	}

	s.mu.Lock()
	s.subs = subs
	s.mu.Unlock()
}

func (s *Socket) onOpen() {
	if s.opts.AuthProvider != nil {
		s.opts.AuthProvider(func(payload any) { s.sendConnect(payload) })
		return
	}
	s.sendConnect(s.opts.Auth)
}

func (s *Socket) sendConnect(auth any) {
	p := &wire.Packet{Type: wire.Connect, Data: auth, Query: s.opts.Query}
	if err := s.packet(p); err != nil {
		logging.L().Debug().Err(err).Str("nsp", s.nsp).Msg("nsio: connect handshake failed")
	}
}

// Emit sends an EVENT or BINARY_EVENT packet. If the last variadic
// argument is an AckFunc, it is registered against a freshly assigned
// ack id instead of being sent on the wire. Returns an error, without
// sending anything, if event is one of the reserved names.
func (s *Socket) Emit(event string, args ...any) error {
	if IsReserved(event) {
		return fmt.Errorf("nsio: %q is a reserved event name", event)
	}

	data := make([]any, 0, len(args)+1)
	data = append(data, event)
	data = append(data, args...)

	var ack AckFunc
	if len(data) > 1 {
		if fn, ok := data[len(data)-1].(AckFunc); ok {
			ack = fn
			data = data[:len(data)-1]
		}
	}

	s.mu.Lock()
	forceBinary, binaryChosen := s.flags.binary, s.flags.binarySet
	compress := true
	if s.flags.compressSet {
		compress = s.flags.compress
	}
	isBinary := forceBinary
	if !binaryChosen {
		isBinary = containsBinary(data)
	}
	ptype := wire.Event
	if isBinary {
		ptype = wire.BinaryEvent
	}
	p := &wire.Packet{Type: ptype, Data: data, Options: wire.Options{Compress: compress}}
	if ack != nil {
		id := s.ids
		s.ids++
		s.acks[id] = ackEntry{fn: ack, issuedAt: time.Now()}
		p.ID = &id
	}
	connected := s.connected
	if !connected {
		s.sendBuffer = append(s.sendBuffer, p)
	}
	s.flags = flags{}
	s.mu.Unlock()

	if !connected {
		return nil
	}
	return s.packet(p)
}

// Send is the conventional alias for Emit("message", args...).
func (s *Socket) Send(args ...any) error {
	return s.Emit("message", args...)
}

// Compress sets the one-shot compress flag for the next Emit and
// returns the Socket for chaining.
func (s *Socket) Compress(v bool) *Socket {
	s.mu.Lock()
	s.flags.compressSet = true
	s.flags.compress = v
	s.mu.Unlock()
	return s
}

// Binary forces (or forbids) BINARY_EVENT framing for the next Emit,
// overriding auto-detection, and returns the Socket for chaining.
func (s *Socket) Binary(v bool) *Socket {
	s.mu.Lock()
	s.flags.binarySet = true
	s.flags.binary = v
	s.mu.Unlock()
	return s
}

// Disconnect sends a DISCONNECT packet if currently connected, detaches
// from the manager, and synthesizes a local "disconnect" event with
// reason "io client disconnect".
func (s *Socket) Disconnect() *Socket {
	s.mu.Lock()
	connected := s.connected
	s.mu.Unlock()
	if connected {
		if err := s.packet(&wire.Packet{Type: wire.Disconnect}); err != nil {
			logging.L().Debug().Err(err).Msg("nsio: disconnect packet failed")
		}
	}
	s.detach()
	s.onClose("io client disconnect")
	return s
}

// Close is an alias of Disconnect.
func (s *Socket) Close() *Socket { return s.Disconnect() }

func (s *Socket) detach() {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()
	emitter.ReleaseAll(subs)
	s.m.Destroy(s)
}

// onPacket accepts p iff it targets this namespace, with the one
// exception the spec carves out: a root-namespace ERROR (e.g. a
// middleware rejection during CONNECT) is delivered to every socket so
// the namespace under rejection can surface it locally.
func (s *Socket) onPacket(p *wire.Packet) {
	if p.Nsp != s.nsp && !(p.Type == wire.Error && p.Nsp == "/") {
		return
	}
	switch p.Type {
	case wire.Connect:
		s.onConnect(p)
	case wire.Event, wire.BinaryEvent:
		s.onEvent(p)
	case wire.Ack, wire.BinaryAck:
		s.onAck(p)
	case wire.Disconnect:
		s.onServerDisconnect()
	case wire.Error:
		s.events.Emit("error", p.Data)
	}
}

func (s *Socket) onConnect(p *wire.Packet) {
	sid := ""
	if m, ok := p.Data.(map[string]any); ok {
		if v, ok := m["sid"].(string); ok {
			sid = v
		}
	}
	s.mu.Lock()
	s.id = sid
	s.connected = true
	s.disconnected = false
	s.mu.Unlock()

	s.events.Emit("connect")
	s.emitBuffered()
}

func (s *Socket) onEvent(p *wire.Packet) {
	data, _ := p.Data.([]any)
	if len(data) == 0 {
		return
	}
	event, _ := data[0].(string)
	args := append([]any{}, data[1:]...)
	if p.ID != nil {
		args = append(args, s.ack(*p.ID))
	}

	s.mu.Lock()
	connected := s.connected
	if !connected {
		entry := append([]any{event}, args...)
		s.receiveBuffer = append(s.receiveBuffer, entry)
	}
	s.mu.Unlock()

	if connected {
		s.events.Emit(event, args...)
	}
}

func (s *Socket) onAck(p *wire.Packet) {
	if p.ID == nil {
		return
	}
	s.mu.Lock()
	entry, ok := s.acks[*p.ID]
	if ok {
		delete(s.acks, *p.ID)
	}
	s.mu.Unlock()
	if !ok {
		logging.L().Debug().Int64("id", *p.ID).Msg("nsio: ack for unknown id dropped")
		return
	}
	observability.RecordAckLatency(time.Since(entry.issuedAt).Seconds())
	data, _ := p.Data.([]any)
	entry.fn(data...)
}

// ack returns the callback onevent hands to a listener when the
// inbound packet carries an id. It is guarded so a server that fires
// its ack twice only has an effect once.
func (s *Socket) ack(id int64) AckFunc {
	var fired atomic.Bool
	return func(args ...any) {
		if !fired.CompareAndSwap(false, true) {
			return
		}
		data := append([]any{}, args...)
		ptype := wire.Ack
		if containsBinary(data) {
			ptype = wire.BinaryAck
		}
		ackID := id
		if err := s.packet(&wire.Packet{Type: ptype, Data: data, ID: &ackID}); err != nil {
			logging.L().Debug().Err(err).Msg("nsio: ack send failed")
		}
	}
}

func (s *Socket) onServerDisconnect() {
	s.detach()
	s.onClose("io server disconnect")
}

// onClose is the manager-close handler: it clears connection state
// without touching subs, so a socket whose manager closes stays
// attached and auto-reattaches on the manager's next open. Acks are
// per-session and cannot be answered once the session is gone, so any
// still outstanding are dropped along with the id counter's owning
// connection.
func (s *Socket) onClose(reason string) {
	s.mu.Lock()
	s.connected = false
	s.disconnected = true
	s.id = ""
	s.acks = make(map[int64]ackEntry)
	s.mu.Unlock()
	s.events.Emit("disconnect", reason)
}

func (s *Socket) emitBuffered() {
	s.mu.Lock()
	recv := s.receiveBuffer
	s.receiveBuffer = nil
	send := s.sendBuffer
	s.sendBuffer = nil
	s.mu.Unlock()

	for _, entry := range recv {
		if len(entry) == 0 {
			continue
		}
		event, _ := entry[0].(string)
		s.events.Emit(event, entry[1:]...)
	}
	for _, p := range send {
		if err := s.packet(p); err != nil {
			logging.L().Debug().Err(err).Msg("nsio: buffered send failed")
		}
	}
}

func (s *Socket) packet(p *wire.Packet) error {
	p.Nsp = s.nsp
	return s.m.Packet(p)
}

func containsBinary(v any) bool {
	switch t := v.(type) {
	case []byte:
		return true
	case []any:
		for _, vv := range t {
			if containsBinary(vv) {
				return true
			}
		}
	case map[string]any:
		for _, vv := range t {
			if containsBinary(vv) {
				return true
			}
		}
	}
	return false
}
