// Package transport defines the engine-transport contract the manager
// dials, and ships one reference implementation over a websocket.
//
// Ownership boundary:
// - opaque duplex frame delivery (open/data/ping/close/error)
// - nothing about packet framing, namespaces, or reconnection: that is
//   the manager's job, layered on top of whatever Transport it is given
package transport

import (
	"context"

	"github.com/flowsock/flowsock/internal/emitter"
	"github.com/flowsock/flowsock/internal/wire"
)

// Events emitted by every Transport implementation.
const (
	EventOpen  = "open"
	EventPing  = "ping"
	EventData  = "data"
	EventClose = "close"
	EventError = "error"
)

// Transport is a constructable duplex connection that carries opaque
// frames. Implementations emit open/ping/data/close/error through their
// embedded Emitter and accept writes via Write.
type Transport interface {
	// Open dials the remote endpoint. It must eventually emit EventOpen
	// on success or EventError on failure; it does not block waiting for
	// either.
	Open(ctx context.Context) error
	// Write sends one frame. Non-blocking: callers do not wait for the
	// write to reach the peer.
	Write(f wire.Frame, opts wire.Options) error
	// Close tears down the connection without error.
	Close() error
	// ID is the server-assigned session identifier, valid once open.
	ID() string
	// On registers a listener for one of the Event* constants.
	On(event string, fn emitter.HandlerFunc) emitter.Subscription
	// Emit is exposed so test doubles and the manager's synthetic
	// connect-timeout error can inject events without a type assertion
	// back to a concrete transport.
	Emit(event string, args ...any)
}
