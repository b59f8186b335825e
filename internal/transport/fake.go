package transport

import (
	"context"
	"sync"

	"github.com/flowsock/flowsock/internal/emitter"
	"github.com/flowsock/flowsock/internal/wire"
)

// Fake is an in-process Transport double used by the manager and nsio
// test suites (and available to any caller that wants to drive the
// reconnection state machine without a real socket). OpenFunc, if set,
// runs on Open and controls whether/when EventOpen or EventError fires;
// the zero value fires EventOpen immediately.
type Fake struct {
	*emitter.Emitter

	mu       sync.Mutex
	id       string
	writes   []fakeWrite
	closed   bool
	OpenFunc func(t *Fake)
}

type fakeWrite struct {
	Frame   wire.Frame
	Options wire.Options
}

// NewFake returns a Fake whose ID is id.
func NewFake(id string) *Fake {
	return &Fake{Emitter: emitter.New(), id: id}
}

func (f *Fake) Open(ctx context.Context) error {
	if f.OpenFunc != nil {
		f.OpenFunc(f)
		return nil
	}
	f.Emit(EventOpen)
	return nil
}

func (f *Fake) Write(fr wire.Frame, opts wire.Options) error {
	f.mu.Lock()
	f.writes = append(f.writes, fakeWrite{Frame: fr, Options: opts})
	f.mu.Unlock()
	return nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *Fake) ID() string { return f.id }

// SetID updates the session id a subsequent Open-triggered handshake
// would have assigned; useful to simulate a new id on each reconnect.
func (f *Fake) SetID(id string) {
	f.mu.Lock()
	f.id = id
	f.mu.Unlock()
}

// Writes returns a snapshot of every frame handed to Write so far.
func (f *Fake) Writes() []wire.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]wire.Frame, len(f.writes))
	for i, w := range f.writes {
		out[i] = w.Frame
	}
	return out
}

// Closed reports whether Close has been called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// PushData simulates the remote side sending a frame.
func (f *Fake) PushData(frame wire.Frame) { f.Emit(EventData, frame) }

// PushClose simulates the remote side closing the connection.
func (f *Fake) PushClose(reason string) { f.Emit(EventClose, reason) }

// PushError simulates a transport-level error.
func (f *Fake) PushError(err error) { f.Emit(EventError, err) }
