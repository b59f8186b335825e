package manager

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/flowsock/flowsock/internal/testutil/testlog"
	"github.com/flowsock/flowsock/internal/transport"
	"github.com/flowsock/flowsock/internal/wire"
)

// fakeSocket is the smallest thing satisfying NamespaceSocket.
type fakeSocket struct{ nsp string }

func (f fakeSocket) Namespace() string { return f.nsp }

func waitFor(t *testing.T, ch <-chan struct{}, msg string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", msg)
	}
}

func newFakeFactory(fakes chan *transport.Fake) func(uri string) transport.Transport {
	return func(uri string) transport.Transport {
		f := transport.NewFake("fake-" + uri)
		f.OpenFunc = func(*transport.Fake) {} // caller drives open/close/error explicitly
		fakes <- f
		return f
	}
}

func TestOpenReachesOpenStateOnEngineOpen(t *testing.T) {
	testlog.Start(t)
	fakes := make(chan *transport.Fake, 4)
	m := New("test://x", WithAutoConnect(false), WithTransportFactory(newFakeFactory(fakes)))

	opened := make(chan struct{}, 1)
	m.On(EventOpen, func(args ...any) { close(opened) })

	m.Open(context.Background(), nil)
	f := <-fakes
	f.Emit(transport.EventOpen)

	waitFor(t, opened, "manager open event")
	if got := m.ReadyState(); got != StateOpen {
		t.Fatalf("ReadyState()=%v, want open", got)
	}
}

func TestOpenCallbackReceivesEngineError(t *testing.T) {
	testlog.Start(t)
	fakes := make(chan *transport.Fake, 4)
	m := New("test://x", WithAutoConnect(false), WithReconnection(false), WithTransportFactory(newFakeFactory(fakes)))

	errCh := make(chan error, 1)
	m.Open(context.Background(), func(err error) { errCh <- err })
	f := <-fakes
	f.PushError(errors.New("dial refused"))

	select {
	case err := <-errCh:
		if err == nil || err.Error() != "dial refused" {
			t.Fatalf("callback err=%v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for open callback")
	}
	if got := m.ReadyState(); got != StateClosed {
		t.Fatalf("ReadyState()=%v, want closed", got)
	}
}

func TestEngineCloseTriggersReconnectAndEmitsReconnect(t *testing.T) {
	testlog.Start(t)
	fakes := make(chan *transport.Fake, 4)
	m := New("test://x", WithAutoConnect(false),
		WithReconnectionDelay(5*time.Millisecond),
		WithReconnectionDelayMax(10*time.Millisecond),
		WithTransportFactory(newFakeFactory(fakes)))

	reconnected := make(chan int, 1)
	m.On(EventReconnect, func(args ...any) { reconnected <- args[0].(int) })

	m.Open(context.Background(), nil)
	first := <-fakes
	first.Emit(transport.EventOpen)

	first.PushClose("transport error")

	second := <-fakes
	second.Emit(transport.EventOpen)

	select {
	case <-reconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reconnect event")
	}
	if got := m.ReadyState(); got != StateOpen {
		t.Fatalf("ReadyState()=%v, want open after reconnect", got)
	}
}

func TestReconnectFailedAfterAttemptCapExhausted(t *testing.T) {
	testlog.Start(t)
	fakes := make(chan *transport.Fake, 8)
	m := New("test://x", WithAutoConnect(false),
		WithReconnectionAttempts(2),
		WithReconnectionDelay(2*time.Millisecond),
		WithReconnectionDelayMax(4*time.Millisecond),
		WithTransportFactory(newFakeFactory(fakes)))

	failed := make(chan struct{}, 1)
	m.On(EventReconnectFailed, func(args ...any) { close(failed) })

	m.Open(context.Background(), nil)
	first := <-fakes
	first.Emit(transport.EventOpen)
	first.PushClose("boom")

	for i := 0; i < 2; i++ {
		select {
		case f := <-fakes:
			f.PushError(errors.New("still down"))
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for reconnect attempt %d", i)
		}
	}

	waitFor(t, failed, "reconnect_failed event")
}

func TestCloseDisablesReconnection(t *testing.T) {
	testlog.Start(t)
	fakes := make(chan *transport.Fake, 4)
	m := New("test://x", WithAutoConnect(false), WithTransportFactory(newFakeFactory(fakes)))

	m.Open(context.Background(), nil)
	f := <-fakes
	f.Emit(transport.EventOpen)

	reconnectAttempted := make(chan struct{}, 1)
	m.On(EventReconnectAttempt, func(args ...any) {
		select {
		case reconnectAttempted <- struct{}{}:
		default:
		}
	})

	m.Close()
	if got := m.ReadyState(); got != StateClosed {
		t.Fatalf("ReadyState()=%v, want closed", got)
	}
	if !f.Closed() {
		t.Fatal("expected engine to be closed")
	}

	select {
	case <-reconnectAttempted:
		t.Fatal("reconnect attempted after explicit Close")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPacketEncodesAndWritesConnectQuery(t *testing.T) {
	testlog.Start(t)
	fakes := make(chan *transport.Fake, 4)
	m := New("test://x", WithAutoConnect(false), WithTransportFactory(newFakeFactory(fakes)))

	m.Open(context.Background(), nil)
	f := <-fakes
	f.Emit(transport.EventOpen)

	if err := m.Packet(&wire.Packet{Type: wire.Connect, Nsp: "/chat", Query: "a=1"}); err != nil {
		t.Fatalf("Packet: %v", err)
	}

	writes := f.Writes()
	if len(writes) != 1 {
		t.Fatalf("writes=%d, want 1", len(writes))
	}
	if !strings.Contains(string(writes[0].Payload), `"nsp":"/chat?a=1"`) {
		t.Fatalf("payload=%s missing query-appended nsp", writes[0].Payload)
	}
}

func TestAttachReusesSocketByIdentity(t *testing.T) {
	m := New("test://x", WithAutoConnect(false))
	a := fakeSocket{nsp: "/room"}
	got1, existed1 := m.Attach("/room", a)
	if existed1 {
		t.Fatal("first Attach reported existed")
	}
	b := fakeSocket{nsp: "/room"}
	got2, existed2 := m.Attach("/room", b)
	if !existed2 {
		t.Fatal("second Attach should report existing socket")
	}
	if got1 != got2 {
		t.Fatalf("Attach returned different sockets: %v vs %v", got1, got2)
	}
}

func TestDestroyClosesEngineWhenConnectingSetEmpties(t *testing.T) {
	testlog.Start(t)
	fakes := make(chan *transport.Fake, 4)
	m := New("test://x", WithAutoConnect(false), WithTransportFactory(newFakeFactory(fakes)))
	m.Open(context.Background(), nil)
	f := <-fakes
	f.Emit(transport.EventOpen)

	s := fakeSocket{nsp: "/a"}
	m.MarkConnecting(s)
	m.Destroy(s)

	if !f.Closed() {
		t.Fatal("expected engine closed once connecting set emptied")
	}
	if got := m.ReadyState(); got != StateClosed {
		t.Fatalf("ReadyState()=%v, want closed", got)
	}
}

// TestDestroyDisablesReconnectAndStopsConnectTimeout guards the scenario
// where a socket disconnects while the engine is still opening: Destroy
// must take the same skipReconnect + cleanup path Close does, so the
// armed connect-timeout timer never fires a stray connect_error and the
// manager never slides into a reconnect loop nobody asked for.
func TestDestroyDisablesReconnectAndStopsConnectTimeout(t *testing.T) {
	testlog.Start(t)
	fakes := make(chan *transport.Fake, 4)
	m := New("test://x", WithAutoConnect(false),
		WithTimeout(20*time.Millisecond),
		WithTransportFactory(newFakeFactory(fakes)))

	connectErr := make(chan struct{}, 1)
	m.On(EventConnectError, func(args ...any) {
		select {
		case connectErr <- struct{}{}:
		default:
		}
	})
	reconnectAttempted := make(chan struct{}, 1)
	m.On(EventReconnectAttempt, func(args ...any) {
		select {
		case reconnectAttempted <- struct{}{}:
		default:
		}
	})

	m.Open(context.Background(), nil)
	<-fakes // engine never opens; left in the "opening" state

	s := fakeSocket{nsp: "/a"}
	m.MarkConnecting(s)
	m.Destroy(s)

	if got := m.ReadyState(); got != StateClosed {
		t.Fatalf("ReadyState()=%v, want closed immediately after Destroy", got)
	}

	select {
	case <-connectErr:
		t.Fatal("connect_error fired after Destroy tore the manager down")
	case <-reconnectAttempted:
		t.Fatal("reconnect attempted after Destroy tore the manager down")
	case <-time.After(60 * time.Millisecond):
	}
}

func TestDecodedPacketsAreEmittedAsManagerEvents(t *testing.T) {
	testlog.Start(t)
	fakes := make(chan *transport.Fake, 4)
	m := New("test://x", WithAutoConnect(false), WithTransportFactory(newFakeFactory(fakes)))
	m.Open(context.Background(), nil)
	f := <-fakes
	f.Emit(transport.EventOpen)

	var mu sync.Mutex
	var got *wire.Packet
	done := make(chan struct{}, 1)
	m.On(EventPacket, func(args ...any) {
		mu.Lock()
		got = args[0].(*wire.Packet)
		mu.Unlock()
		done <- struct{}{}
	})

	frames, err := wire.DefaultCodec().Encoder().Encode(&wire.Packet{Type: wire.Event, Nsp: "/", Data: []any{"hi"}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	for _, fr := range frames {
		f.PushData(fr)
	}

	waitFor(t, done, "decoded packet event")
	mu.Lock()
	defer mu.Unlock()
	if got.Type != wire.Event || got.Nsp != "/" {
		t.Fatalf("decoded packet=%+v", got)
	}
}
