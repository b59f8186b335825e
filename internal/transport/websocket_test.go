package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/flowsock/flowsock/internal/testutil/testlog"
	"github.com/flowsock/flowsock/internal/wire"
)

var testUpgrader = websocket.Upgrader{}

func newEchoServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"sid":"server-assigned-1"}`)); err != nil {
			return
		}
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
}

func TestWebsocketTransportOpensAndEchoes(t *testing.T) {
	testlog.Start(t)
	srv := newEchoServer(t)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/"

	tr := NewWebsocketTransport(wsURL, nil)
	opened := make(chan struct{}, 1)
	data := make(chan wire.Frame, 1)
	tr.On(EventOpen, func(args ...any) { opened <- struct{}{} })
	tr.On(EventData, func(args ...any) { data <- args[0].(wire.Frame) })

	if err := tr.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	select {
	case <-opened:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for open")
	}
	if tr.ID() != "server-assigned-1" {
		t.Fatalf("ID()=%q, want server-assigned-1", tr.ID())
	}

	if err := tr.Write(wire.Frame{Payload: []byte("hello")}, wire.Options{}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	select {
	case f := <-data:
		if string(f.Payload) != "hello" {
			t.Fatalf("echoed payload=%q", f.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for echo")
	}

	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestWebsocketTransportOpenErrorOnBadURL(t *testing.T) {
	testlog.Start(t)
	tr := NewWebsocketTransport("ws://127.0.0.1:1/definitely-closed", nil)
	errCh := make(chan error, 1)
	tr.On(EventError, func(args ...any) { errCh <- args[0].(error) })
	if err := tr.Open(context.Background()); err != nil {
		t.Fatalf("Open returned synchronous error: %v", err)
	}
	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected non-nil error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for error event")
	}
}
