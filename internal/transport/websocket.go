package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"github.com/flowsock/flowsock/internal/emitter"
	"github.com/flowsock/flowsock/internal/wire"
)

var handshakeJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// handshake is the payload the reference server is expected to send as
// the first message after the websocket upgrade completes.
type handshake struct {
	SID string `json:"sid"`
}

// WebsocketTransport is the module's reference Transport: one
// websocket connection, a read pump that fans decoded messages out
// through the embedded Emitter, and a mutex-guarded Write (gorilla's
// *websocket.Conn is not safe for concurrent writers, the same
// constraint the teacher's MirageSession guards around conn.Write).
type WebsocketTransport struct {
	*emitter.Emitter

	url    string
	header http.Header
	dialer *websocket.Dialer

	writeMu sync.Mutex
	conn    *websocket.Conn

	idMu sync.RWMutex
	id   string

	closeOnce sync.Once
}

// NewWebsocketTransport returns a Transport that has not yet dialed.
// Call Open to connect.
func NewWebsocketTransport(url string, header http.Header) *WebsocketTransport {
	return &WebsocketTransport{
		Emitter: emitter.New(),
		url:     url,
		header:  header,
		dialer:  websocket.DefaultDialer,
	}
}

func (t *WebsocketTransport) ID() string {
	t.idMu.RLock()
	defer t.idMu.RUnlock()
	return t.id
}

func (t *WebsocketTransport) setID(id string) {
	t.idMu.Lock()
	t.id = id
	t.idMu.Unlock()
}

// Open dials in the background and returns immediately; success and
// failure are both reported as events (EventOpen / EventError), never
// through Open's return value, matching the out-of-band error delivery
// the manager's open procedure expects from its engine transport.
func (t *WebsocketTransport) Open(ctx context.Context) error {
	if t.url == "" {
		return fmt.Errorf("transport: empty url")
	}
	go t.dialAndPump(ctx)
	return nil
}

func (t *WebsocketTransport) dialAndPump(ctx context.Context) {
	conn, _, err := t.dialer.DialContext(ctx, t.url, t.header)
	if err != nil {
		t.Emit(EventError, err)
		return
	}

	conn.SetPingHandler(func(appData string) error {
		t.Emit(EventPing)
		return conn.WriteControl(websocket.PongMessage, []byte(appData), deadlineNow())
	})

	mt, r, err := conn.NextReader()
	if err != nil {
		t.Emit(EventError, fmt.Errorf("transport: handshake read: %w", err))
		_ = conn.Close()
		return
	}
	body, err := io.ReadAll(r)
	if err != nil {
		t.Emit(EventError, fmt.Errorf("transport: handshake body: %w", err))
		_ = conn.Close()
		return
	}
	var hs handshake
	if mt == websocket.TextMessage {
		_ = handshakeJSON.Unmarshal(body, &hs)
	}
	t.setID(hs.SID)

	t.writeMu.Lock()
	t.conn = conn
	t.writeMu.Unlock()

	t.Emit(EventOpen)
	t.readPump(conn)
}

func (t *WebsocketTransport) readPump(conn *websocket.Conn) {
	for {
		mt, r, err := conn.NextReader()
		if err != nil {
			t.Emit(EventClose, err.Error())
			return
		}
		body, err := io.ReadAll(r)
		if err != nil {
			t.Emit(EventError, err)
			continue
		}
		t.Emit(EventData, wire.Frame{Payload: body, IsBinary: mt == websocket.BinaryMessage})
	}
}

func (t *WebsocketTransport) Write(f wire.Frame, opts wire.Options) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if t.conn == nil {
		return fmt.Errorf("transport: write before open")
	}
	mt := websocket.TextMessage
	if f.IsBinary {
		mt = websocket.BinaryMessage
	}
	return t.conn.WriteMessage(mt, f.Payload)
}

func (t *WebsocketTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.writeMu.Lock()
		conn := t.conn
		t.writeMu.Unlock()
		if conn != nil {
			err = conn.Close()
		}
	})
	return err
}
