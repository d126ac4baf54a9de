package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/muurk/kasalink/internal/monitor"
	"github.com/muurk/kasalink/internal/protocol"
	"github.com/muurk/kasalink/internal/transport"
)

// fakeQuerier acks every command and records the wire payloads
type fakeQuerier struct {
	wires chan string
}

func (f *fakeQuerier) Submit(_ context.Context, _ transport.Endpoint, req protocol.Request) (json.RawMessage, error) {
	wire, err := req.Encode()
	if err != nil {
		return nil, err
	}
	select {
	case f.wires <- string(wire):
	default:
	}
	return json.RawMessage(`{"err_code":0}`), nil
}

func dialTestServer(t *testing.T, s *Server) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(s.handleWS))
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitForClient(t *testing.T, s *Server) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		n := len(s.clients)
		s.mu.Unlock()
		if n > 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("client never registered")
}

func TestBroadcastReachesClient(t *testing.T) {
	q := &fakeQuerier{wires: make(chan string, 8)}
	w := monitor.New(q, monitor.Options{})
	s := NewServer("127.0.0.1:0", q, w)

	conn := dialTestServer(t, s)
	waitForClient(t, s)

	s.broadcast(Event{
		Type:     "change",
		Endpoint: "192.168.1.40:9999",
		Field:    "relay_state",
		Old:      0,
		New:      1,
	})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Type != "change" || ev.Field != "relay_state" {
		t.Errorf("event = %+v", ev)
	}
}

func TestControlMessageRelaysCommand(t *testing.T) {
	q := &fakeQuerier{wires: make(chan string, 8)}
	w := monitor.New(q, monitor.Options{})
	s := NewServer("127.0.0.1:0", q, w)

	conn := dialTestServer(t, s)
	waitForClient(t, s)

	msg := `{"action":"set_relay","host":"192.168.1.40","port":9999,"on":true}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case wire := <-q.wires:
		want := `{"system":{"set_relay_state":{"state":1}}}`
		if wire != want {
			t.Errorf("wire = %s, want %s", wire, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("control message never reached the querier")
	}

	// The client gets an ack back
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read ack: %v", err)
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Type != "ack" {
		t.Errorf("event type = %q, want ack", ev.Type)
	}
}

func TestUnknownActionYieldsError(t *testing.T) {
	q := &fakeQuerier{wires: make(chan string, 8)}
	w := monitor.New(q, monitor.Options{})
	s := NewServer("127.0.0.1:0", q, w)

	conn := dialTestServer(t, s)
	waitForClient(t, s)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"action":"explode"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Type != "error" {
		t.Errorf("event type = %q, want error", ev.Type)
	}
}

func TestWatcherChangesFlowToClients(t *testing.T) {
	q := &fakeQuerier{wires: make(chan string, 8)}
	w := monitor.New(q, monitor.Options{})
	s := NewServer("127.0.0.1:0", q, w)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes, unsub := w.Subscribe(16)
	defer unsub()
	go s.fanOut(ctx, changes)

	conn := dialTestServer(t, s)
	waitForClient(t, s)

	ep := transport.NewEndpoint("192.168.1.40", 9999, transport.Stream)
	relay0, relay1 := 0, 1
	w.Observe(ep, &protocol.SysInfo{RelayState: &relay0})
	w.Observe(ep, &protocol.SysInfo{RelayState: &relay1})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), "relay_state") {
		t.Errorf("event = %s, want relay_state change", data)
	}
}
