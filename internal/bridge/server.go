package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/muurk/kasalink/internal/device"
	"github.com/muurk/kasalink/internal/logging"
	"github.com/muurk/kasalink/internal/monitor"
	"github.com/muurk/kasalink/internal/transport"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum control message size allowed from peer
	maxMessageSize = 4096

	// Per-client outbound buffer; a client that cannot drain this many
	// events is disconnected
	clientBacklog = 64
)

// Event is one message pushed to connected clients
type Event struct {
	Type     string `json:"type"`
	Endpoint string `json:"endpoint"`
	Field    string `json:"field,omitempty"`
	Old      any    `json:"old,omitempty"`
	New      any    `json:"new,omitempty"`
	At       string `json:"at,omitempty"`
	Error    string `json:"error,omitempty"`
}

// controlMsg is a command sent by a client over the socket
type controlMsg struct {
	Action string `json:"action"`
	Host   string `json:"host"`
	Port   int    `json:"port"`
	On     bool   `json:"on"`
	Alias  string `json:"alias"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Server bridges device state changes onto WebSocket clients and
// relays control commands back through the command queue. It exists so
// local UIs can watch plugs flip without speaking the device protocol
// themselves.
type Server struct {
	addr    string
	q       device.Querier
	watcher *monitor.Watcher

	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

// NewServer creates a bridge server listening on addr
func NewServer(addr string, q device.Querier, watcher *monitor.Watcher) *Server {
	return &Server{
		addr:    addr,
		q:       q,
		watcher: watcher,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The bridge binds to loopback by default; same-host
			// clients only
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// Run serves until the context ends. The watcher's Run loop is the
// caller's responsibility; this only subscribes to it.
func (s *Server) Run(ctx context.Context) error {
	changes, cancel := s.watcher.Subscribe(256)
	defer cancel()
	go s.fanOut(ctx, changes)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: s.addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logging.Info("bridge listening", zap.String("addr", s.addr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// fanOut converts watcher changes to events and broadcasts them
func (s *Server) fanOut(ctx context.Context, changes <-chan monitor.Change) {
	for {
		select {
		case c, ok := <-changes:
			if !ok {
				return
			}
			s.broadcast(Event{
				Type:     "change",
				Endpoint: c.Endpoint.Addr(),
				Field:    c.Field,
				Old:      c.Old,
				New:      c.New,
				At:       c.At.Format(time.RFC3339Nano),
			})
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) broadcast(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		logging.Error("failed to marshal event", zap.Error(err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- data:
		default:
			// Client cannot keep up; drop it rather than block the
			// broadcast
			delete(s.clients, c)
			close(c.send)
		}
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientBacklog)}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	logging.Info("bridge client connected", zap.String("remote_addr", conn.RemoteAddr().String()))

	go s.writePump(c)
	s.readPump(c)
}

// readPump consumes control messages until the client goes away
func (s *Server) readPump(c *client) {
	defer s.drop(c)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg controlMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			s.sendError(c, "control message is not valid JSON")
			continue
		}
		s.handleControl(c, msg)
	}
}

// writePump moves queued events to the socket and keeps the
// connection alive with pings
func (s *Server) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleControl(c *client, msg controlMsg) {
	ep := transport.NewEndpoint(msg.Host, msg.Port, transport.Stream)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var err error
	switch msg.Action {
	case "set_relay":
		err = device.NewPlug(s.q, ep).SetRelayState(ctx, msg.On)
	case "set_alias":
		err = device.New(s.q, ep).SetAlias(ctx, msg.Alias)
	case "watch":
		s.watcher.Watch(ep)
	case "unwatch":
		s.watcher.Unwatch(ep)
	default:
		s.sendError(c, "unknown action: "+msg.Action)
		return
	}
	if err != nil {
		logging.Warn("control command failed",
			zap.String("action", msg.Action),
			zap.String("endpoint", ep.Addr()),
			zap.Error(err),
		)
		s.sendError(c, err.Error())
		return
	}

	ack, _ := json.Marshal(Event{Type: "ack", Endpoint: ep.Addr(), Field: msg.Action})
	select {
	case c.send <- ack:
	default:
	}
}

func (s *Server) sendError(c *client, detail string) {
	data, _ := json.Marshal(Event{Type: "error", Error: detail})
	select {
	case c.send <- data:
	default:
	}
}

func (s *Server) drop(c *client) {
	s.mu.Lock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		close(c.send)
	}
	s.mu.Unlock()
	_ = c.conn.Close()
	logging.Info("bridge client disconnected", zap.String("remote_addr", c.conn.RemoteAddr().String()))
}
