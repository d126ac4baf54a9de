package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/kasalink/internal/logging"
	"github.com/muurk/kasalink/internal/protocol"
)

const (
	// dialTimeout bounds connection establishment when the caller's
	// context carries no earlier deadline
	dialTimeout = 5 * time.Second

	// frameBacklog is how many undrained frames the reader may park.
	// Anything beyond this is a misbehaving device and gets dropped.
	frameBacklog = 8
)

// streamFrame is one decrypted frame tagged with the generation of the
// connection that produced it. Frames from a connection abandoned after
// a timeout carry a stale generation and are discarded, never matched
// to a newer attempt.
type streamFrame struct {
	gen     uint64
	payload []byte
	err     error
}

// StreamTransport keeps one persistent TCP connection to a device,
// reused across commands. A broken connection surfaces its failure to
// the in-flight command; the next call dials fresh.
type StreamTransport struct {
	endpoint Endpoint

	mu     sync.Mutex
	conn   net.Conn
	gen    uint64
	closed bool

	frames chan streamFrame
}

// NewStream creates a stream transport for ep. No connection is opened
// until the first RoundTrip.
func NewStream(ep Endpoint) *StreamTransport {
	return &StreamTransport{
		endpoint: ep,
		frames:   make(chan streamFrame, frameBacklog),
	}
}

// RoundTrip sends one frame and waits for the matching response frame
func (t *StreamTransport) RoundTrip(ctx context.Context, payload []byte) ([]byte, error) {
	conn, gen, err := t.ensureConn(ctx)
	if err != nil {
		return nil, err
	}

	t.drainStale(gen)

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetWriteDeadline(deadline); err != nil {
			t.abandon(conn)
			return nil, protocol.ClassifyNetError(err, t.endpoint.Addr())
		}
	}
	if err := protocol.WriteFrame(conn, payload); err != nil {
		t.abandon(conn)
		return nil, protocol.ClassifyNetError(err, t.endpoint.Addr())
	}

	for {
		select {
		case frame := <-t.frames:
			if frame.gen != gen {
				// Late response from a previous, timed-out connection
				logging.Debug("discarding stale frame",
					zap.String("endpoint", t.endpoint.Addr()),
					zap.Uint64("frame_gen", frame.gen),
					zap.Uint64("current_gen", gen),
				)
				continue
			}
			if frame.err != nil {
				t.abandon(conn)
				return nil, protocol.ClassifyNetError(frame.err, t.endpoint.Addr())
			}
			return frame.payload, nil

		case <-ctx.Done():
			// The connection is mid-exchange; abandon it so its eventual
			// reply cannot resolve a future command
			t.abandon(conn)
			if ctx.Err() == context.DeadlineExceeded {
				return nil, protocol.NewTimeoutError(t.endpoint.Addr(), ctx.Err())
			}
			return nil, ctx.Err()
		}
	}
}

// ensureConn returns the live connection, dialing a new one if needed.
// Each new connection bumps the generation and starts a reader.
func (t *StreamTransport) ensureConn(ctx context.Context) (net.Conn, uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, 0, fmt.Errorf("transport closed")
	}
	if t.conn != nil {
		return t.conn, t.gen, nil
	}

	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.endpoint.Addr())
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, 0, protocol.NewTimeoutError(t.endpoint.Addr(), err)
		}
		return nil, 0, protocol.ClassifyNetError(err, t.endpoint.Addr())
	}

	t.conn = conn
	t.gen++
	gen := t.gen
	logging.Debug("stream connected",
		zap.String("endpoint", t.endpoint.Addr()),
		zap.Uint64("gen", gen),
	)

	go t.readLoop(conn, gen)
	return conn, gen, nil
}

// readLoop reads frames off conn until it dies, tagging each with the
// connection generation
func (t *StreamTransport) readLoop(conn net.Conn, gen uint64) {
	for {
		payload, err := protocol.ReadFrame(conn)
		select {
		case t.frames <- streamFrame{gen: gen, payload: payload, err: err}:
		default:
			// Backlog full: nobody is waiting and the buffer already
			// holds stale frames; drop on the floor
			logging.Debug("dropping frame, backlog full",
				zap.String("endpoint", t.endpoint.Addr()),
			)
		}
		if err != nil {
			return
		}
	}
}

// drainStale discards buffered frames from older connection generations
func (t *StreamTransport) drainStale(gen uint64) {
	for {
		select {
		case frame := <-t.frames:
			if frame.gen == gen {
				// A same-generation frame with no outstanding request
				// should not happen; drop it rather than hand it to the
				// wrong caller
				logging.Warn("discarding unsolicited frame",
					zap.String("endpoint", t.endpoint.Addr()),
				)
			}
		default:
			return
		}
	}
}

// abandon closes conn and forgets it if it is still the active
// connection, forcing the next RoundTrip to dial fresh
func (t *StreamTransport) abandon(conn net.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = conn.Close()
	if t.conn == conn {
		t.conn = nil
	}
}

// Close releases the connection and marks the transport unusable
func (t *StreamTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	if t.conn != nil {
		err := t.conn.Close()
		t.conn = nil
		return err
	}
	return nil
}
