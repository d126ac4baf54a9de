package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/kasalink/internal/logging"
	"github.com/muurk/kasalink/internal/protocol"
)

// maxDatagramSize is the receive buffer for a single reply datagram.
// Device responses fit comfortably; sysinfo tops out around 2 KiB.
const maxDatagramSize = 8192

// DatagramTransport performs one-shot UDP exchanges: a fresh socket per
// request, one datagram out, at most one datagram back before the
// deadline, then the socket is closed. Retransmission is the command
// queue's responsibility, not this layer's.
type DatagramTransport struct {
	endpoint Endpoint
}

// NewDatagram creates a datagram transport for ep
func NewDatagram(ep Endpoint) *DatagramTransport {
	return &DatagramTransport{endpoint: ep}
}

// RoundTrip sends payload as a single datagram and waits for one reply
func (t *DatagramTransport) RoundTrip(ctx context.Context, payload []byte) ([]byte, error) {
	addr := t.endpoint.Addr()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "udp", addr)
	if err != nil {
		return nil, protocol.ClassifyNetError(err, addr)
	}
	defer func() { _ = conn.Close() }()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(dialTimeout)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, protocol.ClassifyNetError(err, addr)
	}

	if _, err := conn.Write(protocol.PackDatagram(payload)); err != nil {
		return nil, protocol.ClassifyNetError(err, addr)
	}

	buf := make([]byte, maxDatagramSize)
	n, err := conn.Read(buf)
	if err != nil {
		if ctx.Err() == context.Canceled {
			// Cancellation is terminal and silent at this layer
			return nil, ctx.Err()
		}
		return nil, protocol.ClassifyNetError(err, addr)
	}
	if n == len(buf) {
		return nil, fmt.Errorf("datagram from %s exceeds %d bytes", addr, maxDatagramSize)
	}

	logging.Debug("datagram exchange complete",
		zap.String("endpoint", addr),
		zap.Int("reply_bytes", n),
	)
	return protocol.UnpackDatagram(buf[:n]), nil
}

// Close is a no-op: datagram sockets never outlive a RoundTrip
func (t *DatagramTransport) Close() error {
	return nil
}
