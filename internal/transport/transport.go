package transport

// Transport moves one protocol message to a device endpoint and returns
// the reply. Implementations own the socket lifecycle and the per-kind
// framing; payloads cross this boundary as plaintext JSON, with the
// obfuscation cipher applied internally via the protocol package.
//
// A Transport is owned by exactly one endpoint's command worker and is
// never shared across endpoints. RoundTrip is not safe for concurrent
// use; Close may be called from any goroutine.

import "context"

// Transport is a single logical connection to one device endpoint
type Transport interface {
	// RoundTrip sends payload and waits for one response, honoring the
	// context deadline. On deadline expiry the pending I/O is cancelled
	// and any socket in an indeterminate state is released so a late
	// response can never be matched to a future call.
	RoundTrip(ctx context.Context, payload []byte) ([]byte, error)

	// Close releases all socket resources held by the transport
	Close() error
}

// Dialer creates a Transport for an endpoint. The command queue takes a
// Dialer so tests can substitute instrumented fakes.
type Dialer func(ep Endpoint) Transport

// New returns the standard transport for the endpoint's kind
func New(ep Endpoint) Transport {
	if ep.Kind == Datagram {
		return NewDatagram(ep)
	}
	return NewStream(ep)
}
