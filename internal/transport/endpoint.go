package transport

import (
	"fmt"
	"net"
	"strconv"
)

// DefaultPort is the TCP and UDP port Kasa devices listen on
const DefaultPort = 9999

// Kind selects the wire transport for an endpoint
type Kind int

const (
	// Stream is a persistent TCP connection with length-prefixed frames
	Stream Kind = iota
	// Datagram is a one-shot UDP exchange with bare frames
	Datagram
)

// String returns a human-readable transport kind name
func (k Kind) String() string {
	switch k {
	case Stream:
		return "tcp"
	case Datagram:
		return "udp"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Endpoint identifies one physical device: host, port, and transport
// kind. It is the identity key for per-device command serialization and
// for discovery deduplication.
type Endpoint struct {
	Host string
	Port int
	Kind Kind
}

// NewEndpoint builds an endpoint, applying the default port when port
// is zero.
func NewEndpoint(host string, port int, kind Kind) Endpoint {
	if port == 0 {
		port = DefaultPort
	}
	return Endpoint{Host: host, Port: port, Kind: kind}
}

// Addr returns the host:port dial address
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Key returns the identity key used for queue serialization and
// discovery dedupe. Two endpoints with the same host and port are the
// same device regardless of transport kind.
func (e Endpoint) Key() string {
	return e.Addr()
}

// String returns a human-readable endpoint description
func (e Endpoint) String() string {
	return fmt.Sprintf("%s/%s", e.Addr(), e.Kind)
}
