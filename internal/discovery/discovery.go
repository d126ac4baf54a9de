package discovery

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/kasalink/internal/logging"
	"github.com/muurk/kasalink/internal/protocol"
	"github.com/muurk/kasalink/internal/registry"
	"github.com/muurk/kasalink/internal/transport"
)

const (
	// DefaultWindow is the default time to collect probe responses
	DefaultWindow = 3 * time.Second

	// DefaultBroadcast is the limited broadcast address; most home
	// networks deliver it to every device on the subnet
	DefaultBroadcast = "255.255.255.255"

	// maxResponseSize is the receive buffer for one response datagram
	maxResponseSize = 8192
)

// Options configure one discovery scan
type Options struct {
	// Window bounds the whole scan; responses arriving later are lost
	Window time.Duration

	// Port devices listen on, for both broadcast and unicast probes
	Port int

	// Broadcast is the broadcast address to probe; empty disables the
	// broadcast leg
	Broadcast string

	// Targets are explicit hosts to probe concurrently. Stream-kind
	// targets are probed over TCP, the rest with one-shot datagrams.
	Targets []transport.Endpoint

	// Probe overrides the probe request; the zero value sends the
	// universal sysinfo query
	Probe protocol.Request
}

func (o Options) withDefaults() Options {
	if o.Window <= 0 {
		o.Window = DefaultWindow
	}
	if o.Port == 0 {
		o.Port = transport.DefaultPort
	}
	if o.Probe.Module == "" {
		o.Probe = protocol.SysInfoRequest()
	}
	return o
}

// response is one (endpoint, decoded bytes) pair collected during the
// window
type response struct {
	endpoint transport.Endpoint
	payload  []byte
	at       time.Time
}

// Discover probes the network and returns the deduplicated device
// descriptors collected before the window elapses. One bad or
// unreachable target never aborts the scan. Cancelling the context
// early returns whatever was collected so far.
//
// Discovery intentionally bypasses the per-device command queue: no
// probed device has prior in-flight state, and the probes must fan out
// concurrently.
func Discover(ctx context.Context, opts Options) ([]*Descriptor, error) {
	opts = opts.withDefaults()

	scanCtx, cancel := context.WithTimeout(ctx, opts.Window)
	defer cancel()

	plain, err := opts.Probe.Encode()
	if err != nil {
		return nil, err
	}

	results := make(chan response, 64)

	if opts.Broadcast != "" {
		go broadcastProbe(scanCtx, opts, plain, results)
	}
	for _, target := range opts.Targets {
		go unicastProbe(scanCtx, target, plain, results)
	}

	descriptors := gather(scanCtx, opts.Probe, results)
	logging.Info("discovery finished",
		zap.Int("devices", len(descriptors)),
		zap.Duration("window", opts.Window),
	)
	return descriptors, nil
}

// gather consumes responses until the context (window or caller
// cancellation) ends, classifying each and deduplicating by endpoint
// with last-response-wins
func gather(ctx context.Context, probe protocol.Request, results <-chan response) []*Descriptor {
	seen := make(map[string]*Descriptor)
	for {
		select {
		case r := <-results:
			desc, err := describe(probe, r)
			if err != nil {
				// A malformed response drops, the scan continues
				logging.Debug("dropping undecodable response",
					zap.String("endpoint", r.endpoint.Addr()),
					zap.Error(err),
				)
				continue
			}
			key := desc.Endpoint.Key()
			if prev, ok := seen[key]; !ok || !desc.ReceivedAt.Before(prev.ReceivedAt) {
				seen[key] = desc
			}
		case <-ctx.Done():
			out := make([]*Descriptor, 0, len(seen))
			for _, d := range seen {
				out = append(out, d)
			}
			return out
		}
	}
}

// describe decodes one response into a classified descriptor
func describe(probe protocol.Request, r response) (*Descriptor, error) {
	member, err := protocol.ParseResponse(probe, r.payload)
	if err != nil {
		return nil, err
	}
	info, err := protocol.ParseSysInfo(member)
	if err != nil {
		return nil, err
	}
	return &Descriptor{
		Endpoint:   r.endpoint,
		Variant:    registry.Classify(info),
		Info:       info,
		RawStatus:  member,
		ReceivedAt: r.at,
	}, nil
}

// broadcastProbe sends the probe once to the broadcast address and
// collects reply datagrams until the window closes. Each reply's
// endpoint is derived from its source address.
func broadcastProbe(ctx context.Context, opts Options, plain []byte, results chan<- response) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		logging.Warn("broadcast socket failed", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	dest := &net.UDPAddr{IP: net.ParseIP(opts.Broadcast), Port: opts.Port}
	if dest.IP == nil {
		logging.Warn("invalid broadcast address", zap.String("addr", opts.Broadcast))
		return
	}

	if _, err := conn.WriteToUDP(protocol.PackDatagram(plain), dest); err != nil {
		logging.Warn("broadcast send failed", zap.Error(err))
		return
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	// Unblock the read loop promptly on early cancellation
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	buf := make([]byte, maxResponseSize)
	for {
		n, raddr, err := conn.ReadFromUDP(buf)
		if err != nil {
			// Deadline or cancellation: terminal and silent
			return
		}
		payload := protocol.UnpackDatagram(buf[:n])
		logging.LogRawBytes("broadcast reply", payload)
		select {
		case results <- response{
			endpoint: transport.NewEndpoint(raddr.IP.String(), raddr.Port, transport.Datagram),
			payload:  append([]byte(nil), payload...),
			at:       time.Now(),
		}:
		case <-ctx.Done():
			return
		}
	}
}

// unicastProbe sends the probe to one known target over its transport
// kind. Failures are logged and isolated to the target.
func unicastProbe(ctx context.Context, target transport.Endpoint, plain []byte, results chan<- response) {
	tr := transport.New(target)
	defer func() { _ = tr.Close() }()

	payload, err := tr.RoundTrip(ctx, plain)
	if err != nil {
		logging.Debug("probe failed",
			zap.String("endpoint", target.Addr()),
			zap.Error(err),
		)
		return
	}
	select {
	case results <- response{endpoint: target, payload: payload, at: time.Now()}:
	case <-ctx.Done():
	}
}
