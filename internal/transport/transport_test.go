package transport

import (
	"bytes"
	"context"
	"net"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/muurk/kasalink/internal/protocol"
)

// fakeStreamDevice accepts TCP connections and answers each frame via
// the handler. A nil reply means "stay silent".
func fakeStreamDevice(t *testing.T, handler func(req []byte) []byte) Endpoint {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				for {
					req, err := protocol.ReadFrame(conn)
					if err != nil {
						return
					}
					reply := handler(req)
					if reply == nil {
						continue
					}
					if err := protocol.WriteFrame(conn, reply); err != nil {
						return
					}
				}
			}(conn)
		}
	}()

	return endpointFromAddr(t, ln.Addr().String(), Stream)
}

// fakeDatagramDevice answers each received datagram via the handler
func fakeDatagramDevice(t *testing.T, handler func(req []byte) []byte) Endpoint {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	go func() {
		buf := make([]byte, 8192)
		for {
			n, raddr, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			reply := handler(protocol.UnpackDatagram(buf[:n]))
			if reply == nil {
				continue
			}
			_, _ = conn.WriteToUDP(protocol.PackDatagram(reply), raddr)
		}
	}()

	return endpointFromAddr(t, conn.LocalAddr().String(), Datagram)
}

func endpointFromAddr(t *testing.T, addr string, kind Kind) Endpoint {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}
	port, _ := strconv.Atoi(portStr)
	return NewEndpoint(host, port, kind)
}

func TestEndpointDefaults(t *testing.T) {
	ep := NewEndpoint("192.168.1.50", 0, Stream)
	if ep.Port != DefaultPort {
		t.Errorf("Port = %d, want %d", ep.Port, DefaultPort)
	}
	if ep.Addr() != "192.168.1.50:9999" {
		t.Errorf("Addr = %q", ep.Addr())
	}

	// Same device, different transport kinds: same identity key
	a := NewEndpoint("10.0.0.1", 9999, Stream)
	b := NewEndpoint("10.0.0.1", 9999, Datagram)
	if a.Key() != b.Key() {
		t.Errorf("Key mismatch: %q vs %q", a.Key(), b.Key())
	}
}

func TestStreamRoundTrip(t *testing.T) {
	reply := []byte(`{"system":{"set_relay_state":{"err_code":0}}}`)
	ep := fakeStreamDevice(t, func(req []byte) []byte { return reply })

	tr := NewStream(ep)
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for i := 0; i < 3; i++ {
		got, err := tr.RoundTrip(ctx, []byte(`{"system":{"set_relay_state":{"state":1}}}`))
		if err != nil {
			t.Fatalf("RoundTrip %d: %v", i, err)
		}
		if !bytes.Equal(got, reply) {
			t.Errorf("RoundTrip %d = %q, want %q", i, got, reply)
		}
	}
}

func TestStreamReconnectsAfterPeerClose(t *testing.T) {
	ep := fakeStreamDevice(t, func(req []byte) []byte {
		return []byte(`{"system":{"get_sysinfo":{"err_code":0}}}`)
	})

	tr := NewStream(ep)
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := tr.RoundTrip(ctx, []byte(`{}`)); err != nil {
		t.Fatalf("first RoundTrip: %v", err)
	}

	// Kill the transport's connection from our side to simulate a reset,
	// then verify the next call dials fresh and succeeds
	tr.mu.Lock()
	tr.conn.Close()
	tr.mu.Unlock()

	deadline := time.Now().Add(2 * time.Second)
	for {
		got, err := tr.RoundTrip(ctx, []byte(`{}`))
		if err == nil {
			if !bytes.Contains(got, []byte("get_sysinfo")) {
				t.Errorf("unexpected reply %q", got)
			}
			return
		}
		// The first call after the kill may observe the broken socket;
		// that failure must surface, and the following call reconnects
		if time.Now().After(deadline) {
			t.Fatalf("transport never recovered: %v", err)
		}
	}
}

func TestStreamTimeoutAndStaleFrameDiscard(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int64
	ep := fakeStreamDevice(t, func(req []byte) []byte {
		if calls.Add(1) == 1 {
			// Hold the first reply until after the caller times out
			<-release
			return []byte(`{"late":{"reply":{"err_code":0}}}`)
		}
		return []byte(`{"fresh":{"reply":{"err_code":0}}}`)
	})

	tr := NewStream(ep)
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	start := time.Now()
	_, err := tr.RoundTrip(ctx, []byte(`{}`))
	cancel()
	if !protocol.IsTimeout(err) {
		t.Fatalf("err = %v, want timeout", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("timeout took %v, want ~100ms", elapsed)
	}

	// Let the stale reply loose, then issue a new command; the stale
	// frame must never surface as this command's response
	close(release)
	time.Sleep(50 * time.Millisecond)

	ctx2, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	got, err := tr.RoundTrip(ctx2, []byte(`{}`))
	if err != nil {
		t.Fatalf("RoundTrip after timeout: %v", err)
	}
	if bytes.Contains(got, []byte("late")) {
		t.Fatalf("stale reply surfaced: %q", got)
	}
}

func TestStreamConnectionRefused(t *testing.T) {
	// Grab a port that nothing is listening on
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ep := endpointFromAddr(t, ln.Addr().String(), Stream)
	ln.Close()

	tr := NewStream(ep)
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = tr.RoundTrip(ctx, []byte(`{}`))
	if err == nil {
		t.Fatal("expected error dialing closed port")
	}
	if !protocol.IsTransportError(err) {
		t.Errorf("err = %v, want transport error", err)
	}
}

func TestDatagramRoundTrip(t *testing.T) {
	probe := []byte(`{"system":{"get_sysinfo":{}}}`)
	reply := []byte(`{"system":{"get_sysinfo":{"alias":"lamp","err_code":0}}}`)
	ep := fakeDatagramDevice(t, func(req []byte) []byte {
		if !bytes.Equal(req, probe) {
			t.Errorf("device saw %q, want %q", req, probe)
		}
		return reply
	})

	tr := NewDatagram(ep)
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	got, err := tr.RoundTrip(ctx, probe)
	if err != nil {
		t.Fatalf("RoundTrip: %v", err)
	}
	if !bytes.Equal(got, reply) {
		t.Errorf("RoundTrip = %q, want %q", got, reply)
	}
}

func TestDatagramTimeout(t *testing.T) {
	ep := fakeDatagramDevice(t, func(req []byte) []byte { return nil })

	tr := NewDatagram(ep)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := tr.RoundTrip(ctx, []byte(`{}`))
	if !protocol.IsTimeout(err) {
		t.Fatalf("err = %v, want timeout", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("timeout took %v, want ~100ms", elapsed)
	}
}
