package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/muurk/kasalink/internal/protocol"
	"github.com/muurk/kasalink/internal/transport"
)

// fakeTransport is an instrumented transport that counts concurrent
// in-flight operations and delegates behavior to a handler.
type fakeTransport struct {
	ep      transport.Endpoint
	handler func(call int64, ctx context.Context, payload []byte) ([]byte, error)

	calls       atomic.Int64
	inflight    atomic.Int32
	maxInflight atomic.Int32
}

func (f *fakeTransport) RoundTrip(ctx context.Context, payload []byte) ([]byte, error) {
	cur := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		max := f.maxInflight.Load()
		if cur <= max || f.maxInflight.CompareAndSwap(max, cur) {
			break
		}
	}
	return f.handler(f.calls.Add(1), ctx, payload)
}

func (f *fakeTransport) Close() error { return nil }

// fakeDialer hands out one fakeTransport per endpoint and remembers
// them for inspection
type fakeDialer struct {
	mu         sync.Mutex
	transports map[string]*fakeTransport
	handler    func(call int64, ctx context.Context, payload []byte) ([]byte, error)
}

func newFakeDialer(handler func(call int64, ctx context.Context, payload []byte) ([]byte, error)) *fakeDialer {
	return &fakeDialer{
		transports: make(map[string]*fakeTransport),
		handler:    handler,
	}
}

func (d *fakeDialer) dial(ep transport.Endpoint) transport.Transport {
	d.mu.Lock()
	defer d.mu.Unlock()
	tr := &fakeTransport{ep: ep, handler: d.handler}
	d.transports[ep.Key()] = tr
	return tr
}

func (d *fakeDialer) transportFor(ep transport.Endpoint) *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.transports[ep.Key()]
}

func okReply(req string) func(int64, context.Context, []byte) ([]byte, error) {
	return func(_ int64, _ context.Context, _ []byte) ([]byte, error) {
		return []byte(fmt.Sprintf(`{"system":{%q:{"err_code":0}}}`, req)), nil
	}
}

func TestSubmitResolvesParsedResult(t *testing.T) {
	dialer := newFakeDialer(okReply("get_sysinfo"))
	d := New(dialer.dial, Options{})
	defer d.Close()

	ep := transport.NewEndpoint("10.0.0.1", 9999, transport.Stream)
	member, err := d.Submit(context.Background(), ep, protocol.SysInfoRequest())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(member) == 0 {
		t.Error("expected member payload")
	}
}

func TestPerEndpointSerialization(t *testing.T) {
	dialer := newFakeDialer(func(_ int64, _ context.Context, _ []byte) ([]byte, error) {
		time.Sleep(10 * time.Millisecond)
		return []byte(`{"system":{"get_sysinfo":{"err_code":0}}}`), nil
	})
	d := New(dialer.dial, Options{})
	defer d.Close()

	endpoints := []transport.Endpoint{
		transport.NewEndpoint("10.0.0.1", 9999, transport.Stream),
		transport.NewEndpoint("10.0.0.2", 9999, transport.Stream),
		transport.NewEndpoint("10.0.0.3", 9999, transport.Datagram),
	}

	var wg sync.WaitGroup
	for _, ep := range endpoints {
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(ep transport.Endpoint) {
				defer wg.Done()
				_, _ = d.Submit(context.Background(), ep, protocol.SysInfoRequest())
			}(ep)
		}
	}
	wg.Wait()

	for _, ep := range endpoints {
		tr := dialer.transportFor(ep)
		if tr == nil {
			t.Fatalf("no transport dialed for %s", ep)
		}
		if got := tr.maxInflight.Load(); got > 1 {
			t.Errorf("endpoint %s saw %d concurrent in-flight commands, want <= 1", ep, got)
		}
		if got := tr.calls.Load(); got != 8 {
			t.Errorf("endpoint %s handled %d commands, want 8", ep, got)
		}
	}
}

func TestEndpointsProceedConcurrently(t *testing.T) {
	// Each endpoint's command blocks until the other endpoint's command
	// is also in flight. This deadlocks unless endpoints run
	// independently.
	var barrier sync.WaitGroup
	barrier.Add(2)
	dialer := newFakeDialer(func(_ int64, ctx context.Context, _ []byte) ([]byte, error) {
		barrier.Done()
		done := make(chan struct{})
		go func() { barrier.Wait(); close(done) }()
		select {
		case <-done:
			return []byte(`{"system":{"get_sysinfo":{"err_code":0}}}`), nil
		case <-ctx.Done():
			return nil, protocol.NewTimeoutError("test", ctx.Err())
		}
	})
	d := New(dialer.dial, Options{Timeout: 2 * time.Second, MaxRetries: 0})
	defer d.Close()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, host := range []string{"10.0.0.1", "10.0.0.2"} {
		wg.Add(1)
		go func(i int, host string) {
			defer wg.Done()
			ep := transport.NewEndpoint(host, 9999, transport.Stream)
			_, errs[i] = d.Submit(context.Background(), ep, protocol.SysInfoRequest())
		}(i, host)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("endpoint %d: %v (endpoints are not independent)", i, err)
		}
	}
}

func TestFIFOOrderPerEndpoint(t *testing.T) {
	var mu sync.Mutex
	var order []string
	dialer := newFakeDialer(func(_ int64, _ context.Context, payload []byte) ([]byte, error) {
		mu.Lock()
		order = append(order, string(payload))
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		return []byte(`{"system":{"set_alias":{"err_code":0}}}`), nil
	})
	d := New(dialer.dial, Options{})
	defer d.Close()

	ep := transport.NewEndpoint("10.0.0.1", 9999, transport.Stream)

	var wg sync.WaitGroup
	var want []string
	for i := 0; i < 6; i++ {
		req := protocol.NewRequest(protocol.ModuleSystem, "set_alias",
			map[string]string{"alias": fmt.Sprintf("job-%d", i)})
		plain, _ := req.Encode()
		want = append(want, string(plain))

		wg.Add(1)
		go func(req protocol.Request) {
			defer wg.Done()
			_, _ = d.Submit(context.Background(), ep, req)
		}(req)
		// Space out the submissions so arrival order is deterministic
		time.Sleep(5 * time.Millisecond)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(order) != len(want) {
		t.Fatalf("executed %d commands, want %d", len(order), len(want))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("position %d: got %s, want %s (FIFO violated)", i, order[i], want[i])
		}
	}
}

func TestTimeoutRetriesThenSurfaces(t *testing.T) {
	dialer := newFakeDialer(func(_ int64, ctx context.Context, _ []byte) ([]byte, error) {
		<-ctx.Done()
		return nil, protocol.NewTimeoutError("10.0.0.1:9999", ctx.Err())
	})
	d := New(dialer.dial, Options{})
	defer d.Close()

	ep := transport.NewEndpoint("10.0.0.1", 9999, transport.Stream)
	opts := Options{Timeout: 50 * time.Millisecond, MaxRetries: 2}

	start := time.Now()
	_, err := d.SubmitWith(context.Background(), ep, protocol.SysInfoRequest(), opts)
	elapsed := time.Since(start)

	if !protocol.IsTimeout(err) {
		t.Fatalf("err = %v, want timeout", err)
	}
	// 3 attempts x 50ms, plus scheduling slack
	if elapsed < 150*time.Millisecond || elapsed > time.Second {
		t.Errorf("resolved in %v, want ~150ms", elapsed)
	}

	tr := dialer.transportFor(ep)
	if got := tr.calls.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3 (1 + 2 retries)", got)
	}

	// No further attempts after the error surfaced
	time.Sleep(100 * time.Millisecond)
	if got := tr.calls.Load(); got != 3 {
		t.Errorf("attempts grew to %d after resolution", got)
	}
}

func TestTransportErrorRetriesLikeTimeout(t *testing.T) {
	dialer := newFakeDialer(func(call int64, _ context.Context, _ []byte) ([]byte, error) {
		if call <= 2 {
			return nil, &protocol.DeviceError{
				Type:      protocol.ErrTypeTransport,
				Message:   "connection reset by device",
				Retryable: true,
			}
		}
		return []byte(`{"system":{"get_sysinfo":{"err_code":0}}}`), nil
	})
	d := New(dialer.dial, Options{})
	defer d.Close()

	ep := transport.NewEndpoint("10.0.0.1", 9999, transport.Stream)
	_, err := d.SubmitWith(context.Background(), ep, protocol.SysInfoRequest(),
		Options{Timeout: time.Second, MaxRetries: 2})
	if err != nil {
		t.Fatalf("Submit: %v (transport failures should retry)", err)
	}
	if got := dialer.transportFor(ep).calls.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestDeviceErrorIsTerminal(t *testing.T) {
	dialer := newFakeDialer(func(_ int64, _ context.Context, _ []byte) ([]byte, error) {
		return []byte(`{"system":{"get_sysinfo":{"err_code":-1,"err_msg":"module not support"}}}`), nil
	})
	d := New(dialer.dial, Options{})
	defer d.Close()

	ep := transport.NewEndpoint("10.0.0.1", 9999, transport.Stream)
	_, err := d.SubmitWith(context.Background(), ep, protocol.SysInfoRequest(),
		Options{Timeout: time.Second, MaxRetries: 5})
	if !protocol.IsDeviceError(err) {
		t.Fatalf("err = %v, want device error", err)
	}
	if got := dialer.transportFor(ep).calls.Load(); got != 1 {
		t.Errorf("attempts = %d, want 1 (device errors must not retry)", got)
	}
}

func TestDecodeErrorIsTerminal(t *testing.T) {
	dialer := newFakeDialer(func(_ int64, _ context.Context, _ []byte) ([]byte, error) {
		return []byte("not json at all"), nil
	})
	d := New(dialer.dial, Options{})
	defer d.Close()

	ep := transport.NewEndpoint("10.0.0.1", 9999, transport.Stream)
	_, err := d.SubmitWith(context.Background(), ep, protocol.SysInfoRequest(),
		Options{Timeout: time.Second, MaxRetries: 5})
	if !protocol.IsDecodeError(err) {
		t.Fatalf("err = %v, want decode error", err)
	}
	if got := dialer.transportFor(ep).calls.Load(); got != 1 {
		t.Errorf("attempts = %d, want 1", got)
	}
}

func TestCallerCancellation(t *testing.T) {
	dialer := newFakeDialer(func(_ int64, ctx context.Context, _ []byte) ([]byte, error) {
		<-ctx.Done()
		return nil, protocol.NewTimeoutError("test", ctx.Err())
	})
	d := New(dialer.dial, Options{Timeout: 10 * time.Second})
	defer d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	ep := transport.NewEndpoint("10.0.0.1", 9999, transport.Stream)
	start := time.Now()
	_, err := d.Submit(ctx, ep, protocol.SysInfoRequest())
	if err == nil {
		t.Fatal("expected error after cancellation")
	}
	if time.Since(start) > time.Second {
		t.Error("cancellation did not release the caller promptly")
	}
}

func TestSubmitAfterClose(t *testing.T) {
	dialer := newFakeDialer(okReply("get_sysinfo"))
	d := New(dialer.dial, Options{})
	d.Close()

	ep := transport.NewEndpoint("10.0.0.1", 9999, transport.Stream)
	if _, err := d.Submit(context.Background(), ep, protocol.SysInfoRequest()); err == nil {
		t.Fatal("expected error submitting to a closed dispatcher")
	}
}

func TestCloseEndpointRecreatesQueue(t *testing.T) {
	dialer := newFakeDialer(okReply("get_sysinfo"))
	d := New(dialer.dial, Options{})
	defer d.Close()

	ep := transport.NewEndpoint("10.0.0.1", 9999, transport.Stream)
	if _, err := d.Submit(context.Background(), ep, protocol.SysInfoRequest()); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	d.CloseEndpoint(ep)
	if _, err := d.Submit(context.Background(), ep, protocol.SysInfoRequest()); err != nil {
		t.Fatalf("Submit after CloseEndpoint: %v", err)
	}
}
