package monitor

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/muurk/kasalink/internal/protocol"
	"github.com/muurk/kasalink/internal/transport"
)

func intp(v int) *int { return &v }

var testEndpoint = transport.NewEndpoint("192.168.1.40", 9999, transport.Stream)

func TestObserveBaselineEmitsNothing(t *testing.T) {
	w := New(nil, Options{})
	info := &protocol.SysInfo{Alias: "kettle", RelayState: intp(1)}

	if changes := w.Observe(testEndpoint, info); len(changes) != 0 {
		t.Errorf("first observation emitted %d changes, want 0", len(changes))
	}
}

func TestObserveDiffsWatchedFields(t *testing.T) {
	w := New(nil, Options{})

	w.Observe(testEndpoint, &protocol.SysInfo{Alias: "kettle", RelayState: intp(0)})
	changes := w.Observe(testEndpoint, &protocol.SysInfo{Alias: "kettle", RelayState: intp(1)})

	if len(changes) != 1 {
		t.Fatalf("got %d changes, want 1", len(changes))
	}
	c := changes[0]
	if c.Field != "relay_state" {
		t.Errorf("Field = %q, want relay_state", c.Field)
	}
	if c.Old != 0 || c.New != 1 {
		t.Errorf("Old/New = %v/%v, want 0/1", c.Old, c.New)
	}
	if c.Endpoint.Key() != testEndpoint.Key() {
		t.Errorf("Endpoint = %s", c.Endpoint)
	}
}

func TestObserveUnchangedStatusIsQuiet(t *testing.T) {
	w := New(nil, Options{})
	info := &protocol.SysInfo{Alias: "kettle", RelayState: intp(1), OnTime: 30}

	w.Observe(testEndpoint, info)
	if changes := w.Observe(testEndpoint, info); len(changes) != 0 {
		t.Errorf("identical status emitted %d changes", len(changes))
	}
}

func TestObserveCustomFieldPolicy(t *testing.T) {
	// Watch only the alias; a relay flip must not notify
	w := New(nil, Options{Fields: []string{"alias"}})

	w.Observe(testEndpoint, &protocol.SysInfo{Alias: "kettle", RelayState: intp(0)})
	if changes := w.Observe(testEndpoint, &protocol.SysInfo{Alias: "kettle", RelayState: intp(1)}); len(changes) != 0 {
		t.Errorf("unwatched field emitted %d changes", len(changes))
	}
	changes := w.Observe(testEndpoint, &protocol.SysInfo{Alias: "toaster", RelayState: intp(1)})
	if len(changes) != 1 || changes[0].Field != "alias" {
		t.Fatalf("changes = %+v, want one alias change", changes)
	}
}

func TestObserveFieldPresenceChange(t *testing.T) {
	w := New(nil, Options{Fields: []string{"brightness"}})

	w.Observe(testEndpoint, &protocol.SysInfo{})
	changes := w.Observe(testEndpoint, &protocol.SysInfo{Brightness: intp(60)})
	if len(changes) != 1 {
		t.Fatalf("got %d changes, want 1 for field appearing", len(changes))
	}
	if changes[0].Old != nil || changes[0].New != 60 {
		t.Errorf("Old/New = %v/%v, want nil/60", changes[0].Old, changes[0].New)
	}
}

func TestSubscribeReceivesChanges(t *testing.T) {
	w := New(nil, Options{})
	ch, cancel := w.Subscribe(8)
	defer cancel()

	w.Observe(testEndpoint, &protocol.SysInfo{RelayState: intp(0)})
	w.Observe(testEndpoint, &protocol.SysInfo{RelayState: intp(1)})

	select {
	case c := <-ch:
		if c.Field != "relay_state" {
			t.Errorf("Field = %q", c.Field)
		}
	case <-time.After(time.Second):
		t.Fatal("no change delivered to subscriber")
	}
}

func TestSubscribeCancelClosesChannel(t *testing.T) {
	w := New(nil, Options{})
	ch, cancel := w.Subscribe(1)
	cancel()
	cancel() // idempotent

	if _, ok := <-ch; ok {
		t.Error("channel not closed after cancel")
	}

	// Further observations must not panic on the closed channel
	w.Observe(testEndpoint, &protocol.SysInfo{RelayState: intp(0)})
	w.Observe(testEndpoint, &protocol.SysInfo{RelayState: intp(1)})
}

// pollQuerier serves a sysinfo payload that flips relay_state on every
// call
type pollQuerier struct {
	calls atomic.Int64
}

func (p *pollQuerier) Submit(_ context.Context, _ transport.Endpoint, req protocol.Request) (json.RawMessage, error) {
	state := p.calls.Add(1) % 2
	payload := `{"alias":"kettle","relay_state":` + string(rune('0'+state)) + `,"err_code":0}`
	return json.RawMessage(payload), nil
}

func TestRunPollsAndNotifies(t *testing.T) {
	q := &pollQuerier{}
	w := New(q, Options{Interval: 20 * time.Millisecond})
	w.Watch(testEndpoint)

	ch, cancel := w.Subscribe(8)
	defer cancel()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	go w.Run(ctx)

	select {
	case c := <-ch:
		if c.Field != "relay_state" {
			t.Errorf("Field = %q, want relay_state", c.Field)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("polling watcher never emitted a change")
	}
}

func TestUnwatchForgetsSnapshot(t *testing.T) {
	w := New(nil, Options{})
	w.Watch(testEndpoint)

	w.Observe(testEndpoint, &protocol.SysInfo{RelayState: intp(1)})
	w.Unwatch(testEndpoint)

	// After re-adding, the next observation is a fresh baseline
	w.Watch(testEndpoint)
	if changes := w.Observe(testEndpoint, &protocol.SysInfo{RelayState: intp(0)}); len(changes) != 0 {
		t.Errorf("stale snapshot survived Unwatch: %+v", changes)
	}
}
