package monitor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/kasalink/internal/device"
	"github.com/muurk/kasalink/internal/logging"
	"github.com/muurk/kasalink/internal/protocol"
	"github.com/muurk/kasalink/internal/transport"
)

// DefaultInterval is the default status polling period
const DefaultInterval = 10 * time.Second

// DefaultFields is the stock watched-field set. Which fields count as
// "state" is policy, not protocol, so callers can supply their own.
var DefaultFields = []string{
	"relay_state",
	"on_time",
	"alias",
	"brightness",
	"light_state.on_off",
}

// Change is one observed state transition on one device
type Change struct {
	Endpoint transport.Endpoint
	Field    string
	Old      any
	New      any
	At       time.Time
}

// Options configure a Watcher
type Options struct {
	// Interval between status polls
	Interval time.Duration

	// Fields to diff between successive status snapshots
	Fields []string
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if len(o.Fields) == 0 {
		o.Fields = DefaultFields
	}
	return o
}

type subscriber struct {
	ch chan Change
}

// Watcher keeps a last-known status snapshot per endpoint, polls
// through the command queue, and pushes discrete change notifications
// to subscribers whenever a watched field differs from the snapshot.
type Watcher struct {
	q    device.Querier
	opts Options

	mu        sync.Mutex
	endpoints map[string]transport.Endpoint
	snapshots map[string]map[string]any
	subs      map[*subscriber]struct{}
}

// New creates a watcher polling through q
func New(q device.Querier, opts Options) *Watcher {
	return &Watcher{
		q:         q,
		opts:      opts.withDefaults(),
		endpoints: make(map[string]transport.Endpoint),
		snapshots: make(map[string]map[string]any),
		subs:      make(map[*subscriber]struct{}),
	}
}

// Watch adds an endpoint to the polling set
func (w *Watcher) Watch(ep transport.Endpoint) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.endpoints[ep.Key()] = ep
}

// Unwatch removes an endpoint and forgets its snapshot
func (w *Watcher) Unwatch(ep transport.Endpoint) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.endpoints, ep.Key())
	delete(w.snapshots, ep.Key())
}

// Subscribe registers a change listener. The returned cancel function
// unregisters it and closes the channel. A subscriber that falls
// behind loses changes rather than stalling the watcher.
func (w *Watcher) Subscribe(buffer int) (<-chan Change, func()) {
	sub := &subscriber{ch: make(chan Change, buffer)}
	w.mu.Lock()
	w.subs[sub] = struct{}{}
	w.mu.Unlock()

	cancel := func() {
		w.mu.Lock()
		if _, ok := w.subs[sub]; ok {
			delete(w.subs, sub)
			close(sub.ch)
		}
		w.mu.Unlock()
	}
	return sub.ch, cancel
}

// Run polls all watched endpoints until the context ends
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	w.pollAll(ctx)
	for {
		select {
		case <-ticker.C:
			w.pollAll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) pollAll(ctx context.Context) {
	w.mu.Lock()
	endpoints := make([]transport.Endpoint, 0, len(w.endpoints))
	for _, ep := range w.endpoints {
		endpoints = append(endpoints, ep)
	}
	w.mu.Unlock()

	// The queue serializes per endpoint anyway; polling sequentially
	// here keeps one slow device from piling up goroutines
	for _, ep := range endpoints {
		if ctx.Err() != nil {
			return
		}
		info, err := device.New(w.q, ep).SysInfo(ctx)
		if err != nil {
			logging.Debug("status poll failed",
				zap.String("endpoint", ep.Addr()),
				zap.Error(err),
			)
			continue
		}
		w.Observe(ep, info)
	}
}

// Observe feeds one freshly decoded status into the watcher: it diffs
// the watched fields against the endpoint's snapshot, replaces the
// snapshot, and notifies subscribers of each difference. The first
// observation of an endpoint establishes the baseline and emits
// nothing.
func (w *Watcher) Observe(ep transport.Endpoint, info *protocol.SysInfo) []Change {
	fields := snapshotFields(info, w.opts.Fields)
	now := time.Now()

	w.mu.Lock()
	prev, seen := w.snapshots[ep.Key()]
	w.snapshots[ep.Key()] = fields

	var changes []Change
	if seen {
		for _, field := range w.opts.Fields {
			oldV, newV := prev[field], fields[field]
			if oldV != newV {
				changes = append(changes, Change{
					Endpoint: ep,
					Field:    field,
					Old:      oldV,
					New:      newV,
					At:       now,
				})
			}
		}
	}

	// Deliver while still holding the lock so a concurrent Subscribe
	// cancel cannot close a channel mid-send. Sends never block: slow
	// subscribers lose changes instead of stalling the watcher.
	for _, change := range changes {
		for sub := range w.subs {
			select {
			case sub.ch <- change:
			default:
				logging.Warn("dropping change for slow subscriber",
					zap.String("field", change.Field))
			}
		}
	}
	w.mu.Unlock()

	for _, change := range changes {
		logging.Info("device state changed",
			zap.String("endpoint", change.Endpoint.Addr()),
			zap.String("field", change.Field),
			zap.Any("old", change.Old),
			zap.Any("new", change.New),
		)
	}
	return changes
}
