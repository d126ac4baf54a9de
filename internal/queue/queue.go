package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/kasalink/internal/logging"
	"github.com/muurk/kasalink/internal/protocol"
	"github.com/muurk/kasalink/internal/transport"
)

const (
	// DefaultTimeout is the per-attempt response deadline
	DefaultTimeout = 5 * time.Second

	// DefaultMaxRetries is how many extra attempts follow a retryable
	// failure before the error surfaces to the caller
	DefaultMaxRetries = 1
)

// Options control timeout and retry policy for a submitted command
type Options struct {
	// Timeout is the deadline for a single attempt
	Timeout time.Duration

	// MaxRetries is the number of additional attempts after the first.
	// Only timeouts and transport failures are retried; decode failures
	// and device err_codes are terminal.
	MaxRetries int
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	return o
}

type result struct {
	member json.RawMessage
	err    error
}

type job struct {
	ctx  context.Context
	req  protocol.Request
	opts Options
	done chan result
}

// endpointQueue owns one endpoint: a dedicated worker drains jobs in
// arrival order, so at most one command is ever in its encode/send/await
// window for that endpoint. The worker goroutine is the pending slot.
type endpointQueue struct {
	endpoint transport.Endpoint
	tr       transport.Transport
	jobs     chan *job
	quit     chan struct{}
	once     sync.Once
}

// Dispatcher serializes commands per device endpoint and applies the
// timeout and retry policy. Endpoints proceed independently; there is
// no global lock around command execution.
type Dispatcher struct {
	dial     transport.Dialer
	defaults Options

	mu        sync.Mutex
	endpoints map[string]*endpointQueue
	closed    bool
}

// New creates a dispatcher. A nil dialer uses the standard transports.
func New(dial transport.Dialer, defaults Options) *Dispatcher {
	if dial == nil {
		dial = transport.New
	}
	return &Dispatcher{
		dial:      dial,
		defaults:  defaults.withDefaults(),
		endpoints: make(map[string]*endpointQueue),
	}
}

// Submit runs one command against ep with the dispatcher's default
// policy and returns the parsed member payload.
func (d *Dispatcher) Submit(ctx context.Context, ep transport.Endpoint, req protocol.Request) (json.RawMessage, error) {
	return d.SubmitWith(ctx, ep, req, d.defaults)
}

// SubmitWith runs one command with explicit timeout/retry options.
// Commands for the same endpoint are executed strictly in submission
// order; a command never overtakes an earlier one.
func (d *Dispatcher) SubmitWith(ctx context.Context, ep transport.Endpoint, req protocol.Request, opts Options) (json.RawMessage, error) {
	q, err := d.queueFor(ep)
	if err != nil {
		return nil, err
	}

	j := &job{
		ctx:  ctx,
		req:  req,
		opts: opts.withDefaults(),
		done: make(chan result, 1),
	}

	select {
	case q.jobs <- j:
	case <-q.quit:
		return nil, fmt.Errorf("dispatcher closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-j.done:
		return res.member, res.err
	case <-ctx.Done():
		// The worker will notice the dead context and skip or abort the
		// job; the caller does not wait for it
		return nil, ctx.Err()
	}
}

// queueFor returns the per-endpoint queue, creating it and its worker
// on the first command for that endpoint
func (d *Dispatcher) queueFor(ep transport.Endpoint) (*endpointQueue, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, fmt.Errorf("dispatcher closed")
	}
	if q, ok := d.endpoints[ep.Key()]; ok {
		return q, nil
	}

	q := &endpointQueue{
		endpoint: ep,
		tr:       d.dial(ep),
		jobs:     make(chan *job, 16),
		quit:     make(chan struct{}),
	}
	d.endpoints[ep.Key()] = q
	go q.run()

	logging.Debug("endpoint queue created", zap.String("endpoint", ep.String()))
	return q, nil
}

// CloseEndpoint tears down the queue and transport for one endpoint.
// Subsequent commands recreate it.
func (d *Dispatcher) CloseEndpoint(ep transport.Endpoint) {
	d.mu.Lock()
	q, ok := d.endpoints[ep.Key()]
	if ok {
		delete(d.endpoints, ep.Key())
	}
	d.mu.Unlock()
	if ok {
		q.stop()
	}
}

// Close tears down all endpoint queues and their transports
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	queues := make([]*endpointQueue, 0, len(d.endpoints))
	for _, q := range d.endpoints {
		queues = append(queues, q)
	}
	d.endpoints = make(map[string]*endpointQueue)
	d.mu.Unlock()

	for _, q := range queues {
		q.stop()
	}
}

func (q *endpointQueue) stop() {
	q.once.Do(func() {
		close(q.quit)
		_ = q.tr.Close()
	})
}

// run is the endpoint worker loop: strict FIFO, one job at a time
func (q *endpointQueue) run() {
	for {
		select {
		case j := <-q.jobs:
			j.done <- q.execute(j)
		case <-q.quit:
			// Fail anything still parked in the channel
			for {
				select {
				case j := <-q.jobs:
					j.done <- result{err: fmt.Errorf("dispatcher closed")}
				default:
					return
				}
			}
		}
	}
}

// execute runs one command with its retry policy. Timeouts and
// transport failures consume a retry; decode failures and device
// err_codes surface immediately.
func (q *endpointQueue) execute(j *job) result {
	payload, err := j.req.Encode()
	if err != nil {
		return result{err: err}
	}

	attempts := j.opts.MaxRetries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if j.ctx.Err() != nil {
			return result{err: j.ctx.Err()}
		}

		start := time.Now()
		raw, err := q.roundTrip(j.ctx, payload, j.opts.Timeout)
		logging.LogExchange(q.endpoint.Addr(), j.req.Module, j.req.Member,
			time.Since(start).Milliseconds(), err)

		if err == nil {
			member, perr := protocol.ParseResponse(j.req, raw)
			if perr != nil {
				return result{err: perr}
			}
			return result{member: member}
		}

		lastErr = err
		if j.ctx.Err() != nil {
			// The caller's own context expired; its deadline is not
			// retry fuel
			return result{err: err}
		}
		if !protocol.IsRetryable(err) {
			return result{err: err}
		}
		if attempt < attempts {
			logging.Debug("retrying command",
				zap.String("endpoint", q.endpoint.Addr()),
				zap.Int("attempt", attempt),
				zap.Int("remaining", attempts-attempt),
			)
		}
	}
	return result{err: lastErr}
}

func (q *endpointQueue) roundTrip(ctx context.Context, payload []byte, timeout time.Duration) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return q.tr.RoundTrip(attemptCtx, payload)
}
